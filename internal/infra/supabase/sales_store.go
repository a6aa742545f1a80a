package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Sales (read model, resolved with resource embedding)
// ============================================================

const saleSelect = "select=id,user_id,total_amount,discount_amount,shipping_amount,final_amount," +
	"payment_status,payment_method,created_at," +
	"customer:customers(id,name,email,phone,document)," +
	"sale_items(id,product_id,quantity,unit_price,product:products(sku,name))," +
	"shippings(id,shipping_address:shipping_addresses(" + addressSelect + "))" +
	"&sale_items.order=id&shippings.order=id.desc&shippings.limit=1"

const addressSelect = "street,number,complement,neighborhood,city,state,zip_code"

type saleRow struct {
	ID             int64               `json:"id"`
	MerchantID     int64               `json:"user_id"`
	TotalAmount    decimal.Decimal     `json:"total_amount"`
	DiscountAmount decimal.NullDecimal `json:"discount_amount"`
	ShippingAmount decimal.NullDecimal `json:"shipping_amount"`
	FinalAmount    decimal.Decimal     `json:"final_amount"`
	PaymentStatus  string              `json:"payment_status"`
	PaymentMethod  string              `json:"payment_method"`
	CreatedAt      time.Time           `json:"created_at"`
	Customer       *struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		Document string `json:"document"`
	} `json:"customer"`
	Items []struct {
		ID        int64           `json:"id"`
		ProductID int64           `json:"product_id"`
		Quantity  decimal.Decimal `json:"quantity"`
		UnitPrice decimal.Decimal `json:"unit_price"`
		Product   *struct {
			SKU  string `json:"sku"`
			Name string `json:"name"`
		} `json:"product"`
	} `json:"sale_items"`
	Shippings []struct {
		Address *addressRow `json:"shipping_address"`
	} `json:"shippings"`
}

type addressRow struct {
	Street       string `json:"street"`
	Number       string `json:"number"`
	Complement   string `json:"complement"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
	ZipCode      string `json:"zip_code"`
}

func (a addressRow) toDomain() domain.Address {
	return domain.Address{
		Street:       a.Street,
		Number:       a.Number,
		Complement:   a.Complement,
		Neighborhood: a.Neighborhood,
		City:         a.City,
		State:        a.State,
		ZipCode:      a.ZipCode,
	}
}

// GetSale loads a sale with its customer, items and addresses.
func (c *Client) GetSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetSale")
	defer span.End()
	span.SetAttributes(attribute.Int64("sale.id", saleID))

	body, err := c.get(ctx, "sales", fmt.Sprintf("sales?%s&%s", eq("id", saleID), saleSelect))
	if err != nil {
		return nil, err
	}
	var rows []saleRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode sales: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "venda", ID: strconv.FormatInt(saleID, 10)}
	}
	row := rows[0]

	sale := &domain.Sale{
		ID:             row.ID,
		MerchantID:     row.MerchantID,
		TotalAmount:    row.TotalAmount,
		DiscountAmount: row.DiscountAmount.Decimal,
		ShippingAmount: row.ShippingAmount.Decimal,
		FinalAmount:    row.FinalAmount,
		PaymentStatus:  row.PaymentStatus,
		PaymentMethod:  row.PaymentMethod,
		CreatedAt:      row.CreatedAt,
	}
	if row.Customer != nil {
		sale.Customer = domain.Customer{
			ID:       row.Customer.ID,
			Name:     row.Customer.Name,
			Email:    row.Customer.Email,
			Phone:    row.Customer.Phone,
			Document: row.Customer.Document,
		}
	}
	for _, it := range row.Items {
		item := domain.SaleItem{
			ID:        it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
		if it.Product != nil {
			item.SKU = it.Product.SKU
			item.ProductName = it.Product.Name
		}
		sale.Items = append(sale.Items, item)
	}
	if len(row.Shippings) > 0 && row.Shippings[0].Address != nil {
		addr := row.Shippings[0].Address.toDomain()
		sale.ShippingAddress = &addr
	}

	if sale.Customer.ID != 0 {
		addrs, err := c.customerAddresses(ctx, sale.Customer.ID)
		if err != nil {
			return nil, err
		}
		sale.Customer.Addresses = addrs
	}
	return sale, nil
}

func (c *Client) customerAddresses(ctx context.Context, customerID int64) ([]domain.Address, error) {
	path := fmt.Sprintf("shipping_addresses?%s&select=%s&order=id", eq("customer_id", customerID), addressSelect)
	body, err := c.get(ctx, "shipping_addresses", path)
	if err != nil {
		return nil, err
	}
	var rows []addressRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode shipping_addresses: %w", err)
	}
	out := make([]domain.Address, 0, len(rows))
	for _, a := range rows {
		out = append(out, a.toDomain())
	}
	return out, nil
}
