package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatusPaid is the only payment state that allows emission.
const PaymentStatusPaid = "paid"

// Sale is a merchant's order as read from the commerce database.
type Sale struct {
	ID              int64           `json:"id"`
	MerchantID      int64           `json:"user_id"`
	Customer        Customer        `json:"customer"`
	Items           []SaleItem      `json:"items"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	ShippingAmount  decimal.Decimal `json:"shipping_amount"`
	FinalAmount     decimal.Decimal `json:"final_amount"`
	PaymentStatus   string          `json:"payment_status"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	ShippingAddress *Address        `json:"shipping_address,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// IsPaid reports whether the sale is in the paid payment state.
func (s *Sale) IsPaid() bool {
	return s.PaymentStatus == PaymentStatusPaid
}

// DestinationAddress picks the shipment address, then the customer's first
// address. Returns nil when neither exists.
func (s *Sale) DestinationAddress() *Address {
	if s.ShippingAddress != nil {
		return s.ShippingAddress
	}
	if len(s.Customer.Addresses) > 0 {
		a := s.Customer.Addresses[0]
		return &a
	}
	return nil
}

// Customer is the buyer of a sale.
type Customer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Document  string    `json:"document,omitempty"`
	Addresses []Address `json:"addresses,omitempty"`
}

// SaleItem is a line of a sale with the product's SKU and name resolved.
type SaleItem struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	SKU         string          `json:"sku"`
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Total is quantity times unit price, unrounded.
func (i SaleItem) Total() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice)
}
