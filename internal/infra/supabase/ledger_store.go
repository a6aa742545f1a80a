package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Issued documents (notas_fiscais, append-only)
// ============================================================

type notaFiscalRow struct {
	ID               string          `json:"id"`
	MerchantID       int64           `json:"user_id"`
	SaleID           int64           `json:"sale_id"`
	ProfileID        int64           `json:"fiscal_data_id"`
	Type             string          `json:"tipo"`
	Number           int             `json:"numero"`
	Series           string          `json:"serie"`
	AccessKey        string          `json:"chave_acesso"`
	Protocol         string          `json:"protocolo,omitempty"`
	Receipt          string          `json:"recibo,omitempty"`
	Status           string          `json:"status"`
	Code             int             `json:"cstat"`
	Message          string          `json:"mensagem_sefaz,omitempty"`
	Environment      int             `json:"ambiente"`
	Provider         string          `json:"provedor_nome"`
	IssuedAt         time.Time       `json:"data_emissao"`
	AuthorizedAt     *time.Time      `json:"data_autorizacao,omitempty"`
	TotalAmount      decimal.Decimal `json:"valor_total"`
	ProductsAmount   decimal.Decimal `json:"valor_produtos"`
	ShippingAmount   decimal.Decimal `json:"valor_frete"`
	DiscountAmount   decimal.Decimal `json:"valor_desconto"`
	CustomerName     string          `json:"cliente_nome,omitempty"`
	CustomerDocument string          `json:"cliente_documento,omitempty"`
	CustomerEmail    string          `json:"cliente_email,omitempty"`
	CustomerPhone    string          `json:"cliente_telefone,omitempty"`
	CustomerAddress  string          `json:"cliente_endereco,omitempty"`
	Nature           string          `json:"natureza"`
	CFOP             string          `json:"cfop"`
	Notes            string          `json:"observacoes,omitempty"`
	Items            json.RawMessage `json:"itens_json"`
	XML              string          `json:"xml_assinado"`
	CreatedAt        time.Time       `json:"created_at"`
}

func notaFromDomain(d *domain.IssuedDocument) notaFiscalRow {
	row := notaFiscalRow{
		ID:               d.ID,
		MerchantID:       d.MerchantID,
		SaleID:           d.SaleID,
		ProfileID:        d.ProfileID,
		Type:             string(d.Type),
		Number:           d.Number,
		Series:           d.Series,
		AccessKey:        d.AccessKey,
		Protocol:         d.Protocol,
		Receipt:          d.Receipt,
		Status:           string(d.Status),
		Code:             d.AuthorityCode,
		Message:          d.AuthorityMessage,
		Environment:      int(d.Environment),
		Provider:         d.Provider,
		IssuedAt:         d.IssuedAt,
		AuthorizedAt:     d.AuthorizedAt,
		TotalAmount:      d.TotalAmount,
		ProductsAmount:   d.ProductsAmount,
		ShippingAmount:   d.ShippingAmount,
		DiscountAmount:   d.DiscountAmount,
		CustomerName:     d.CustomerName,
		CustomerDocument: d.CustomerDocument,
		CustomerEmail:    d.CustomerEmail,
		CustomerPhone:    d.CustomerPhone,
		CustomerAddress:  d.CustomerAddress,
		Nature:           d.Nature,
		CFOP:             d.CFOP,
		Notes:            d.Notes,
		Items:            d.Items,
		XML:              d.XML,
		CreatedAt:        d.CreatedAt,
	}
	if len(row.Items) == 0 {
		row.Items = json.RawMessage("[]")
	}
	return row
}

func (r *notaFiscalRow) toDomain() *domain.IssuedDocument {
	return &domain.IssuedDocument{
		ID:               r.ID,
		MerchantID:       r.MerchantID,
		SaleID:           r.SaleID,
		ProfileID:        r.ProfileID,
		Type:             domain.DocumentType(r.Type),
		Number:           r.Number,
		Series:           r.Series,
		AccessKey:        r.AccessKey,
		Protocol:         r.Protocol,
		Receipt:          r.Receipt,
		Status:           domain.DocumentStatus(r.Status),
		AuthorityCode:    r.Code,
		AuthorityMessage: r.Message,
		Environment:      domain.ParseEnvironment(r.Environment),
		Provider:         r.Provider,
		IssuedAt:         r.IssuedAt,
		AuthorizedAt:     r.AuthorizedAt,
		TotalAmount:      r.TotalAmount,
		ProductsAmount:   r.ProductsAmount,
		ShippingAmount:   r.ShippingAmount,
		DiscountAmount:   r.DiscountAmount,
		CustomerName:     r.CustomerName,
		CustomerDocument: r.CustomerDocument,
		CustomerEmail:    r.CustomerEmail,
		CustomerPhone:    r.CustomerPhone,
		CustomerAddress:  r.CustomerAddress,
		Nature:           r.Nature,
		CFOP:             r.CFOP,
		Notes:            r.Notes,
		Items:            r.Items,
		XML:              r.XML,
		CreatedAt:        r.CreatedAt,
	}
}

// MaxNumber returns the highest number of a sequence held by a non-rejected
// document, or 0.
func (c *Client) MaxNumber(ctx context.Context, merchantID int64, docType domain.DocumentType, series string) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.MaxNumber")
	defer span.End()

	path := fmt.Sprintf("notas_fiscais?select=numero&%s&%s&%s&%s&order=numero.desc&limit=1",
		eq("user_id", merchantID), eq("tipo", docType), eq("serie", series), neq("status", domain.StatusRejected))
	body, err := c.get(ctx, "notas_fiscais", path)
	if err != nil {
		return 0, err
	}
	var rows []struct {
		Number int `json:"numero"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, fmt.Errorf("decode notas_fiscais: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Number, nil
}

// CreateIssuedDocument inserts a ledger entry. The table's partial unique
// index answers 409 when a non-rejected document already holds the number,
// which maps to ErrDuplicate.
func (c *Client) CreateIssuedDocument(ctx context.Context, doc *domain.IssuedDocument) (*domain.IssuedDocument, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateIssuedDocument")
	defer span.End()
	span.SetAttributes(attribute.String("nfe.chave", doc.AccessKey))

	if _, err := c.doPost(ctx, "notas_fiscais", "notas_fiscais", notaFromDomain(doc)); err != nil {
		if isConflict(err) {
			return nil, &domain.ErrDuplicate{Key: fmt.Sprintf("%s %s/%d", doc.Type, doc.Series, doc.Number)}
		}
		c.logger.Error("supabase: insert issued document failed", zap.String("chave", doc.AccessKey), zap.Error(err))
		return nil, err
	}
	return doc, nil
}

// GetIssuedDocumentByKey returns the latest ledger entry for an access key.
func (c *Client) GetIssuedDocumentByKey(ctx context.Context, merchantID int64, accessKey string) (*domain.IssuedDocument, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetIssuedDocumentByKey")
	defer span.End()

	path := fmt.Sprintf("notas_fiscais?%s&%s&order=created_at.desc&limit=1", eq("user_id", merchantID), eq("chave_acesso", accessKey))
	body, err := c.get(ctx, "notas_fiscais", path)
	if err != nil {
		return nil, err
	}
	var rows []notaFiscalRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode notas_fiscais: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "nota fiscal", ID: accessKey}
	}
	return rows[0].toDomain(), nil
}

// ============================================================
// Fiscal events (eventos_fiscais)
// ============================================================

type eventoRow struct {
	ID            string    `json:"id"`
	MerchantID    int64     `json:"user_id"`
	ProfileID     int64     `json:"fiscal_data_id"`
	Type          string    `json:"tipo"`
	AccessKey     *string   `json:"chave_acesso"`
	Sequence      int       `json:"sequencia"`
	Series        *string   `json:"serie"`
	FirstNumber   *int      `json:"numero_inicial"`
	LastNumber    *int      `json:"numero_final"`
	Justification string    `json:"justificativa"`
	Protocol      string    `json:"protocolo"`
	Code          int       `json:"cstat"`
	Message       string    `json:"xmotivo"`
	Environment   int       `json:"ambiente"`
	XML           string    `json:"xml"`
	CreatedAt     time.Time `json:"created_at"`
}

func eventoFromDomain(ev *domain.FiscalEvent) eventoRow {
	row := eventoRow{
		ID:            ev.ID,
		MerchantID:    ev.MerchantID,
		ProfileID:     ev.ProfileID,
		Type:          string(ev.Type),
		Sequence:      ev.Sequence,
		Justification: ev.Justification,
		Protocol:      ev.Protocol,
		Code:          ev.Code,
		Message:       ev.Message,
		Environment:   int(ev.Environment),
		XML:           ev.XML,
		CreatedAt:     ev.CreatedAt,
	}
	if ev.AccessKey != "" {
		row.AccessKey = &ev.AccessKey
	}
	if ev.Series != "" {
		row.Series = &ev.Series
	}
	if ev.FirstNumber > 0 {
		first, last := ev.FirstNumber, ev.LastNumber
		row.FirstNumber, row.LastNumber = &first, &last
	}
	return row
}

// CreateFiscalEvent inserts an accepted event.
func (c *Client) CreateFiscalEvent(ctx context.Context, ev *domain.FiscalEvent) (*domain.FiscalEvent, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateFiscalEvent")
	defer span.End()

	if _, err := c.doPost(ctx, "eventos_fiscais", "eventos_fiscais", eventoFromDomain(ev)); err != nil {
		c.logger.Error("supabase: insert fiscal event failed",
			zap.String("tipo", string(ev.Type)),
			zap.String("chave", ev.AccessKey),
			zap.Error(err),
		)
		return nil, err
	}
	return ev, nil
}

// CountEvents counts accepted events of a type for an access key.
func (c *Client) CountEvents(ctx context.Context, accessKey string, eventType domain.EventType) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CountEvents")
	defer span.End()

	path := fmt.Sprintf("eventos_fiscais?select=id&%s&%s&cstat=%s",
		eq("chave_acesso", accessKey), eq("tipo", eventType), url.QueryEscape("in.(135,136,155)"))
	body, err := c.get(ctx, "eventos_fiscais", path)
	if err != nil {
		return 0, err
	}
	var rows []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, fmt.Errorf("decode eventos_fiscais: %w", err)
	}
	return len(rows), nil
}
