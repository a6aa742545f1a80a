package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/boddenberg/livefy-nfe-go/internal/nfe"
	"github.com/boddenberg/livefy-nfe-go/internal/port"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProviderSEFAZ is the provedor recorded for documents sent straight to the
// state authority.
const ProviderSEFAZ = "sefaz"

// RecordInput is everything captured about one transmitted document.
type RecordInput struct {
	Outcome     *domain.TransmissionOutcome
	Sale        *domain.Sale
	Profile     *domain.FiscalProfile
	Config      domain.NoteConfig
	Series      string
	Number      int
	Environment domain.Environment
	Document    *nfe.Document
	XML         []byte
}

// itemSnapshot is the frozen view of a sale line stored with the document.
type itemSnapshot struct {
	ProductID  int64  `json:"product_id"`
	SKU        string `json:"sku"`
	Name       string `json:"nome"`
	Quantity   string `json:"quantidade"`
	UnitPrice  string `json:"valor_unitario"`
	TotalPrice string `json:"valor_total"`
}

// EmissionRecorder writes ledger entries. Entries are never updated.
type EmissionRecorder struct {
	ledger port.DocumentLedger
	now    func() time.Time
	logger *zap.Logger
}

// NewEmissionRecorder creates a recorder over ledger.
func NewEmissionRecorder(ledger port.DocumentLedger, logger *zap.Logger) *EmissionRecorder {
	return &EmissionRecorder{ledger: ledger, now: time.Now, logger: logger}
}

// Persist records the outcome. Only authorized, rejected and async timeout
// outcomes are recordable.
func (r *EmissionRecorder) Persist(ctx context.Context, in RecordInput) (*domain.IssuedDocument, error) {
	status, err := recordStatus(in.Outcome)
	if err != nil {
		return nil, err
	}

	items, err := snapshotItems(in.Sale.Items)
	if err != nil {
		return nil, fmt.Errorf("snapshot items: %w", err)
	}

	doc := &domain.IssuedDocument{
		ID:               uuid.NewString(),
		MerchantID:       in.Sale.MerchantID,
		SaleID:           in.Sale.ID,
		ProfileID:        in.Profile.ID,
		Type:             domain.DocumentNFe,
		Number:           in.Number,
		Series:           in.Series,
		AccessKey:        in.Document.AccessKey,
		Receipt:          in.Outcome.Receipt,
		Status:           status,
		AuthorityCode:    in.Outcome.Status.Code,
		AuthorityMessage: in.Outcome.Status.Message,
		Environment:      in.Environment,
		Provider:         ProviderSEFAZ,
		IssuedAt:         in.Document.IssuedAt,
		TotalAmount:      in.Sale.FinalAmount,
		ProductsAmount:   in.Sale.TotalAmount,
		ShippingAmount:   in.Sale.ShippingAmount,
		DiscountAmount:   in.Sale.DiscountAmount,
		CustomerName:     in.Document.Recipient.Name,
		CustomerDocument: in.Document.Recipient.Document,
		CustomerEmail:    in.Document.Recipient.Email,
		CustomerPhone:    in.Document.Recipient.Phone,
		CustomerAddress:  in.Document.Recipient.Address,
		Nature:           in.Config.Nature,
		CFOP:             in.Config.CFOP,
		Notes:            in.Config.Notes,
		Items:            items,
		XML:              string(in.XML),
		CreatedAt:        r.now(),
	}
	if p := in.Outcome.Protocol; p != nil && status == domain.StatusAuthorized {
		doc.Protocol = p.Number
		at := r.authorizedAt(p.ReceivedAt)
		doc.AuthorizedAt = &at
	}

	saved, err := r.ledger.CreateIssuedDocument(ctx, doc)
	if err != nil {
		r.logger.Error("failed to record issued document",
			zap.Int64("sale_id", doc.SaleID),
			zap.String("chave", doc.AccessKey),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record document: %w", err)
	}

	r.logger.Info("issued document recorded",
		zap.String("id", saved.ID),
		zap.Int64("sale_id", saved.SaleID),
		zap.Int("numero", saved.Number),
		zap.String("serie", saved.Series),
		zap.String("status", string(saved.Status)),
	)
	return saved, nil
}

func recordStatus(out *domain.TransmissionOutcome) (domain.DocumentStatus, error) {
	if out == nil {
		return "", fmt.Errorf("record document: missing outcome")
	}
	switch out.Kind {
	case domain.OutcomeAuthorized:
		return domain.StatusAuthorized, nil
	case domain.OutcomeRejected:
		if domain.IsDenial(out.Status.Code) {
			return domain.StatusDenied, nil
		}
		return domain.StatusRejected, nil
	case domain.OutcomeAsyncTimeout:
		return domain.StatusPending, nil
	}
	return "", fmt.Errorf("record document: outcome %s is not recordable", out.Kind)
}

func snapshotItems(items []domain.SaleItem) (json.RawMessage, error) {
	snap := make([]itemSnapshot, 0, len(items))
	for _, it := range items {
		snap = append(snap, itemSnapshot{
			ProductID:  it.ProductID,
			SKU:        it.SKU,
			Name:       it.ProductName,
			Quantity:   it.Quantity.String(),
			UnitPrice:  it.UnitPrice.StringFixed(2),
			TotalPrice: it.Total().StringFixed(2),
		})
	}
	return json.Marshal(snap)
}

// authorizedAt parses dhRecbto, falling back to the recording time.
func (r *EmissionRecorder) authorizedAt(received string) time.Time {
	if t, err := time.Parse(time.RFC3339, received); err == nil {
		return t
	}
	return r.now()
}
