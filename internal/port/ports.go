// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
)

// SaleFetcher retrieves a sale with its customer, items and shipment address.
type SaleFetcher interface {
	GetSale(ctx context.Context, saleID int64) (*domain.Sale, error)
}

// FiscalProfileStore reads and updates merchants' fiscal profiles.
type FiscalProfileStore interface {
	// GetFiscalProfile returns the merchant's profile regardless of its
	// active flag, preferring the active one.
	GetFiscalProfile(ctx context.Context, merchantID int64) (*domain.FiscalProfile, error)
	GetActiveFiscalProfile(ctx context.Context, merchantID int64) (*domain.FiscalProfile, error)
	UpdateCertificate(ctx context.Context, profileID int64, upd domain.CertificateUpdate) error
}

// DocumentLedger is the append-only record of issued documents.
type DocumentLedger interface {
	// MaxNumber returns the highest number recorded for the sequence, or 0.
	MaxNumber(ctx context.Context, merchantID int64, docType domain.DocumentType, series string) (int, error)
	CreateIssuedDocument(ctx context.Context, doc *domain.IssuedDocument) (*domain.IssuedDocument, error)
	GetIssuedDocumentByKey(ctx context.Context, merchantID int64, accessKey string) (*domain.IssuedDocument, error)
}

// EventLedger records accepted fiscal events.
type EventLedger interface {
	CreateFiscalEvent(ctx context.Context, ev *domain.FiscalEvent) (*domain.FiscalEvent, error)
	// CountEvents counts accepted events of a type for an access key.
	CountEvents(ctx context.Context, accessKey string, eventType domain.EventType) (int, error)
}

// Store is everything a persistence backend provides.
type Store interface {
	SaleFetcher
	FiscalProfileStore
	DocumentLedger
	EventLedger
	Ping(ctx context.Context) error
}

// Authority is the tax authority web service client.
type Authority interface {
	SubmitBatch(ctx context.Context, cred *domain.Credential, target domain.AuthorityTarget, batchID string, signedNFe []byte) (*domain.BatchResponse, error)
	QueryReceipt(ctx context.Context, cred *domain.Credential, target domain.AuthorityTarget, receipt string) (*domain.BatchResponse, error)
	QueryProtocol(ctx context.Context, cred *domain.Credential, target domain.AuthorityTarget, accessKey string) (*domain.ProtocolQueryResponse, error)
	SendEvent(ctx context.Context, cred *domain.Credential, target domain.AuthorityTarget, batchID string, signedEvent []byte) (*domain.EventResponse, error)
	VoidRange(ctx context.Context, cred *domain.Credential, target domain.AuthorityTarget, signedVoid []byte) (*domain.VoidResponse, error)
	LookupRegistry(ctx context.Context, cred *domain.Credential, target domain.AuthorityTarget, document string) (*domain.RegistryResult, error)
}

// Signer produces enveloped XML-DSig signatures over a document element.
type Signer interface {
	Sign(xmlDoc []byte, elementTag string, cred *domain.Credential) ([]byte, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
