package domain

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// DocumentType distinguishes the numbering sequences kept per merchant.
type DocumentType string

const (
	DocumentNFe  DocumentType = "NFe"
	DocumentNFSe DocumentType = "NFSe"
)

// DocumentStatus is the ledger status of an issued document.
type DocumentStatus string

const (
	StatusAuthorized DocumentStatus = "autorizada"
	StatusRejected   DocumentStatus = "rejeitada"
	StatusPending    DocumentStatus = "pendente"
	StatusCancelled  DocumentStatus = "cancelada"
	StatusDenied     DocumentStatus = "denegada"
)

// HoldsNumber reports whether a document in this status keeps its number.
// A rejected document leaves the number free for a corrected resubmission.
func (s DocumentStatus) HoldsNumber() bool { return s != StatusRejected }

// IsDenial reports whether a protNFe cStat denies the use of the NFe. A
// denied document is kept by the authority and its number is consumed.
func IsDenial(code int) bool {
	switch code {
	case 110, 301, 302, 303:
		return true
	}
	return false
}

// IsDuplicity reports whether a rejection says the number is already in
// use at the authority.
func IsDuplicity(code int) bool {
	return code == 204 || code == 539
}

// ============================================================
// Emission request / result
// ============================================================

// EmissionRequest is the body of POST /v1/nfe/emitir.
type EmissionRequest struct {
	SaleID int64      `json:"sale_id"`
	Config NoteConfig `json:"nota_config"`

	// MerchantID, when set, must match the sale owner.
	MerchantID int64 `json:"-"`
}

// NoteConfig is the caller's per-document configuration.
type NoteConfig struct {
	Series string `json:"serie,omitempty"`
	Number *int   `json:"numero,omitempty"`
	Nature string `json:"natureza"`
	CFOP   string `json:"cfop"`
	Notes  string `json:"observacoes,omitempty"`
}

// Validate checks the request shape before any lookup.
func (r *EmissionRequest) Validate() error {
	if r.SaleID <= 0 {
		return &ErrValidation{Field: "sale_id", Message: "obrigatório"}
	}
	if strings.TrimSpace(r.Config.Nature) == "" {
		return &ErrValidation{Field: "nota_config.natureza", Message: "obrigatório"}
	}
	if utf8.RuneCountInString(r.Config.Nature) > 60 {
		return &ErrValidation{Field: "nota_config.natureza", Message: "máximo de 60 caracteres"}
	}
	if strings.TrimSpace(r.Config.CFOP) == "" {
		return &ErrValidation{Field: "nota_config.cfop", Message: "obrigatório"}
	}
	if r.Config.Number != nil && (*r.Config.Number < 1 || *r.Config.Number > 999999999) {
		return &ErrValidation{Field: "nota_config.numero", Message: "deve estar entre 1 e 999999999"}
	}
	if s := r.Config.Series; s != "" && !isSeries(s) {
		return &ErrValidation{Field: "nota_config.serie", Message: "deve ser numérica com até 3 dígitos"}
	}
	if utf8.RuneCountInString(r.Config.Notes) > 5000 {
		return &ErrValidation{Field: "nota_config.observacoes", Message: "máximo de 5000 caracteres"}
	}
	return nil
}

func isSeries(s string) bool {
	return len(s) >= 1 && len(s) <= 3 && OnlyDigits(s) == s
}

// EmissionResult is returned for an authorized document.
type EmissionResult struct {
	DocumentID   string         `json:"nota_fiscal_id"`
	AccessKey    string         `json:"chave"`
	Protocol     string         `json:"protocolo"`
	AuthorizedAt string         `json:"data_autorizacao"`
	Number       int            `json:"numero"`
	Series       string         `json:"serie"`
	Status       DocumentStatus `json:"status"`
	XML          string         `json:"xml"`
}

// ============================================================
// Authority protocol / transmission outcome
// ============================================================

// AuthorityTarget selects the authority endpoints for a call.
type AuthorityTarget struct {
	State       string
	Environment Environment
}

// AuthorityStatus is a cStat / xMotivo pair.
type AuthorityStatus struct {
	Code    int    `json:"cstat"`
	Message string `json:"xmotivo"`
}

// Protocol is the authority's decision record for one document (protNFe).
type Protocol struct {
	AccessKey   string
	Number      string
	ReceivedAt  string
	DigestValue string
	Status      AuthorityStatus

	// Raw is the complete protNFe element exactly as received.
	Raw []byte
}

// BatchResponse is the answer to a batch submission or a receipt query.
type BatchResponse struct {
	Status     AuthorityStatus
	Receipt    string
	ReceivedAt string
	Protocol   *Protocol
	Raw        []byte
}

// OutcomeKind tags a TransmissionOutcome.
type OutcomeKind int

const (
	OutcomeAuthorized OutcomeKind = iota + 1
	OutcomeRejected
	OutcomePendingReceipt
	OutcomeAsyncTimeout
	OutcomeTransportFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAuthorized:
		return "authorized"
	case OutcomeRejected:
		return "rejected"
	case OutcomePendingReceipt:
		return "pending_receipt"
	case OutcomeAsyncTimeout:
		return "async_timeout"
	case OutcomeTransportFailure:
		return "transport_failure"
	}
	return "unknown"
}

// TransmissionOutcome is the resolved result of sending one signed document.
type TransmissionOutcome struct {
	Kind     OutcomeKind
	Protocol *Protocol
	Status   AuthorityStatus
	Receipt  string
	Err      error
}

// ============================================================
// Ledger
// ============================================================

// IssuedDocument is an immutable ledger entry for a transmitted document.
type IssuedDocument struct {
	ID               string          `json:"id"`
	MerchantID       int64           `json:"user_id"`
	SaleID           int64           `json:"sale_id"`
	ProfileID        int64           `json:"fiscal_data_id"`
	Type             DocumentType    `json:"tipo"`
	Number           int             `json:"numero"`
	Series           string          `json:"serie"`
	AccessKey        string          `json:"chave_acesso"`
	Protocol         string          `json:"protocolo,omitempty"`
	Receipt          string          `json:"recibo,omitempty"`
	Status           DocumentStatus  `json:"status"`
	AuthorityCode    int             `json:"cstat"`
	AuthorityMessage string          `json:"xmotivo"`
	Environment      Environment     `json:"ambiente"`
	Provider         string          `json:"provedor"`
	IssuedAt         time.Time       `json:"data_emissao"`
	AuthorizedAt     *time.Time      `json:"data_autorizacao,omitempty"`
	TotalAmount      decimal.Decimal `json:"valor_total"`
	ProductsAmount   decimal.Decimal `json:"valor_produtos"`
	ShippingAmount   decimal.Decimal `json:"valor_frete"`
	DiscountAmount   decimal.Decimal `json:"valor_desconto"`
	CustomerName     string          `json:"cliente_nome"`
	CustomerDocument string          `json:"cliente_documento,omitempty"`
	CustomerEmail    string          `json:"cliente_email,omitempty"`
	CustomerPhone    string          `json:"cliente_telefone,omitempty"`
	CustomerAddress  string          `json:"cliente_endereco,omitempty"`
	Nature           string          `json:"natureza_operacao"`
	CFOP             string          `json:"cfop"`
	Notes            string          `json:"observacoes,omitempty"`
	Items            json.RawMessage `json:"itens"`
	XML              string          `json:"xml"`
	CreatedAt        time.Time       `json:"created_at"`
}
