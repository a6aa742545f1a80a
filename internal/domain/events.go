package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// EventType is the tpEvento code of a fiscal event, plus the pseudo-type
// used for number range voiding.
type EventType string

const (
	EventCancellation EventType = "110111"
	EventCorrection   EventType = "110110"
	EventVoidRange    EventType = "inutilizacao"
)

// Description is the descEvento text.
func (t EventType) Description() string {
	switch t {
	case EventCancellation:
		return "Cancelamento"
	case EventCorrection:
		return "Carta de Correcao"
	case EventVoidRange:
		return "Inutilizacao"
	}
	return string(t)
}

// ============================================================
// Requests
// ============================================================

// ConsultRequest asks the authority for a document's current state.
type ConsultRequest struct {
	MerchantID int64  `json:"user_id"`
	AccessKey  string `json:"chave"`
}

func (r *ConsultRequest) Validate() error {
	if r.MerchantID <= 0 {
		return &ErrValidation{Field: "user_id", Message: "obrigatório"}
	}
	return validateAccessKey(r.AccessKey)
}

// CancelRequest cancels an authorized document.
type CancelRequest struct {
	MerchantID int64  `json:"user_id"`
	AccessKey  string `json:"chave"`
	Protocol   string `json:"protocolo"`
	Reason     string `json:"motivo"`
}

func (r *CancelRequest) Validate() error {
	if r.MerchantID <= 0 {
		return &ErrValidation{Field: "user_id", Message: "obrigatório"}
	}
	if err := validateAccessKey(r.AccessKey); err != nil {
		return err
	}
	return validateText("motivo", r.Reason, 15, 255)
}

// CorrectionRequest registers a correction letter (CC-e).
type CorrectionRequest struct {
	MerchantID int64  `json:"user_id"`
	AccessKey  string `json:"chave"`
	Correction string `json:"correcao"`
}

func (r *CorrectionRequest) Validate() error {
	if r.MerchantID <= 0 {
		return &ErrValidation{Field: "user_id", Message: "obrigatório"}
	}
	if err := validateAccessKey(r.AccessKey); err != nil {
		return err
	}
	return validateText("correcao", r.Correction, 15, 1000)
}

// VoidRangeRequest voids an unused range of document numbers.
type VoidRangeRequest struct {
	MerchantID int64  `json:"user_id"`
	Series     string `json:"serie"`
	First      int    `json:"numero_inicial"`
	Last       int    `json:"numero_final"`
	Reason     string `json:"motivo"`
}

func (r *VoidRangeRequest) Validate() error {
	if r.MerchantID <= 0 {
		return &ErrValidation{Field: "user_id", Message: "obrigatório"}
	}
	if !isSeries(r.Series) {
		return &ErrValidation{Field: "serie", Message: "deve ser numérica com até 3 dígitos"}
	}
	if r.First < 1 || r.First > 999999999 {
		return &ErrValidation{Field: "numero_inicial", Message: "deve estar entre 1 e 999999999"}
	}
	if r.Last < r.First || r.Last > 999999999 {
		return &ErrValidation{Field: "numero_final", Message: "deve ser maior ou igual ao numero_inicial"}
	}
	return validateText("motivo", r.Reason, 15, 255)
}

// RegistryRequest looks up a taxpayer in a state's registry.
type RegistryRequest struct {
	MerchantID int64  `json:"user_id"`
	State      string `json:"uf"`
	Document   string `json:"documento"`
}

func (r *RegistryRequest) Validate() error {
	if r.MerchantID <= 0 {
		return &ErrValidation{Field: "user_id", Message: "obrigatório"}
	}
	if len(r.State) != 2 {
		return &ErrValidation{Field: "uf", Message: "deve ter 2 caracteres"}
	}
	switch n := len(OnlyDigits(r.Document)); n {
	case 11, 14:
	default:
		return &ErrValidation{Field: "documento", Message: "CPF ou CNPJ inválido"}
	}
	return nil
}

func validateAccessKey(key string) error {
	if len(key) != 44 || OnlyDigits(key) != key {
		return &ErrValidation{Field: "chave", Message: "deve ter 44 dígitos"}
	}
	return nil
}

func validateText(field, value string, minLen, maxLen int) error {
	n := utf8.RuneCountInString(strings.TrimSpace(value))
	if n < minLen || n > maxLen {
		return &ErrValidation{Field: field, Message: fmt.Sprintf("deve ter entre %d e %d caracteres", minLen, maxLen)}
	}
	return nil
}

// ============================================================
// Authority answers
// ============================================================

// EventReceipt is one retEvento.
type EventReceipt struct {
	Status       AuthorityStatus
	AccessKey    string
	Type         EventType
	Sequence     int
	Protocol     string
	RegisteredAt string
	Raw          []byte
}

// EventResponse is the answer to an event batch.
type EventResponse struct {
	Status AuthorityStatus
	Events []EventReceipt
	Raw    []byte
}

// VoidResponse is the answer to a number range voiding.
type VoidResponse struct {
	Status     AuthorityStatus
	Protocol   string
	ReceivedAt string
	Raw        []byte
}

// ProtocolQueryResponse is the answer to a document state query.
type ProtocolQueryResponse struct {
	Status    AuthorityStatus
	AccessKey string
	Protocol  *Protocol
	Raw       []byte
}

// RegistryEntry is one infCad of a registry lookup.
type RegistryEntry struct {
	StateRegistration string  `json:"ie,omitempty"`
	CNPJ              string  `json:"cnpj,omitempty"`
	CPF               string  `json:"cpf,omitempty"`
	State             string  `json:"uf"`
	Situation         string  `json:"situacao"`
	Name              string  `json:"nome"`
	TradeName         string  `json:"nome_fantasia,omitempty"`
	Regime            string  `json:"regime_apuracao,omitempty"`
	CNAE              string  `json:"cnae,omitempty"`
	Address           Address `json:"endereco"`
}

// RegistryResult is the answer to a registry lookup.
type RegistryResult struct {
	Status  AuthorityStatus `json:"status"`
	Entries []RegistryEntry `json:"cadastros"`
}

// ============================================================
// Results / ledger
// ============================================================

// EventResult is returned by cancellation, correction and voiding.
type EventResult struct {
	Code         int    `json:"cstat"`
	Message      string `json:"xmotivo"`
	Protocol     string `json:"protocolo,omitempty"`
	RegisteredAt string `json:"data_registro,omitempty"`
	Sequence     int    `json:"sequencia,omitempty"`
	XML          string `json:"xml,omitempty"`
}

// ConsultResult is returned by the document state query.
type ConsultResult struct {
	AccessKey    string `json:"chave"`
	Code         int    `json:"cstat"`
	Message      string `json:"xmotivo"`
	Protocol     string `json:"protocolo,omitempty"`
	AuthorizedAt string `json:"data_autorizacao,omitempty"`
}

// FiscalEvent is a ledger entry for an accepted event or voiding.
type FiscalEvent struct {
	ID            string      `json:"id"`
	MerchantID    int64       `json:"user_id"`
	ProfileID     int64       `json:"fiscal_data_id"`
	Type          EventType   `json:"tipo"`
	AccessKey     string      `json:"chave_acesso,omitempty"`
	Sequence      int         `json:"sequencia"`
	Series        string      `json:"serie,omitempty"`
	FirstNumber   int         `json:"numero_inicial,omitempty"`
	LastNumber    int         `json:"numero_final,omitempty"`
	Justification string      `json:"justificativa"`
	Protocol      string      `json:"protocolo"`
	Code          int         `json:"cstat"`
	Message       string      `json:"xmotivo"`
	Environment   Environment `json:"ambiente"`
	XML           string      `json:"xml"`
	CreatedAt     time.Time   `json:"created_at"`
}
