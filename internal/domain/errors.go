package domain

import "fmt"

// Error types for consistent error handling across the NFe API.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates missing or malformed caller input.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrPrecondition indicates the stored state does not allow the operation
// (unpaid sale, no active fiscal profile, no certificate configured).
type ErrPrecondition struct {
	Condition string
}

func (e *ErrPrecondition) Error() string {
	return e.Condition
}

// CredentialReason classifies certificate failures.
type CredentialReason string

const (
	CredentialTooLarge         CredentialReason = "too_large"
	CredentialBadExtension     CredentialReason = "bad_extension"
	CredentialInvalid          CredentialReason = "invalid"
	CredentialWrongPassword    CredentialReason = "wrong_password"
	CredentialUnsupported      CredentialReason = "unsupported"
	CredentialExpired          CredentialReason = "expired"
	CredentialNotYetValid      CredentialReason = "not_yet_valid"
	CredentialMissingFile      CredentialReason = "missing_file"
	CredentialStorageFailure   CredentialReason = "storage_failure"
	CredentialPasswordUnsealed CredentialReason = "password_unsealed"
)

// ErrCredential indicates a certificate container problem.
type ErrCredential struct {
	Reason  CredentialReason
	Message string
	Err     error
}

func (e *ErrCredential) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ErrCredential) Unwrap() error {
	return e.Err
}

// ErrAuthorityRejection carries the tax authority's own status code and reason.
type ErrAuthorityRejection struct {
	Code    int
	Message string
}

func (e *ErrAuthorityRejection) Error() string {
	return fmt.Sprintf("NFe rejeitada: %d - %s", e.Code, e.Message)
}

// ErrAuthorityStatus indicates the authority answered with a status the
// flow does not know how to continue from.
type ErrAuthorityStatus struct {
	Operation string
	Code      int
	Message   string
}

func (e *ErrAuthorityStatus) Error() string {
	return fmt.Sprintf("status inesperado da SEFAZ em %s: %d - %s", e.Operation, e.Code, e.Message)
}

// ErrAuthorityTransport indicates the authority could not be reached or
// answered with something that is not a parseable SOAP response.
type ErrAuthorityTransport struct {
	Operation string
	Err       error
}

func (e *ErrAuthorityTransport) Error() string {
	return fmt.Sprintf("falha de comunicação com a SEFAZ [%s]: %v", e.Operation, e.Err)
}

func (e *ErrAuthorityTransport) Unwrap() error {
	return e.Err
}

// ErrAsyncTimeout indicates the batch was accepted for asynchronous
// processing but the single receipt poll came back without a protocol.
type ErrAsyncTimeout struct {
	Receipt string
	Code    int
	Message string
}

func (e *ErrAsyncTimeout) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("lote em processamento, recibo %s: %d - %s", e.Receipt, e.Code, e.Message)
	}
	return fmt.Sprintf("lote em processamento, recibo %s", e.Receipt)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrDuplicate indicates a uniqueness violation, e.g. a document number
// already used for the same merchant, type and series.
type ErrDuplicate struct {
	Key string
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("duplicate operation: %s", e.Key)
}

// ErrForbidden indicates the token is not scoped to the requested merchant.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrUnauthorized indicates an invalid or missing API token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
