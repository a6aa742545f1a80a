package certificate

import (
	"errors"
	"regexp"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
)

// ErrTaxIDNotFound is returned when neither subject field carries a CNPJ.
var ErrTaxIDNotFound = errors.New("CNPJ não encontrado no certificado")

var cnpjRun = regexp.MustCompile(`\d{14}`)

// ExtractTaxID finds the 14-digit CNPJ in the subject common name, falling
// back to the subject serialNumber attribute.
func ExtractTaxID(info domain.CertificateInfo) (string, error) {
	for _, field := range []string{info.CommonName, info.SubjectSN} {
		if id, ok := taxIDFrom(field); ok {
			return id, nil
		}
	}
	return "", ErrTaxIDNotFound
}

func taxIDFrom(field string) (string, bool) {
	digits := domain.OnlyDigits(field)
	if len(digits) == 14 {
		return digits, true
	}
	if run := cnpjRun.FindString(digits); run != "" {
		return run, true
	}
	return "", false
}
