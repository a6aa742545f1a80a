package certificate

import (
	"math"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
)

const dateLayout = "2006-01-02"

// RemainingDays is the whole number of days until notAfter, floored.
// Negative once expired.
func RemainingDays(notAfter, now time.Time) int {
	return int(math.Floor(notAfter.Sub(now).Seconds() / 86400))
}

// Summarize builds the validation answer for an opened container.
func Summarize(info domain.CertificateInfo, taxID string, now time.Time) domain.CertificateSummary {
	days := RemainingDays(info.NotAfter, now)
	return domain.CertificateSummary{
		Configured:    true,
		Name:          info.CommonName,
		CNPJ:          taxID,
		Issuer:        info.Issuer,
		ValidFrom:     info.NotBefore.Format(dateLayout),
		ValidUntil:    info.NotAfter.Format(dateLayout),
		RemainingDays: days,
		Valid:         days > 0,
	}
}
