package nfe

import (
	"fmt"
	"time"
)

// KeyParts are the fields concatenated into the 44-digit access key.
type KeyParts struct {
	StateCode    string // cUF, 2 digits
	IssuedAt     time.Time
	CNPJ         string // 14 digits
	Model        string // 55
	Series       int
	Number       int
	EmissionType int // tpEmis
	Code         int // cNF, 8 digits
}

// CheckDigit computes the modulo-11 verifier over the first 43 digits.
// Weights cycle 2..9 from the rightmost digit; remainders 0 and 1 give 0.
func CheckDigit(key43 string) int {
	sum, weight := 0, 2
	for i := len(key43) - 1; i >= 0; i-- {
		sum += int(key43[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	rest := sum % 11
	if rest < 2 {
		return 0
	}
	return 11 - rest
}

// BuildAccessKey returns the full key and its check digit.
func BuildAccessKey(p KeyParts) (string, int, error) {
	if len(p.StateCode) != 2 {
		return "", 0, fmt.Errorf("cUF inválido: %q", p.StateCode)
	}
	if len(p.CNPJ) != 14 {
		return "", 0, fmt.Errorf("CNPJ deve ter 14 dígitos: %q", p.CNPJ)
	}
	if p.Series < 0 || p.Series > 999 {
		return "", 0, fmt.Errorf("série fora do intervalo: %d", p.Series)
	}
	if p.Number < 1 || p.Number > 999999999 {
		return "", 0, fmt.Errorf("número fora do intervalo: %d", p.Number)
	}
	if p.Code < 0 || p.Code > 99999999 {
		return "", 0, fmt.Errorf("cNF fora do intervalo: %d", p.Code)
	}

	key43 := fmt.Sprintf("%s%s%s%s%03d%09d%d%08d",
		p.StateCode,
		p.IssuedAt.Format("0601"),
		p.CNPJ,
		p.Model,
		p.Series,
		p.Number,
		p.EmissionType,
		p.Code,
	)
	if len(key43) != 43 {
		return "", 0, fmt.Errorf("chave com tamanho inesperado: %d", len(key43))
	}
	dv := CheckDigit(key43)
	return fmt.Sprintf("%s%d", key43, dv), dv, nil
}

// ValidAccessKey reports whether key is 44 digits with a correct verifier.
func ValidAccessKey(key string) bool {
	if len(key) != 44 {
		return false
	}
	for i := 0; i < 44; i++ {
		if key[i] < '0' || key[i] > '9' {
			return false
		}
	}
	return CheckDigit(key[:43]) == int(key[43]-'0')
}
