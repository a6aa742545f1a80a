// Package domain defines the core entities of the NFe emission API:
// merchants' fiscal profiles, sales, issued documents and fiscal events.
// These models are independent of storage and transport.
package domain

import (
	"strings"
	"time"
)

// ============================================================
// Environment / Tax regime
// ============================================================

// Environment is the tax authority environment (tpAmb).
type Environment int

const (
	EnvironmentProduction   Environment = 1
	EnvironmentHomologation Environment = 2
)

// ParseEnvironment maps a stored ambiente_nfe value. Anything other than 1
// resolves to homologation.
func ParseEnvironment(v int) Environment {
	if v == int(EnvironmentProduction) {
		return EnvironmentProduction
	}
	return EnvironmentHomologation
}

// Key is the name used by endpoint tables.
func (e Environment) Key() string {
	if e == EnvironmentProduction {
		return "producao"
	}
	return "homologacao"
}

func (e Environment) String() string { return e.Key() }

// TaxRegime is the issuer's CRT.
type TaxRegime int

const (
	RegimeSimplesNacional TaxRegime = 1
	RegimeSimplesExcesso  TaxRegime = 2
	RegimeNormal          TaxRegime = 3
)

// Valid reports whether the regime is one of the known CRT codes.
func (r TaxRegime) Valid() bool {
	return r >= RegimeSimplesNacional && r <= RegimeNormal
}

// ============================================================
// Address
// ============================================================

// Address is a Brazilian postal address.
type Address struct {
	Street           string `json:"logradouro"`
	Number           string `json:"numero"`
	Complement       string `json:"complemento,omitempty"`
	Neighborhood     string `json:"bairro"`
	City             string `json:"cidade"`
	State            string `json:"uf"`
	ZipCode          string `json:"cep"`
	MunicipalityCode string `json:"codigo_municipio,omitempty"`
}

// OneLine renders the address as a single line for ledger snapshots.
func (a Address) OneLine() string {
	parts := make([]string, 0, 6)
	street := strings.TrimSpace(a.Street)
	if a.Number != "" {
		street += ", " + a.Number
	}
	for _, p := range []string{street, a.Complement, a.Neighborhood, a.City, a.State, a.ZipCode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " - ")
}

// ============================================================
// Fiscal profile (dados fiscais)
// ============================================================

// FiscalProfile holds a merchant's emitter data and certificate references.
type FiscalProfile struct {
	ID                    int64       `json:"id"`
	MerchantID            int64       `json:"user_id"`
	CNPJ                  string      `json:"cnpj"`
	LegalName             string      `json:"razao_social"`
	TradeName             string      `json:"nome_fantasia,omitempty"`
	StateRegistration     string      `json:"inscricao_estadual,omitempty"`
	MunicipalRegistration string      `json:"inscricao_municipal,omitempty"`
	TaxRegime             TaxRegime   `json:"regime_tributario"`
	Address               Address     `json:"endereco"`
	Email                 string      `json:"email,omitempty"`
	Phone                 string      `json:"telefone,omitempty"`
	Environment           Environment `json:"ambiente_nfe"`
	DefaultSeries         string      `json:"serie_nfe,omitempty"`
	NextNFeNumber         int         `json:"proximo_numero_nfe,omitempty"`
	NextNFSeNumber        int         `json:"proximo_numero_nfse,omitempty"`

	CertificateFile       string     `json:"certificado_nome,omitempty"`
	CertificatePassword   string     `json:"-"`
	CertificateValidUntil *time.Time `json:"certificado_validade_ate,omitempty"`
	HasLegacyCertificate  bool       `json:"-"`

	Active    bool      `json:"ativo"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCertificate reports whether a credential file is referenced.
func (p *FiscalProfile) HasCertificate() bool {
	return p != nil && p.CertificateFile != ""
}

// ValidateForEmission checks the fields the document layout cannot do without.
func (p *FiscalProfile) ValidateForEmission() error {
	required := []struct {
		field string
		value string
	}{
		{"cnpj", OnlyDigits(p.CNPJ)},
		{"razao_social", p.LegalName},
		{"logradouro", p.Address.Street},
		{"bairro", p.Address.Neighborhood},
		{"cidade", p.Address.City},
		{"uf", p.Address.State},
		{"codigo_municipio", p.Address.MunicipalityCode},
		{"cep", OnlyDigits(p.Address.ZipCode)},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ErrPrecondition{Condition: "Dados fiscais incompletos: " + r.field + " não informado"}
		}
	}
	if len(OnlyDigits(p.CNPJ)) != 14 {
		return &ErrPrecondition{Condition: "Dados fiscais inválidos: CNPJ deve ter 14 dígitos"}
	}
	if !p.TaxRegime.Valid() {
		return &ErrPrecondition{Condition: "Dados fiscais incompletos: regime_tributario não informado"}
	}
	return nil
}

// CertificateUpdate is applied to a profile after a credential upload or
// removal. An empty FileName clears every certificate column.
type CertificateUpdate struct {
	FileName       string
	SealedPassword string
	ValidUntil     *time.Time
}

// OnlyDigits strips every non-digit rune.
func OnlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
