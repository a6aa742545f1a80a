package nfe

import (
	"github.com/boddenberg/livefy-nfe-go/internal/domain"

	"github.com/shopspring/decimal"
)

// Defaults are the fixed values the assembler fills in for every document.
type Defaults struct {
	Model              string
	NCM                string
	GTIN               string
	Unit               string
	CFOPInternal       string
	CFOPInterstate     string
	ApproxTaxRate      decimal.Decimal
	PaymentMethod      string // tPag
	FreightMode        string // modFrete
	NonContributor     string // indIEDest
	ConsumerFinal      string // indFinal
	Presence           string // indPres
	Origin             string // ICMS orig
	SimplesCSOSN       string
	NormalCST          string
	PISCOFINSCST       string
	CountryCode        string
	CountryName        string
	FallbackAddress    domain.Address
	FallbackState      string
	HomologationCPF    string
	HomologationName   string
	ApplicationVersion string // verProc
}

// StandardDefaults returns the values used for retail sales of jewelry by
// Simples Nacional merchants.
func StandardDefaults() Defaults {
	return Defaults{
		Model:          "55",
		NCM:            "71131900",
		GTIN:           "SEM GTIN",
		Unit:           "UN",
		CFOPInternal:   "5102",
		CFOPInterstate: "6102",
		ApproxTaxRate:  decimal.NewFromFloat(0.18),
		PaymentMethod:  "01",
		FreightMode:    "9",
		NonContributor: "9",
		ConsumerFinal:  "1",
		Presence:       "1",
		Origin:         "0",
		SimplesCSOSN:   "102",
		NormalCST:      "00",
		PISCOFINSCST:   "07",
		CountryCode:    "1058",
		CountryName:    "BRASIL",
		FallbackAddress: domain.Address{
			Street:       "Rua Exemplo",
			Number:       "SN",
			Neighborhood: "Centro",
			City:         "São Paulo",
			State:        "SP",
			ZipCode:      "01000000",
		},
		FallbackState:      "SP",
		HomologationCPF:    "05626815236",
		HomologationName:   "NF-E EMITIDA EM AMBIENTE DE HOMOLOGACAO - SEM VALOR FISCAL",
		ApplicationVersion: "1.0",
	}
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func unitPrice(d decimal.Decimal) string { return d.StringFixed(10) }

func quantity(d decimal.Decimal) string { return d.StringFixed(4) }
