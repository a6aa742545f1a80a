package nfe

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
)

// EventVersion is the envEvento / evento layout version.
const EventVersion = "1.00"

// CorrectionUsageTerms is the fixed xCondUso text of a correction letter.
const CorrectionUsageTerms = "A Carta de Correcao e disciplinada pelo paragrafo 1o-A do art. 7o do Convenio S/N, " +
	"de 15 de dezembro de 1970 e pode ser utilizada para regularizacao de erro ocorrido na emissao de " +
	"documento fiscal, desde que o erro nao esteja relacionado com: I - as variaveis que determinam o " +
	"valor do imposto tais como: base de calculo, aliquota, diferenca de preco, quantidade, valor da " +
	"operacao ou da prestacao; II - a correcao de dados cadastrais que implique mudanca do remetente ou " +
	"do destinatario; III - a data de emissao ou de saida."

// ============================================================
// Evento (cancelamento / carta de correção)
// ============================================================

type Evento struct {
	XMLName   xml.Name  `xml:"evento"`
	Xmlns     string    `xml:"xmlns,attr"`
	Versao    string    `xml:"versao,attr"`
	InfEvento InfEvento `xml:"infEvento"`
}

type InfEvento struct {
	ID         string    `xml:"Id,attr"`
	COrgao     string    `xml:"cOrgao"`
	TpAmb      string    `xml:"tpAmb"`
	CNPJ       string    `xml:"CNPJ"`
	ChNFe      string    `xml:"chNFe"`
	DhEvento   string    `xml:"dhEvento"`
	TpEvento   string    `xml:"tpEvento"`
	NSeqEvento int       `xml:"nSeqEvento"`
	VerEvento  string    `xml:"verEvento"`
	DetEvento  DetEvento `xml:"detEvento"`
}

type DetEvento struct {
	Versao     string `xml:"versao,attr"`
	DescEvento string `xml:"descEvento"`
	NProt      string `xml:"nProt,omitempty"`
	XJust      string `xml:"xJust,omitempty"`
	XCorrecao  string `xml:"xCorrecao,omitempty"`
	XCondUso   string `xml:"xCondUso,omitempty"`
}

// ============================================================
// Inutilização
// ============================================================

type InutNFe struct {
	XMLName xml.Name `xml:"inutNFe"`
	Xmlns   string   `xml:"xmlns,attr"`
	Versao  string   `xml:"versao,attr"`
	InfInut InfInut  `xml:"infInut"`
}

type InfInut struct {
	ID     string `xml:"Id,attr"`
	TpAmb  string `xml:"tpAmb"`
	XServ  string `xml:"xServ"`
	CUF    string `xml:"cUF"`
	Ano    string `xml:"ano"`
	CNPJ   string `xml:"CNPJ"`
	Mod    string `xml:"mod"`
	Serie  string `xml:"serie"`
	NNFIni int    `xml:"nNFIni"`
	NNFFin int    `xml:"nNFFin"`
	XJust  string `xml:"xJust"`
}

// EventInput identifies the document an event refers to.
type EventInput struct {
	Profile     *domain.FiscalProfile
	AccessKey   string
	Environment domain.Environment
	Sequence    int
}

// EventBuilder lays out events and voiding requests.
type EventBuilder struct {
	model string
	now   func() time.Time
	loc   *time.Location
}

// NewEventBuilder shares the assembler's clock and timezone options.
func NewEventBuilder(defaults Defaults, opts ...Option) *EventBuilder {
	a := NewAssembler(defaults, opts...)
	return &EventBuilder{model: defaults.Model, now: a.now, loc: a.loc}
}

// Cancellation builds a tpEvento 110111 for an authorized document.
func (b *EventBuilder) Cancellation(in EventInput, protocol, justification string) (*Evento, error) {
	ev, err := b.event(in, domain.EventCancellation)
	if err != nil {
		return nil, err
	}
	ev.InfEvento.DetEvento.NProt = protocol
	ev.InfEvento.DetEvento.XJust = strings.TrimSpace(justification)
	return ev, nil
}

// Correction builds a tpEvento 110110. in.Sequence must already account for
// earlier letters on the same key.
func (b *EventBuilder) Correction(in EventInput, text string) (*Evento, error) {
	ev, err := b.event(in, domain.EventCorrection)
	if err != nil {
		return nil, err
	}
	ev.InfEvento.DetEvento.XCorrecao = strings.TrimSpace(text)
	ev.InfEvento.DetEvento.XCondUso = CorrectionUsageTerms
	return ev, nil
}

func (b *EventBuilder) event(in EventInput, t domain.EventType) (*Evento, error) {
	if !ValidAccessKey(in.AccessKey) {
		return nil, &domain.ErrValidation{Field: "chave", Message: "chave de acesso inválida"}
	}
	if in.Profile == nil {
		return nil, fmt.Errorf("nfe: profile is required")
	}
	seq := in.Sequence
	if seq < 1 {
		seq = 1
	}
	if seq > 20 {
		return nil, &domain.ErrPrecondition{Condition: "Limite de 20 eventos por NFe atingido"}
	}
	env := in.Environment
	if env == 0 {
		env = domain.EnvironmentHomologation
	}

	return &Evento{
		Xmlns:  Namespace,
		Versao: EventVersion,
		InfEvento: InfEvento{
			ID:         fmt.Sprintf("ID%s%s%02d", t, in.AccessKey, seq),
			COrgao:     in.AccessKey[:2],
			TpAmb:      fmt.Sprintf("%d", env),
			CNPJ:       domain.OnlyDigits(in.Profile.CNPJ),
			ChNFe:      in.AccessKey,
			DhEvento:   b.now().In(b.loc).Format(dateTimeLayout),
			TpEvento:   string(t),
			NSeqEvento: seq,
			VerEvento:  EventVersion,
			DetEvento: DetEvento{
				Versao:     EventVersion,
				DescEvento: t.Description(),
			},
		},
	}, nil
}

// VoidRange builds an inutNFe for an unused number range of the profile's
// state and CNPJ.
func (b *EventBuilder) VoidRange(profile *domain.FiscalProfile, env domain.Environment, series string, first, last int, justification string) (*InutNFe, error) {
	stateCode, ok := StateCode(profile.Address.State)
	if !ok {
		return nil, &domain.ErrPrecondition{Condition: "UF do emitente inválida: " + profile.Address.State}
	}
	cnpj := domain.OnlyDigits(profile.CNPJ)
	if len(cnpj) != 14 {
		return nil, &domain.ErrPrecondition{Condition: "Dados fiscais inválidos: CNPJ deve ter 14 dígitos"}
	}
	var serie int
	if _, err := fmt.Sscanf(series, "%d", &serie); err != nil {
		return nil, &domain.ErrValidation{Field: "serie", Message: "deve ser numérica"}
	}
	if env == 0 {
		env = domain.EnvironmentHomologation
	}
	year := b.now().In(b.loc).Format("06")

	return &InutNFe{
		Xmlns:  Namespace,
		Versao: SchemaVersion,
		InfInut: InfInut{
			ID:     fmt.Sprintf("ID%s%s%s%s%03d%09d%09d", stateCode, year, cnpj, b.model, serie, first, last),
			TpAmb:  fmt.Sprintf("%d", env),
			XServ:  "INUTILIZAR",
			CUF:    stateCode,
			Ano:    year,
			CNPJ:   cnpj,
			Mod:    b.model,
			Serie:  fmt.Sprintf("%d", serie),
			NNFIni: first,
			NNFFin: last,
			XJust:  strings.TrimSpace(justification),
		},
	}, nil
}
