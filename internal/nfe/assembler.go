// Package nfe builds NFe 4.00 (model 55) documents and the related
// authority messages, and stamps authorization protocols onto signed XML.
package nfe

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"

	"github.com/shopspring/decimal"
)

const dateTimeLayout = "2006-01-02T15:04:05-07:00"

// Input is everything needed to lay out one document.
type Input struct {
	Sale        *domain.Sale
	Profile     *domain.FiscalProfile
	Config      domain.NoteConfig
	Series      string
	Number      int
	Environment domain.Environment
}

// Document is an assembled, unsigned NFe plus the values derived while
// laying it out.
type Document struct {
	NFe       *NFe
	AccessKey string
	IssuedAt  time.Time
	ItemCFOP  string
	Recipient RecipientSnapshot
}

// RecipientSnapshot is the buyer as rendered in the document.
type RecipientSnapshot struct {
	Name     string
	Document string
	Email    string
	Phone    string
	Address  string
}

// Marshal renders the document XML.
func (d *Document) Marshal() ([]byte, error) {
	return Marshal(d.NFe)
}

// Assembler lays out documents. Safe for concurrent use.
type Assembler struct {
	defaults Defaults
	now      func() time.Time
	code     func() int
	loc      *time.Location
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithClock fixes the emission timestamp source.
func WithClock(now func() time.Time) Option { return func(a *Assembler) { a.now = now } }

// WithCodeSource fixes the cNF generator.
func WithCodeSource(code func() int) Option { return func(a *Assembler) { a.code = code } }

// WithLocation sets the timezone dhEmi is rendered in.
func WithLocation(loc *time.Location) Option { return func(a *Assembler) { a.loc = loc } }

// NewAssembler creates an assembler. Emission timestamps default to
// America/Sao_Paulo when the tz database is available.
func NewAssembler(defaults Defaults, opts ...Option) *Assembler {
	a := &Assembler{
		defaults: defaults,
		now:      time.Now,
		code:     func() int { return 10000000 + rand.IntN(90000000) },
		loc:      saoPaulo(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func saoPaulo() *time.Location {
	if loc, err := time.LoadLocation("America/Sao_Paulo"); err == nil {
		return loc
	}
	return time.FixedZone("BRT", -3*60*60)
}

// Assemble produces the document for in. Identical inputs with the same
// clock and code source produce identical documents.
func (a *Assembler) Assemble(in Input) (*Document, error) {
	sale, profile := in.Sale, in.Profile
	if sale == nil || profile == nil {
		return nil, fmt.Errorf("nfe: sale and profile are required")
	}
	if len(sale.Items) == 0 {
		return nil, &domain.ErrPrecondition{Condition: "Venda sem itens não pode gerar NFe"}
	}
	if err := profile.ValidateForEmission(); err != nil {
		return nil, err
	}

	issuerState := strings.ToUpper(strings.TrimSpace(profile.Address.State))
	stateCode, ok := StateCode(issuerState)
	if !ok {
		return nil, &domain.ErrPrecondition{Condition: "UF do emitente inválida: " + profile.Address.State}
	}
	series, err := strconv.Atoi(in.Series)
	if err != nil {
		return nil, &domain.ErrValidation{Field: "serie", Message: "deve ser numérica"}
	}

	issuedAt := a.now().In(a.loc).Truncate(time.Second)
	cnpj := domain.OnlyDigits(profile.CNPJ)

	code := a.code()
	if code == in.Number {
		code++
		if code > 99999999 {
			code = 10000000
		}
	}

	key, dv, err := BuildAccessKey(KeyParts{
		StateCode:    stateCode,
		IssuedAt:     issuedAt,
		CNPJ:         cnpj,
		Model:        a.defaults.Model,
		Series:       series,
		Number:       in.Number,
		EmissionType: 1,
		Code:         code,
	})
	if err != nil {
		return nil, &domain.ErrValidation{Field: "chave", Message: err.Error()}
	}

	destAddr := sale.DestinationAddress()
	destState := a.defaults.FallbackState
	if destAddr != nil && strings.TrimSpace(destAddr.State) != "" {
		destState = strings.ToUpper(strings.TrimSpace(destAddr.State))
	}

	idDest, cfop := "1", a.defaults.CFOPInternal
	if destState != issuerState {
		idDest, cfop = "2", a.defaults.CFOPInterstate
	}

	env := in.Environment
	if env == 0 {
		env = domain.EnvironmentHomologation
	}
	stamp := issuedAt.Format(dateTimeLayout)

	doc := &NFe{
		Xmlns: Namespace,
		InfNFe: InfNFe{
			ID:     "NFe" + key,
			Versao: SchemaVersion,
			Ide: Ide{
				CUF:      stateCode,
				CNF:      fmt.Sprintf("%08d", code),
				NatOp:    in.Config.Nature,
				Mod:      a.defaults.Model,
				Serie:    strconv.Itoa(series),
				NNF:      strconv.Itoa(in.Number),
				DhEmi:    stamp,
				DhSaiEnt: stamp,
				TpNF:     "1",
				IDDest:   idDest,
				CMunFG:   profile.Address.MunicipalityCode,
				TpImp:    "1",
				TpEmis:   "1",
				CDV:      strconv.Itoa(dv),
				TpAmb:    strconv.Itoa(int(env)),
				FinNFe:   "1",
				IndFinal: a.defaults.ConsumerFinal,
				IndPres:  a.defaults.Presence,
				ProcEmi:  "0",
				VerProc:  a.defaults.ApplicationVersion,
			},
			Emit:   a.issuer(profile, issuerState),
			Det:    a.items(sale, profile, cfop),
			Total:  a.totals(sale),
			Transp: Transp{ModFrete: a.defaults.FreightMode},
			Pag: Pag{
				DetPag: []DetPag{{TPag: a.defaults.PaymentMethod, VPag: money(sale.FinalAmount)}},
			},
		},
	}

	dest, snapshot := a.recipient(sale, destAddr, env)
	doc.InfNFe.Dest = dest

	if notes := strings.TrimSpace(in.Config.Notes); notes != "" {
		doc.InfNFe.InfAdic = &InfAdic{InfCpl: notes}
	}

	return &Document{
		NFe:       doc,
		AccessKey: key,
		IssuedAt:  issuedAt,
		ItemCFOP:  cfop,
		Recipient: snapshot,
	}, nil
}

func (a *Assembler) issuer(p *domain.FiscalProfile, state string) Emit {
	trade := strings.TrimSpace(p.TradeName)
	if trade == "" {
		trade = p.LegalName
	}
	ie := strings.TrimSpace(p.StateRegistration)
	if ie == "" {
		ie = "ISENTO"
	}
	number := strings.TrimSpace(p.Address.Number)
	if number == "" {
		number = a.defaults.FallbackAddress.Number
	}
	return Emit{
		CNPJ:  domain.OnlyDigits(p.CNPJ),
		XNome: p.LegalName,
		XFant: trade,
		EnderEmit: Endereco{
			XLgr:    p.Address.Street,
			Nro:     number,
			XCpl:    p.Address.Complement,
			XBairro: p.Address.Neighborhood,
			CMun:    p.Address.MunicipalityCode,
			XMun:    p.Address.City,
			UF:      state,
			CEP:     domain.OnlyDigits(p.Address.ZipCode),
			CPais:   a.defaults.CountryCode,
			XPais:   a.defaults.CountryName,
			Fone:    domain.OnlyDigits(p.Phone),
		},
		IE:  ie,
		CRT: strconv.Itoa(int(p.TaxRegime)),
	}
}

func (a *Assembler) recipient(sale *domain.Sale, addr *domain.Address, env domain.Environment) (*Dest, RecipientSnapshot) {
	c := sale.Customer
	doc := domain.OnlyDigits(c.Document)

	dest := &Dest{
		XNome:     c.Name,
		IndIEDest: a.defaults.NonContributor,
		Email:     strings.TrimSpace(c.Email),
	}
	if env == domain.EnvironmentHomologation {
		dest.CPF = a.defaults.HomologationCPF
		dest.XNome = a.defaults.HomologationName
	} else if len(doc) == 11 {
		dest.CPF = doc
	} else {
		dest.CNPJ = doc
	}

	snapshot := RecipientSnapshot{
		Name:     c.Name,
		Document: doc,
		Email:    c.Email,
		Phone:    c.Phone,
	}

	if addr != nil {
		fb := a.defaults.FallbackAddress
		city := orDefault(addr.City, fb.City)
		state := strings.ToUpper(orDefault(addr.State, fb.State))
		dest.EnderDest = &Endereco{
			XLgr:    orDefault(addr.Street, fb.Street),
			Nro:     orDefault(addr.Number, fb.Number),
			XCpl:    strings.TrimSpace(addr.Complement),
			XBairro: orDefault(addr.Neighborhood, fb.Neighborhood),
			CMun:    MunicipalityCode(city, state),
			XMun:    city,
			UF:      state,
			CEP:     domain.OnlyDigits(orDefault(addr.ZipCode, fb.ZipCode)),
			CPais:   a.defaults.CountryCode,
			XPais:   a.defaults.CountryName,
			Fone:    domain.OnlyDigits(c.Phone),
		}
		snapshot.Address = addr.OneLine()
	}
	return dest, snapshot
}

func (a *Assembler) items(sale *domain.Sale, profile *domain.FiscalProfile, cfop string) []Det {
	simples := profile.TaxRegime == domain.RegimeSimplesNacional
	dets := make([]Det, 0, len(sale.Items))

	for i, item := range sale.Items {
		total := item.Total()
		qty := quantity(item.Quantity)
		price := unitPrice(item.UnitPrice)

		det := Det{
			NItem: i + 1,
			Prod: Prod{
				CProd:    item.SKU,
				CEAN:     a.defaults.GTIN,
				XProd:    item.ProductName,
				NCM:      a.defaults.NCM,
				CFOP:     cfop,
				UCom:     a.defaults.Unit,
				QCom:     qty,
				VUnCom:   price,
				VProd:    money(total),
				CEANTrib: a.defaults.GTIN,
				UTrib:    a.defaults.Unit,
				QTrib:    qty,
				VUnTrib:  price,
				IndTot:   "1",
			},
			Imposto: Imposto{
				VTotTrib: money(total.Mul(a.defaults.ApproxTaxRate)),
				PIS:      PIS{PISNT: PISNT{CST: a.defaults.PISCOFINSCST}},
				COFINS:   COFINS{COFINSNT: COFINSNT{CST: a.defaults.PISCOFINSCST}},
			},
		}
		if simples {
			det.Imposto.ICMS.ICMSSN102 = &ICMSSN102{Orig: a.defaults.Origin, CSOSN: a.defaults.SimplesCSOSN}
		} else {
			det.Imposto.ICMS.ICMS00 = &ICMS00{
				Orig:  a.defaults.Origin,
				CST:   a.defaults.NormalCST,
				ModBC: "0",
				VBC:   "0.00",
				PICMS: "0.0000",
				VICMS: "0.00",
			}
		}
		dets = append(dets, det)
	}
	return dets
}

func (a *Assembler) totals(sale *domain.Sale) Total {
	zero := money(decimal.Zero)
	return Total{ICMSTot: ICMSTot{
		VBC:        zero,
		VICMS:      zero,
		VICMSDeson: zero,
		VFCP:       zero,
		VBCST:      zero,
		VST:        zero,
		VFCPST:     zero,
		VFCPSTRet:  zero,
		VProd:      money(sale.TotalAmount),
		VFrete:     money(sale.ShippingAmount),
		VSeg:       zero,
		VDesc:      money(sale.DiscountAmount),
		VII:        zero,
		VIPI:       zero,
		VIPIDevol:  zero,
		VPIS:       zero,
		VCOFINS:    zero,
		VOutro:     zero,
		VNF:        money(sale.FinalAmount),
		VTotTrib:   money(sale.TotalAmount.Mul(a.defaults.ApproxTaxRate)),
	}}
}

func orDefault(v, fallback string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return fallback
}
