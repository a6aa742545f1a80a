package sefaz

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/boddenberg/livefy-nfe-go/internal/nfe"
)

const (
	soapNamespace   = "http://www.w3.org/2003/05/soap-envelope"
	registryVersion = "2.00"
)

// ============================================================
// Requests
// ============================================================

// envelope wraps a payload in a SOAP 1.2 nfeDadosMsg.
func envelope(svc Service, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString(`<soap12:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:soap12="` + soapNamespace + `">`)
	buf.WriteString(`<soap12:Body><nfeDadosMsg xmlns="` + svc.WSDLNamespace() + `">`)
	buf.Write(stripDeclaration(payload))
	buf.WriteString(`</nfeDadosMsg></soap12:Body></soap12:Envelope>`)
	return buf.Bytes()
}

// contentType carries the SOAP action as SOAP 1.2 requires.
func contentType(svc Service) string {
	return fmt.Sprintf(`application/soap+xml; charset=utf-8; action="%s/%s"`, svc.WSDLNamespace(), svc.Operation())
}

// batchMessage is an enviNFe with one signed document, synchronous mode.
func batchMessage(batchID string, signedNFe []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<enviNFe xmlns="%s" versao="%s"><idLote>%s</idLote><indSinc>1</indSinc>`, nfe.Namespace, nfe.SchemaVersion, batchID)
	buf.Write(stripDeclaration(signedNFe))
	buf.WriteString(`</enviNFe>`)
	return buf.Bytes()
}

// eventMessage is an envEvento with one signed evento.
func eventMessage(batchID string, signedEvent []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<envEvento xmlns="%s" versao="%s"><idLote>%s</idLote>`, nfe.Namespace, nfe.EventVersion, batchID)
	buf.Write(stripDeclaration(signedEvent))
	buf.WriteString(`</envEvento>`)
	return buf.Bytes()
}

type consReciNFe struct {
	XMLName xml.Name `xml:"consReciNFe"`
	Xmlns   string   `xml:"xmlns,attr"`
	Versao  string   `xml:"versao,attr"`
	TpAmb   int      `xml:"tpAmb"`
	NRec    string   `xml:"nRec"`
}

type consSitNFe struct {
	XMLName xml.Name `xml:"consSitNFe"`
	Xmlns   string   `xml:"xmlns,attr"`
	Versao  string   `xml:"versao,attr"`
	TpAmb   int      `xml:"tpAmb"`
	XServ   string   `xml:"xServ"`
	ChNFe   string   `xml:"chNFe"`
}

type consCad struct {
	XMLName xml.Name `xml:"ConsCad"`
	Xmlns   string   `xml:"xmlns,attr"`
	Versao  string   `xml:"versao,attr"`
	InfCons infCons  `xml:"infCons"`
}

type infCons struct {
	XServ string `xml:"xServ"`
	UF    string `xml:"UF"`
	CNPJ  string `xml:"CNPJ,omitempty"`
	CPF   string `xml:"CPF,omitempty"`
}

func receiptMessage(env domain.Environment, receipt string) ([]byte, error) {
	return nfe.Marshal(consReciNFe{Xmlns: nfe.Namespace, Versao: nfe.SchemaVersion, TpAmb: int(env), NRec: receipt})
}

func protocolMessage(env domain.Environment, key string) ([]byte, error) {
	return nfe.Marshal(consSitNFe{Xmlns: nfe.Namespace, Versao: nfe.SchemaVersion, TpAmb: int(env), XServ: "CONSULTAR", ChNFe: key})
}

func registryMessage(state, document string) ([]byte, error) {
	inf := infCons{XServ: "CONS-CAD", UF: strings.ToUpper(state)}
	if doc := domain.OnlyDigits(document); len(doc) == 11 {
		inf.CPF = doc
	} else {
		inf.CNPJ = doc
	}
	return nfe.Marshal(consCad{Xmlns: nfe.Namespace, Versao: registryVersion, InfCons: inf})
}

func stripDeclaration(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if bytes.HasPrefix(b, []byte("<?xml")) {
		if end := bytes.Index(b, []byte("?>")); end >= 0 {
			return bytes.TrimSpace(b[end+2:])
		}
	}
	return b
}

// ============================================================
// Responses
// ============================================================

type soapEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    soapBody `xml:"Body"`
}

type soapBody struct {
	Fault   *soapFault `xml:"Fault"`
	Content []byte     `xml:",innerxml"`
}

type soapFault struct {
	Code   string `xml:"Code>Value"`
	Reason string `xml:"Reason>Text"`
}

type resultMsg struct {
	XMLName xml.Name
	Inner   []byte `xml:",innerxml"`
}

// unwrap returns the authority message inside nfeResultMsg.
func unwrap(body []byte) ([]byte, error) {
	var env soapEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("resposta SOAP inválida: %w", err)
	}
	if f := env.Body.Fault; f != nil {
		return nil, fmt.Errorf("SOAP fault %s: %s", strings.TrimSpace(f.Code), strings.TrimSpace(f.Reason))
	}
	var msg resultMsg
	if err := xml.Unmarshal(env.Body.Content, &msg); err != nil {
		return nil, fmt.Errorf("corpo SOAP inválido: %w", err)
	}
	// Some authorizers answer with the ret* element directly in the Body.
	if strings.HasPrefix(msg.XMLName.Local, "ret") {
		return bytes.TrimSpace(env.Body.Content), nil
	}
	inner := bytes.TrimSpace(msg.Inner)
	if len(inner) == 0 {
		return nil, fmt.Errorf("corpo SOAP vazio")
	}
	return inner, nil
}

// rawElement keeps the exact inner XML of an element next to its decoded
// fields so it can be re-emitted unchanged.
type rawElement struct {
	Versao string `xml:"versao,attr"`
	Inner  []byte `xml:",innerxml"`
}

func (r rawElement) raw(tag string) []byte {
	var buf bytes.Buffer
	buf.WriteString("<" + tag)
	if r.Versao != "" {
		buf.WriteString(` versao="` + r.Versao + `"`)
	}
	buf.WriteString(">")
	buf.Write(r.Inner)
	buf.WriteString("</" + tag + ">")
	return buf.Bytes()
}

type protNFe struct {
	rawElement
	InfProt struct {
		ChNFe    string `xml:"chNFe"`
		DhRecbto string `xml:"dhRecbto"`
		NProt    string `xml:"nProt"`
		DigVal   string `xml:"digVal"`
		CStat    int    `xml:"cStat"`
		XMotivo  string `xml:"xMotivo"`
	} `xml:"infProt"`
}

func (p *protNFe) protocol() *domain.Protocol {
	if p == nil {
		return nil
	}
	return &domain.Protocol{
		AccessKey:   p.InfProt.ChNFe,
		Number:      p.InfProt.NProt,
		ReceivedAt:  p.InfProt.DhRecbto,
		DigestValue: p.InfProt.DigVal,
		Status:      domain.AuthorityStatus{Code: p.InfProt.CStat, Message: p.InfProt.XMotivo},
		Raw:         p.raw("protNFe"),
	}
}

type retEnviNFe struct {
	XMLName  xml.Name `xml:"retEnviNFe"`
	CStat    int      `xml:"cStat"`
	XMotivo  string   `xml:"xMotivo"`
	DhRecbto string   `xml:"dhRecbto"`
	InfRec   *struct {
		NRec string `xml:"nRec"`
	} `xml:"infRec"`
	ProtNFe *protNFe `xml:"protNFe"`
}

type retConsReciNFe struct {
	XMLName  xml.Name   `xml:"retConsReciNFe"`
	NRec     string     `xml:"nRec"`
	CStat    int        `xml:"cStat"`
	XMotivo  string     `xml:"xMotivo"`
	DhRecbto string     `xml:"dhRecbto"`
	ProtNFe  []*protNFe `xml:"protNFe"`
}

type retConsSitNFe struct {
	XMLName xml.Name `xml:"retConsSitNFe"`
	CStat   int      `xml:"cStat"`
	XMotivo string   `xml:"xMotivo"`
	ChNFe   string   `xml:"chNFe"`
	ProtNFe *protNFe `xml:"protNFe"`
}

type retEvento struct {
	rawElement
	InfEvento struct {
		CStat       int    `xml:"cStat"`
		XMotivo     string `xml:"xMotivo"`
		ChNFe       string `xml:"chNFe"`
		TpEvento    string `xml:"tpEvento"`
		NSeqEvento  int    `xml:"nSeqEvento"`
		NProt       string `xml:"nProt"`
		DhRegEvento string `xml:"dhRegEvento"`
	} `xml:"infEvento"`
}

type retEnvEvento struct {
	XMLName   xml.Name     `xml:"retEnvEvento"`
	CStat     int          `xml:"cStat"`
	XMotivo   string       `xml:"xMotivo"`
	RetEvento []*retEvento `xml:"retEvento"`
}

type retInutNFe struct {
	rawElement
	XMLName xml.Name `xml:"retInutNFe"`
	InfInut struct {
		CStat    int    `xml:"cStat"`
		XMotivo  string `xml:"xMotivo"`
		NProt    string `xml:"nProt"`
		DhRecbto string `xml:"dhRecbto"`
	} `xml:"infInut"`
}

type retConsCad struct {
	XMLName xml.Name `xml:"retConsCad"`
	InfCons struct {
		CStat   int    `xml:"cStat"`
		XMotivo string `xml:"xMotivo"`
		InfCad  []struct {
			IE        string `xml:"IE"`
			CNPJ      string `xml:"CNPJ"`
			CPF       string `xml:"CPF"`
			UF        string `xml:"UF"`
			CSit      string `xml:"cSit"`
			XNome     string `xml:"xNome"`
			XFant     string `xml:"xFant"`
			XRegApur  string `xml:"xRegApur"`
			CNAE      string `xml:"CNAE"`
			Ender struct {
				XLgr    string `xml:"xLgr"`
				Nro     string `xml:"nro"`
				XCpl    string `xml:"xCpl"`
				XBairro string `xml:"xBairro"`
				CMun    string `xml:"cMun"`
				XMun    string `xml:"xMun"`
				CEP     string `xml:"CEP"`
			} `xml:"ender"`
		} `xml:"infCad"`
	} `xml:"infCons"`
}

func parseBatch(msg []byte) (*domain.BatchResponse, error) {
	var r retEnviNFe
	if err := xml.Unmarshal(msg, &r); err != nil {
		return nil, fmt.Errorf("retEnviNFe inválido: %w", err)
	}
	out := &domain.BatchResponse{
		Status:     domain.AuthorityStatus{Code: r.CStat, Message: r.XMotivo},
		ReceivedAt: r.DhRecbto,
		Protocol:   r.ProtNFe.protocol(),
		Raw:        msg,
	}
	if r.InfRec != nil {
		out.Receipt = r.InfRec.NRec
	}
	return out, nil
}

func parseReceipt(msg []byte) (*domain.BatchResponse, error) {
	var r retConsReciNFe
	if err := xml.Unmarshal(msg, &r); err != nil {
		return nil, fmt.Errorf("retConsReciNFe inválido: %w", err)
	}
	out := &domain.BatchResponse{
		Status:     domain.AuthorityStatus{Code: r.CStat, Message: r.XMotivo},
		Receipt:    r.NRec,
		ReceivedAt: r.DhRecbto,
		Raw:        msg,
	}
	if len(r.ProtNFe) > 0 {
		out.Protocol = r.ProtNFe[0].protocol()
	}
	return out, nil
}

func parseProtocolQuery(msg []byte) (*domain.ProtocolQueryResponse, error) {
	var r retConsSitNFe
	if err := xml.Unmarshal(msg, &r); err != nil {
		return nil, fmt.Errorf("retConsSitNFe inválido: %w", err)
	}
	return &domain.ProtocolQueryResponse{
		Status:    domain.AuthorityStatus{Code: r.CStat, Message: r.XMotivo},
		AccessKey: r.ChNFe,
		Protocol:  r.ProtNFe.protocol(),
		Raw:       msg,
	}, nil
}

func parseEvent(msg []byte) (*domain.EventResponse, error) {
	var r retEnvEvento
	if err := xml.Unmarshal(msg, &r); err != nil {
		return nil, fmt.Errorf("retEnvEvento inválido: %w", err)
	}
	out := &domain.EventResponse{
		Status: domain.AuthorityStatus{Code: r.CStat, Message: r.XMotivo},
		Raw:    msg,
	}
	for _, ev := range r.RetEvento {
		inf := ev.InfEvento
		out.Events = append(out.Events, domain.EventReceipt{
			Status:       domain.AuthorityStatus{Code: inf.CStat, Message: inf.XMotivo},
			AccessKey:    inf.ChNFe,
			Type:         domain.EventType(inf.TpEvento),
			Sequence:     inf.NSeqEvento,
			Protocol:     inf.NProt,
			RegisteredAt: inf.DhRegEvento,
			Raw:          ev.raw("retEvento"),
		})
	}
	return out, nil
}

func parseVoid(msg []byte) (*domain.VoidResponse, error) {
	var r retInutNFe
	if err := xml.Unmarshal(msg, &r); err != nil {
		return nil, fmt.Errorf("retInutNFe inválido: %w", err)
	}
	return &domain.VoidResponse{
		Status:     domain.AuthorityStatus{Code: r.InfInut.CStat, Message: r.InfInut.XMotivo},
		Protocol:   r.InfInut.NProt,
		ReceivedAt: r.InfInut.DhRecbto,
		Raw:        r.raw("retInutNFe"),
	}, nil
}

func parseRegistry(msg []byte) (*domain.RegistryResult, error) {
	var r retConsCad
	if err := xml.Unmarshal(msg, &r); err != nil {
		return nil, fmt.Errorf("retConsCad inválido: %w", err)
	}
	out := &domain.RegistryResult{
		Status: domain.AuthorityStatus{Code: r.InfCons.CStat, Message: r.InfCons.XMotivo},
	}
	for _, c := range r.InfCons.InfCad {
		out.Entries = append(out.Entries, domain.RegistryEntry{
			StateRegistration: c.IE,
			CNPJ:              c.CNPJ,
			CPF:               c.CPF,
			State:             c.UF,
			Situation:         situation(c.CSit),
			Name:              c.XNome,
			TradeName:         c.XFant,
			Regime:            c.XRegApur,
			CNAE:              c.CNAE,
			Address: domain.Address{
				Street:           c.Ender.XLgr,
				Number:           c.Ender.Nro,
				Complement:       c.Ender.XCpl,
				Neighborhood:     c.Ender.XBairro,
				City:             c.Ender.XMun,
				State:            c.UF,
				ZipCode:          c.Ender.CEP,
				MunicipalityCode: c.Ender.CMun,
			},
		})
	}
	return out, nil
}

func situation(cSit string) string {
	switch cSit {
	case "0":
		return "nao_habilitado"
	case "1":
		return "habilitado"
	}
	return cSit
}
