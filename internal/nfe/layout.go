package nfe

import (
	"bytes"
	"encoding/xml"
)

// Namespace is the portal fiscal namespace shared by every NFe message.
const Namespace = "http://www.portalfiscal.inf.br/nfe"

// SchemaVersion is the NFe layout version.
const SchemaVersion = "4.00"

// NFe is the document root. Field order follows the 4.00 layout.
type NFe struct {
	XMLName xml.Name `xml:"NFe"`
	Xmlns   string   `xml:"xmlns,attr"`
	InfNFe  InfNFe   `xml:"infNFe"`
}

type InfNFe struct {
	ID      string   `xml:"Id,attr"`
	Versao  string   `xml:"versao,attr"`
	Ide     Ide      `xml:"ide"`
	Emit    Emit     `xml:"emit"`
	Dest    *Dest    `xml:"dest,omitempty"`
	Det     []Det    `xml:"det"`
	Total   Total    `xml:"total"`
	Transp  Transp   `xml:"transp"`
	Pag     Pag      `xml:"pag"`
	InfAdic *InfAdic `xml:"infAdic,omitempty"`
}

type Ide struct {
	CUF      string `xml:"cUF"`
	CNF      string `xml:"cNF"`
	NatOp    string `xml:"natOp"`
	Mod      string `xml:"mod"`
	Serie    string `xml:"serie"`
	NNF      string `xml:"nNF"`
	DhEmi    string `xml:"dhEmi"`
	DhSaiEnt string `xml:"dhSaiEnt,omitempty"`
	TpNF     string `xml:"tpNF"`
	IDDest   string `xml:"idDest"`
	CMunFG   string `xml:"cMunFG"`
	TpImp    string `xml:"tpImp"`
	TpEmis   string `xml:"tpEmis"`
	CDV      string `xml:"cDV"`
	TpAmb    string `xml:"tpAmb"`
	FinNFe   string `xml:"finNFe"`
	IndFinal string `xml:"indFinal"`
	IndPres  string `xml:"indPres"`
	ProcEmi  string `xml:"procEmi"`
	VerProc  string `xml:"verProc"`
}

type Emit struct {
	CNPJ      string   `xml:"CNPJ"`
	XNome     string   `xml:"xNome"`
	XFant     string   `xml:"xFant,omitempty"`
	EnderEmit Endereco `xml:"enderEmit"`
	IE        string   `xml:"IE"`
	IM        string   `xml:"IM,omitempty"`
	CRT       string   `xml:"CRT"`
}

type Endereco struct {
	XLgr    string `xml:"xLgr"`
	Nro     string `xml:"nro"`
	XCpl    string `xml:"xCpl,omitempty"`
	XBairro string `xml:"xBairro"`
	CMun    string `xml:"cMun"`
	XMun    string `xml:"xMun"`
	UF      string `xml:"UF"`
	CEP     string `xml:"CEP"`
	CPais   string `xml:"cPais"`
	XPais   string `xml:"xPais"`
	Fone    string `xml:"fone,omitempty"`
}

type Dest struct {
	CNPJ      string    `xml:"CNPJ,omitempty"`
	CPF       string    `xml:"CPF,omitempty"`
	XNome     string    `xml:"xNome"`
	EnderDest *Endereco `xml:"enderDest,omitempty"`
	IndIEDest string    `xml:"indIEDest"`
	Email     string    `xml:"email,omitempty"`
}

type Det struct {
	NItem   int     `xml:"nItem,attr"`
	Prod    Prod    `xml:"prod"`
	Imposto Imposto `xml:"imposto"`
}

type Prod struct {
	CProd    string `xml:"cProd"`
	CEAN     string `xml:"cEAN"`
	XProd    string `xml:"xProd"`
	NCM      string `xml:"NCM"`
	CFOP     string `xml:"CFOP"`
	UCom     string `xml:"uCom"`
	QCom     string `xml:"qCom"`
	VUnCom   string `xml:"vUnCom"`
	VProd    string `xml:"vProd"`
	CEANTrib string `xml:"cEANTrib"`
	UTrib    string `xml:"uTrib"`
	QTrib    string `xml:"qTrib"`
	VUnTrib  string `xml:"vUnTrib"`
	IndTot   string `xml:"indTot"`
}

type Imposto struct {
	VTotTrib string `xml:"vTotTrib,omitempty"`
	ICMS     ICMS   `xml:"ICMS"`
	PIS      PIS    `xml:"PIS"`
	COFINS   COFINS `xml:"COFINS"`
}

type ICMS struct {
	ICMS00    *ICMS00    `xml:"ICMS00,omitempty"`
	ICMSSN102 *ICMSSN102 `xml:"ICMSSN102,omitempty"`
}

type ICMS00 struct {
	Orig  string `xml:"orig"`
	CST   string `xml:"CST"`
	ModBC string `xml:"modBC"`
	VBC   string `xml:"vBC"`
	PICMS string `xml:"pICMS"`
	VICMS string `xml:"vICMS"`
}

type ICMSSN102 struct {
	Orig  string `xml:"orig"`
	CSOSN string `xml:"CSOSN"`
}

type PIS struct {
	PISNT PISNT `xml:"PISNT"`
}

type PISNT struct {
	CST string `xml:"CST"`
}

type COFINS struct {
	COFINSNT COFINSNT `xml:"COFINSNT"`
}

type COFINSNT struct {
	CST string `xml:"CST"`
}

type Total struct {
	ICMSTot ICMSTot `xml:"ICMSTot"`
}

type ICMSTot struct {
	VBC        string `xml:"vBC"`
	VICMS      string `xml:"vICMS"`
	VICMSDeson string `xml:"vICMSDeson"`
	VFCP       string `xml:"vFCP"`
	VBCST      string `xml:"vBCST"`
	VST        string `xml:"vST"`
	VFCPST     string `xml:"vFCPST"`
	VFCPSTRet  string `xml:"vFCPSTRet"`
	VProd      string `xml:"vProd"`
	VFrete     string `xml:"vFrete"`
	VSeg       string `xml:"vSeg"`
	VDesc      string `xml:"vDesc"`
	VII        string `xml:"vII"`
	VIPI       string `xml:"vIPI"`
	VIPIDevol  string `xml:"vIPIDevol"`
	VPIS       string `xml:"vPIS"`
	VCOFINS    string `xml:"vCOFINS"`
	VOutro     string `xml:"vOutro"`
	VNF        string `xml:"vNF"`
	VTotTrib   string `xml:"vTotTrib"`
}

type Transp struct {
	ModFrete string `xml:"modFrete"`
}

type Pag struct {
	DetPag []DetPag `xml:"detPag"`
	VTroco string   `xml:"vTroco,omitempty"`
}

type DetPag struct {
	TPag string `xml:"tPag"`
	VPag string `xml:"vPag"`
}

type InfAdic struct {
	InfCpl string `xml:"infCpl,omitempty"`
}

// Marshal renders v without indentation or XML declaration, the form that
// gets signed and embedded in batches.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
