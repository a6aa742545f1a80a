package nfe

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
)

const xmlDeclaration = `<?xml version="1.0" encoding="UTF-8"?>`

// AttachProtocol wraps a signed NFe and its authorization protocol in an
// nfeProc, the form kept for storage and printing. The signed bytes are
// embedded unchanged.
func AttachProtocol(signedNFe []byte, p *domain.Protocol) ([]byte, error) {
	if p == nil || len(p.Raw) == 0 {
		return nil, fmt.Errorf("nfe: protocol is empty")
	}
	body, root, err := inspect(signedNFe)
	if err != nil {
		return nil, err
	}
	inf := root.FindElement("./infNFe")
	if root.Tag != "NFe" || inf == nil {
		return nil, fmt.Errorf("nfe: document is not an NFe")
	}
	key := strings.TrimPrefix(inf.SelectAttrValue("Id", ""), "NFe")
	if p.AccessKey != "" && p.AccessKey != key {
		return nil, fmt.Errorf("nfe: protocol key %s does not match document %s", p.AccessKey, key)
	}
	if root.FindElement("./Signature") == nil {
		return nil, fmt.Errorf("nfe: document is not signed")
	}
	return wrap("nfeProc", SchemaVersion, body, p.Raw), nil
}

// AttachEventReceipt wraps a signed evento and its retEvento in a
// procEventoNFe.
func AttachEventReceipt(signedEvent []byte, r *domain.EventReceipt) ([]byte, error) {
	if r == nil || len(r.Raw) == 0 {
		return nil, fmt.Errorf("nfe: event receipt is empty")
	}
	body, root, err := inspect(signedEvent)
	if err != nil {
		return nil, err
	}
	if root.Tag != "evento" {
		return nil, fmt.Errorf("nfe: document is not an evento")
	}
	return wrap("procEventoNFe", EventVersion, body, r.Raw), nil
}

// AttachVoidReceipt wraps a signed inutNFe and its retInutNFe in a
// ProcInutNFe.
func AttachVoidReceipt(signedVoid []byte, r *domain.VoidResponse) ([]byte, error) {
	if r == nil || len(r.Raw) == 0 {
		return nil, fmt.Errorf("nfe: void receipt is empty")
	}
	body, root, err := inspect(signedVoid)
	if err != nil {
		return nil, err
	}
	if root.Tag != "inutNFe" {
		return nil, fmt.Errorf("nfe: document is not an inutNFe")
	}
	return wrap("ProcInutNFe", SchemaVersion, body, r.Raw), nil
}

// inspect parses doc and returns it without any XML declaration.
func inspect(doc []byte) ([]byte, *etree.Element, error) {
	body := bytes.TrimSpace(doc)
	if bytes.HasPrefix(body, []byte("<?xml")) {
		end := bytes.Index(body, []byte("?>"))
		if end < 0 {
			return nil, nil, fmt.Errorf("nfe: malformed XML declaration")
		}
		body = bytes.TrimSpace(body[end+2:])
	}
	d := etree.NewDocument()
	if err := d.ReadFromBytes(body); err != nil {
		return nil, nil, fmt.Errorf("nfe: parse document: %w", err)
	}
	if d.Root() == nil {
		return nil, nil, fmt.Errorf("nfe: empty document")
	}
	return body, d.Root(), nil
}

func wrap(tag, version string, parts ...[]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(xmlDeclaration)
	fmt.Fprintf(&buf, `<%s xmlns="%s" versao="%s">`, tag, Namespace, version)
	for _, p := range parts {
		buf.Write(bytes.TrimSpace(p))
	}
	fmt.Fprintf(&buf, "</%s>", tag)
	return buf.Bytes()
}
