// Package signer applies enveloped XML-DSig signatures in the layout the
// tax authority expects: RSA-SHA1, inclusive C14N 1.0, enveloped-signature
// transform, reference to the signed element's Id and the signer
// certificate in KeyInfo.
package signer

import (
	"crypto/rsa"
	_ "crypto/sha1" // RSA-SHA1 signature method
	"fmt"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
)

// Element tags that receive a signature.
const (
	ElementNFe    = "infNFe"
	ElementEvent  = "infEvento"
	ElementVoid   = "infInut"
	signatureElem = "Signature"
)

// Signer signs documents with a merchant credential. Safe for concurrent use.
type Signer struct {
	now func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the time used for the credential validity check.
func WithClock(now func() time.Time) Option { return func(s *Signer) { s.now = now } }

// New creates a Signer.
func New(opts ...Option) *Signer {
	s := &Signer{now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sign signs the child elementTag of the document root and appends the
// Signature as the root's last child. The rest of the document is kept as is.
func (s *Signer) Sign(xmlDoc []byte, elementTag string, cred *domain.Credential) ([]byte, error) {
	if cred == nil || cred.Certificate == nil || cred.PrivateKey == nil {
		return nil, &domain.ErrCredential{Reason: domain.CredentialInvalid, Message: "Certificado digital não carregado"}
	}
	now := s.now()
	if !cred.ValidAt(now) {
		reason, msg := domain.CredentialExpired, "Certificado digital expirado"
		if now.Before(cred.Certificate.NotBefore) {
			reason, msg = domain.CredentialNotYetValid, "Certificado digital ainda não é válido"
		}
		return nil, &domain.ErrCredential{Reason: reason, Message: msg}
	}
	if _, ok := cred.PrivateKey.(*rsa.PrivateKey); !ok {
		return nil, &domain.ErrCredential{Reason: domain.CredentialUnsupported, Message: "Chave privada deve ser RSA"}
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlDoc); err != nil {
		return nil, fmt.Errorf("signer: parse document: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("signer: empty document")
	}
	target := root.FindElement("./" + elementTag)
	if target == nil {
		return nil, fmt.Errorf("signer: element %s not found under %s", elementTag, root.Tag)
	}
	if target.SelectAttrValue("Id", "") == "" {
		return nil, fmt.Errorf("signer: element %s has no Id", elementTag)
	}
	if root.FindElement("./"+signatureElem) != nil {
		return nil, fmt.Errorf("signer: document already signed")
	}

	// The digest is taken over the element as it reads inside the
	// document, so the inherited default namespace is made explicit.
	detached := target.Copy()
	if ns := root.SelectAttrValue("xmlns", ""); ns != "" && detached.SelectAttr("xmlns") == nil {
		detached.CreateAttr("xmlns", ns)
	}

	ctx := dsig.NewDefaultSigningContext(dsig.TLSCertKeyStore(cred.TLSCertificate()))
	ctx.Prefix = ""
	ctx.IdAttribute = "Id"
	ctx.Canonicalizer = dsig.MakeC14N10RecCanonicalizer()
	if err := ctx.SetSignatureMethod(dsig.RSASHA1SignatureMethod); err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}

	sig, err := ctx.ConstructSignature(detached, true)
	if err != nil {
		return nil, fmt.Errorf("signer: construct signature: %w", err)
	}
	root.AddChild(sig)

	doc.WriteSettings.CanonicalEndTags = true
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("signer: write document: %w", err)
	}
	return out, nil
}
