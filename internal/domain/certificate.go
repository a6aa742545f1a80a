package domain

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"time"
)

// Credential is an opened certificate container: the leaf certificate, its
// private key and any intermediate certificates shipped with it.
type Credential struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer
	Chain       []*x509.Certificate
}

// TLSCertificate builds the client certificate used for mutual TLS.
func (c *Credential) TLSCertificate() tls.Certificate {
	raw := make([][]byte, 0, 1+len(c.Chain))
	raw = append(raw, c.Certificate.Raw)
	for _, ca := range c.Chain {
		raw = append(raw, ca.Raw)
	}
	return tls.Certificate{
		Certificate: raw,
		PrivateKey:  c.PrivateKey,
		Leaf:        c.Certificate,
	}
}

// ValidAt reports whether t falls inside the certificate validity window.
func (c *Credential) ValidAt(t time.Time) bool {
	return !t.Before(c.Certificate.NotBefore) && !t.After(c.Certificate.NotAfter)
}

// CertificateInfo is what the API exposes about a certificate subject.
type CertificateInfo struct {
	CommonName   string    `json:"nome"`
	SubjectSN    string    `json:"serial_number,omitempty"`
	Issuer       string    `json:"emissor"`
	SerialNumber string    `json:"numero_serie"`
	NotBefore    time.Time `json:"validade_inicio"`
	NotAfter     time.Time `json:"validade_fim"`
}

// CertificateSummary answers the validate and info operations.
type CertificateSummary struct {
	Configured    bool   `json:"configurado"`
	Name          string `json:"nome,omitempty"`
	CNPJ          string `json:"cnpj,omitempty"`
	Issuer        string `json:"emissor,omitempty"`
	ValidFrom     string `json:"validade_inicio,omitempty"`
	ValidUntil    string `json:"validade_fim,omitempty"`
	RemainingDays int    `json:"dias_restantes"`
	Valid         bool   `json:"valido"`
	File          string `json:"arquivo,omitempty"`
	Message       string `json:"mensagem,omitempty"`
}

// CertificateUploadResult answers the upload operation.
type CertificateUploadResult struct {
	FileName      string `json:"nome_certificado"`
	CNPJ          string `json:"cnpj,omitempty"`
	ValidUntil    string `json:"validade_ate"`
	RemainingDays int    `json:"dias_restantes"`
}
