// Package certtest builds throwaway A1 certificate containers for tests.
package certtest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// DefaultCommonName follows the ICP-Brasil e-CNPJ "NAME:CNPJ" convention.
const DefaultCommonName = "EMPRESA TESTE LTDA:12345678000195"

// DefaultPassword protects containers built without an explicit password.
const DefaultPassword = "senha-teste"

// Options customizes the generated certificate.
type Options struct {
	CommonName   string
	SerialNumber string // subject serialNumber attribute
	NotBefore    time.Time
	NotAfter     time.Time
	Password     string
}

// Fixture is a generated container with its parts.
type Fixture struct {
	PFX         []byte
	Certificate *x509.Certificate
	Key         *rsa.PrivateKey
	Password    string
}

// New generates a self-signed RSA certificate and wraps it in a PKCS#12
// container. Zero-valued options get defaults valid for a year from now.
func New(t testing.TB, opts Options) *Fixture {
	t.Helper()

	if opts.CommonName == "" {
		opts.CommonName = DefaultCommonName
	}
	if opts.Password == "" {
		opts.Password = DefaultPassword
	}
	if opts.NotBefore.IsZero() {
		opts.NotBefore = time.Now().Add(-time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = time.Now().Add(365 * 24 * time.Hour)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("certtest: generate key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:   opts.CommonName,
			SerialNumber: opts.SerialNumber,
			Organization: []string{"ICP-Brasil"},
			Country:      []string{"BR"},
		},
		Issuer:                pkix.Name{CommonName: "AC TESTE"},
		NotBefore:             opts.NotBefore,
		NotAfter:              opts.NotAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("certtest: create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("certtest: parse certificate: %v", err)
	}

	pfx, err := pkcs12.Modern.Encode(key, cert, nil, opts.Password)
	if err != nil {
		t.Fatalf("certtest: encode pkcs12: %v", err)
	}

	return &Fixture{PFX: pfx, Certificate: cert, Key: key, Password: opts.Password}
}
