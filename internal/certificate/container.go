// Package certificate opens A1 certificate containers (PKCS#12), extracts
// the taxpayer id from the subject, and stores containers on disk.
package certificate

import (
	"crypto"
	"crypto/rsa"
	"errors"
	"path/filepath"
	"strings"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

const (
	// MaxUploadSize is the largest container accepted, in bytes.
	MaxUploadSize = 5 * 1024 * 1024
	// Extension is the only accepted container file extension.
	Extension = ".pfx"
)

// CheckUpload rejects containers by size and extension before any parsing.
func CheckUpload(fileName string, size int64) error {
	if size > MaxUploadSize {
		return &domain.ErrCredential{
			Reason:  domain.CredentialTooLarge,
			Message: "Arquivo excede o tamanho máximo de 5MB",
		}
	}
	if !strings.EqualFold(filepath.Ext(fileName), Extension) {
		return &domain.ErrCredential{
			Reason:  domain.CredentialBadExtension,
			Message: "Arquivo deve ter extensão .pfx",
		}
	}
	return nil
}

// Open decodes a PKCS#12 container. Only RSA keys are accepted since
// XML-DSig for NFe is RSA-SHA1.
func Open(content []byte, password string) (*domain.Credential, error) {
	key, cert, chain, err := pkcs12.DecodeChain(content, password)
	if err != nil {
		return nil, classifyDecodeError(err)
	}
	if cert == nil {
		return nil, &domain.ErrCredential{
			Reason:  domain.CredentialInvalid,
			Message: "Certificado não encontrado no arquivo",
		}
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, &domain.ErrCredential{
			Reason:  domain.CredentialUnsupported,
			Message: "Chave privada do certificado não é RSA",
		}
	}
	if !rsaKey.PublicKey.Equal(cert.PublicKey) {
		return nil, &domain.ErrCredential{
			Reason:  domain.CredentialInvalid,
			Message: "Chave privada não corresponde ao certificado",
		}
	}

	return &domain.Credential{
		Certificate: cert,
		PrivateKey:  crypto.Signer(rsaKey),
		Chain:       chain,
	}, nil
}

func classifyDecodeError(err error) error {
	if errors.Is(err, pkcs12.ErrIncorrectPassword) {
		return &domain.ErrCredential{
			Reason:  domain.CredentialWrongPassword,
			Message: "Senha do certificado incorreta",
		}
	}
	var notImpl pkcs12.NotImplementedError
	if errors.As(err, &notImpl) {
		return &domain.ErrCredential{
			Reason:  domain.CredentialUnsupported,
			Message: "Formato de certificado não suportado",
			Err:     err,
		}
	}
	return &domain.ErrCredential{
		Reason:  domain.CredentialInvalid,
		Message: "Certificado inválido ou corrompido",
		Err:     err,
	}
}

// Describe extracts the subject data the API reports.
func Describe(cred *domain.Credential) domain.CertificateInfo {
	c := cred.Certificate
	issuer := c.Issuer.CommonName
	if issuer == "" {
		issuer = c.Issuer.String()
	}
	return domain.CertificateInfo{
		CommonName:   c.Subject.CommonName,
		SubjectSN:    c.Subject.SerialNumber,
		Issuer:       issuer,
		SerialNumber: c.SerialNumber.String(),
		NotBefore:    c.NotBefore,
		NotAfter:     c.NotAfter,
	}
}
