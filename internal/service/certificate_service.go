package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/certificate"
	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/observability"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/resilience"
	"github.com/boddenberg/livefy-nfe-go/internal/port"

	"go.uber.org/zap"
)

const validUntilLayout = "2006-01-02"

// CertificateService manages merchants' A1 certificates: upload, validation,
// removal, inspection, and loading them for signing.
//
// Every mutation and every credential load for a merchant runs under the
// same per-merchant lock.
type CertificateService struct {
	profiles port.FiscalProfileStore
	vault    *certificate.Vault
	sealer   *certificate.Sealer
	cache    port.Cache[*domain.Credential]
	locks    *resilience.KeyedLock
	now      func() time.Time
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewCertificateService creates the certificate service.
func NewCertificateService(
	profiles port.FiscalProfileStore,
	vault *certificate.Vault,
	sealer *certificate.Sealer,
	cache port.Cache[*domain.Credential],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *CertificateService {
	return &CertificateService{
		profiles: profiles,
		vault:    vault,
		sealer:   sealer,
		cache:    cache,
		locks:    resilience.NewKeyedLock(),
		now:      time.Now,
		metrics:  metrics,
		logger:   logger,
	}
}

// SetClock replaces the time source. Tests only.
func (s *CertificateService) SetClock(now func() time.Time) { s.now = now }

func certLockKey(merchantID int64) string {
	return fmt.Sprintf("cert:%d", merchantID)
}

func credentialKey(merchantID int64, fileName string) string {
	return fmt.Sprintf("%d:%s", merchantID, fileName)
}

// ============================================================
// Validate
// ============================================================

// Validate opens a container without storing it.
func (s *CertificateService) Validate(ctx context.Context, fileName string, content []byte, password string) (*domain.CertificateSummary, error) {
	_, span := tracer.Start(ctx, "CertificateService.Validate")
	defer span.End()

	cred, err := s.open(fileName, content, password)
	if err != nil {
		s.metrics.IncrCertificateOp("validate", "error")
		return nil, err
	}

	info := certificate.Describe(cred)
	taxID, _ := certificate.ExtractTaxID(info)
	summary := certificate.Summarize(info, taxID, s.now())
	s.metrics.IncrCertificateOp("validate", "ok")
	return &summary, nil
}

func (s *CertificateService) open(fileName string, content []byte, password string) (*domain.Credential, error) {
	if err := certificate.CheckUpload(fileName, int64(len(content))); err != nil {
		s.logger.Warn("certificate upload refused",
			zap.String("file", fileName),
			zap.Int("bytes", len(content)),
			zap.Error(err),
		)
		return nil, err
	}
	cred, err := certificate.Open(content, password)
	if err != nil {
		s.logger.Warn("certificate could not be opened", zap.Error(err))
		return nil, err
	}
	return cred, nil
}

// ============================================================
// Upload
// ============================================================

// Upload validates and stores a merchant's container, replacing the previous
// one. Expired certificates are stored with a warning.
func (s *CertificateService) Upload(ctx context.Context, merchantID int64, fileName string, content []byte, password string) (*domain.CertificateUploadResult, error) {
	ctx, span := tracer.Start(ctx, "CertificateService.Upload")
	defer span.End()

	if merchantID <= 0 {
		return nil, &domain.ErrValidation{Field: "user_id", Message: "obrigatório"}
	}
	if password == "" {
		return nil, &domain.ErrValidation{Field: "senha", Message: "obrigatório"}
	}

	cred, err := s.open(fileName, content, password)
	if err != nil {
		s.metrics.IncrCertificateOp("upload", "error")
		return nil, err
	}
	info := certificate.Describe(cred)
	now := s.now()

	taxID, err := certificate.ExtractTaxID(info)
	if err != nil {
		s.logger.Warn("CNPJ not found in certificate subject",
			zap.Int64("merchant_id", merchantID),
			zap.String("cn", info.CommonName),
		)
	}

	release, err := s.locks.Acquire(ctx, certLockKey(merchantID))
	if err != nil {
		return nil, err
	}
	defer release()

	profile, err := s.profiles.GetFiscalProfile(ctx, merchantID)
	if err != nil {
		s.metrics.IncrCertificateOp("upload", "error")
		return nil, fmt.Errorf("load fiscal profile: %w", err)
	}
	if taxID != "" && domain.OnlyDigits(profile.CNPJ) != taxID {
		s.logger.Warn("certificate CNPJ differs from fiscal profile",
			zap.Int64("merchant_id", merchantID),
			zap.String("certificate_cnpj", taxID),
		)
	}

	name, err := s.vault.Write(merchantID, taxID, content, now)
	if err != nil {
		s.metrics.IncrCertificateOp("upload", "error")
		s.logger.Error("failed to store certificate", zap.Int64("merchant_id", merchantID), zap.Error(err))
		return nil, &domain.ErrCredential{Reason: domain.CredentialStorageFailure, Message: "Erro ao salvar certificado", Err: err}
	}

	sealed, err := s.sealer.Seal(password)
	if err != nil {
		s.vault.Delete(merchantID, name)
		s.metrics.IncrCertificateOp("upload", "error")
		return nil, fmt.Errorf("seal certificate password: %w", err)
	}

	validUntil := info.NotAfter
	upd := domain.CertificateUpdate{FileName: name, SealedPassword: sealed, ValidUntil: &validUntil}
	if err := s.profiles.UpdateCertificate(ctx, profile.ID, upd); err != nil {
		if delErr := s.vault.Delete(merchantID, name); delErr != nil {
			s.logger.Error("failed to discard stored certificate", zap.String("file", name), zap.Error(delErr))
		}
		s.metrics.IncrCertificateOp("upload", "error")
		s.logger.Error("failed to update fiscal profile certificate", zap.Int64("merchant_id", merchantID), zap.Error(err))
		return nil, fmt.Errorf("update fiscal profile: %w", err)
	}

	if old := profile.CertificateFile; old != "" && old != name {
		if err := s.vault.Delete(merchantID, old); err != nil {
			s.logger.Warn("failed to delete previous certificate", zap.String("file", old), zap.Error(err))
		}
		s.cache.Delete(credentialKey(merchantID, old))
	}

	days := certificate.RemainingDays(info.NotAfter, now)
	if days <= 0 {
		s.logger.Warn("expired certificate stored",
			zap.Int64("merchant_id", merchantID),
			zap.Time("not_after", info.NotAfter),
		)
	}
	s.metrics.IncrCertificateOp("upload", "ok")
	s.logger.Info("certificate stored",
		zap.Int64("merchant_id", merchantID),
		zap.String("file", name),
		zap.Int("remaining_days", days),
	)

	return &domain.CertificateUploadResult{
		FileName:      name,
		CNPJ:          taxID,
		ValidUntil:    info.NotAfter.Format(validUntilLayout),
		RemainingDays: days,
	}, nil
}

// ============================================================
// Remove / Info
// ============================================================

// Remove deletes the merchant's container and clears the profile fields.
func (s *CertificateService) Remove(ctx context.Context, merchantID int64) error {
	ctx, span := tracer.Start(ctx, "CertificateService.Remove")
	defer span.End()

	release, err := s.locks.Acquire(ctx, certLockKey(merchantID))
	if err != nil {
		return err
	}
	defer release()

	profile, err := s.profiles.GetFiscalProfile(ctx, merchantID)
	if err != nil {
		return fmt.Errorf("load fiscal profile: %w", err)
	}
	if !profile.HasCertificate() {
		return &domain.ErrNotFound{Resource: "certificado", ID: fmt.Sprint(merchantID)}
	}

	if err := s.vault.Delete(merchantID, profile.CertificateFile); err != nil {
		s.metrics.IncrCertificateOp("remove", "error")
		return &domain.ErrCredential{Reason: domain.CredentialStorageFailure, Message: "Erro ao remover certificado", Err: err}
	}
	if err := s.profiles.UpdateCertificate(ctx, profile.ID, domain.CertificateUpdate{}); err != nil {
		s.metrics.IncrCertificateOp("remove", "error")
		return fmt.Errorf("update fiscal profile: %w", err)
	}
	s.cache.Delete(credentialKey(merchantID, profile.CertificateFile))

	s.metrics.IncrCertificateOp("remove", "ok")
	s.logger.Info("certificate removed", zap.Int64("merchant_id", merchantID), zap.String("file", profile.CertificateFile))
	return nil
}

// Info reopens the stored container to report its current validity.
func (s *CertificateService) Info(ctx context.Context, merchantID int64) (*domain.CertificateSummary, error) {
	ctx, span := tracer.Start(ctx, "CertificateService.Info")
	defer span.End()

	profile, err := s.profiles.GetFiscalProfile(ctx, merchantID)
	if err != nil {
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			return &domain.CertificateSummary{Configured: false, Message: "Dados fiscais não cadastrados"}, nil
		}
		return nil, fmt.Errorf("load fiscal profile: %w", err)
	}
	if !profile.HasCertificate() {
		return &domain.CertificateSummary{Configured: false, Message: "Nenhum certificado configurado"}, nil
	}

	cred, err := s.readCredential(profile)
	if err != nil {
		return nil, err
	}
	info := certificate.Describe(cred)
	taxID, _ := certificate.ExtractTaxID(info)
	summary := certificate.Summarize(info, taxID, s.now())
	summary.File = profile.CertificateFile
	return &summary, nil
}

// ============================================================
// Credential loading
// ============================================================

// LoadCredential returns the opened credential for profile, checking its
// validity window on every call.
func (s *CertificateService) LoadCredential(ctx context.Context, profile *domain.FiscalProfile) (*domain.Credential, error) {
	if !profile.HasCertificate() {
		return nil, &domain.ErrPrecondition{Condition: "Certificado digital não configurado"}
	}

	release, err := s.locks.Acquire(ctx, certLockKey(profile.MerchantID))
	if err != nil {
		return nil, err
	}
	defer release()

	key := credentialKey(profile.MerchantID, profile.CertificateFile)
	cred, ok := s.cache.Get(key)
	if ok {
		s.metrics.IncrCacheHit("certificate")
	} else {
		s.metrics.IncrCacheMiss("certificate")
		cred, err = s.readCredential(profile)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, cred)
	}

	now := s.now()
	if !cred.ValidAt(now) {
		if now.Before(cred.Certificate.NotBefore) {
			return nil, &domain.ErrCredential{Reason: domain.CredentialNotYetValid, Message: "Certificado digital ainda não é válido"}
		}
		s.logger.Warn("expired certificate used for emission",
			zap.Int64("merchant_id", profile.MerchantID),
			zap.Time("not_after", cred.Certificate.NotAfter),
		)
		return nil, &domain.ErrCredential{Reason: domain.CredentialExpired, Message: "Certificado digital expirado"}
	}
	return cred, nil
}

func (s *CertificateService) readCredential(profile *domain.FiscalProfile) (*domain.Credential, error) {
	content, err := s.vault.Read(profile.MerchantID, profile.CertificateFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Error("certificate file missing",
				zap.Int64("merchant_id", profile.MerchantID),
				zap.String("file", profile.CertificateFile),
			)
			return nil, &domain.ErrCredential{Reason: domain.CredentialMissingFile, Message: "Arquivo do certificado não encontrado"}
		}
		return nil, &domain.ErrCredential{Reason: domain.CredentialStorageFailure, Message: "Erro ao ler certificado", Err: err}
	}

	password, err := s.sealer.Open(profile.CertificatePassword)
	if err != nil {
		s.logger.Error("certificate password could not be unsealed", zap.Int64("merchant_id", profile.MerchantID))
		return nil, &domain.ErrCredential{Reason: domain.CredentialPasswordUnsealed, Message: "Senha do certificado não pôde ser lida", Err: err}
	}

	return certificate.Open(content, password)
}
