// Package service holds the NFe use cases: emission, certificate
// management and the post-emission fiscal events.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/observability"
	"github.com/boddenberg/livefy-nfe-go/internal/nfe"
	"github.com/boddenberg/livefy-nfe-go/internal/numbering"
	"github.com/boddenberg/livefy-nfe-go/internal/port"
	"github.com/boddenberg/livefy-nfe-go/internal/signer"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service/nfe")

const defaultSeries = "1"

// CredentialLoader returns a signing-ready credential for a profile.
type CredentialLoader interface {
	LoadCredential(ctx context.Context, profile *domain.FiscalProfile) (*domain.Credential, error)
}

// EmissionOptions are the deployment-level emission settings.
type EmissionOptions struct {
	// DefaultEnvironment applies to profiles without ambiente_nfe.
	DefaultEnvironment domain.Environment
	// RecordRejections keeps rejected documents in the ledger.
	RecordRejections bool
}

// EmissionService runs the emission pipeline for one sale: numbering,
// assembly, signing, transmission and recording.
type EmissionService struct {
	sales       port.SaleFetcher
	profiles    port.FiscalProfileStore
	credentials CredentialLoader
	sequencer   *numbering.Sequencer
	assembler   *nfe.Assembler
	signer      port.Signer
	processor   *ProtocolProcessor
	recorder    *EmissionRecorder
	opts        EmissionOptions
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewEmissionService creates the emission service with all dependencies injected.
func NewEmissionService(
	sales port.SaleFetcher,
	profiles port.FiscalProfileStore,
	credentials CredentialLoader,
	sequencer *numbering.Sequencer,
	assembler *nfe.Assembler,
	sig port.Signer,
	processor *ProtocolProcessor,
	recorder *EmissionRecorder,
	opts EmissionOptions,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *EmissionService {
	if opts.DefaultEnvironment == 0 {
		opts.DefaultEnvironment = domain.EnvironmentHomologation
	}
	return &EmissionService{
		sales:       sales,
		profiles:    profiles,
		credentials: credentials,
		sequencer:   sequencer,
		assembler:   assembler,
		signer:      sig,
		processor:   processor,
		recorder:    recorder,
		opts:        opts,
		metrics:     metrics,
		logger:      logger,
	}
}

// Emit issues the NFe for a paid sale. Only an authorized document yields a
// result; rejections and pending batches come back as typed errors.
func (s *EmissionService) Emit(ctx context.Context, req *domain.EmissionRequest) (*domain.EmissionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "EmissionService.Emit")
	defer span.End()
	span.SetAttributes(attribute.Int64("sale.id", req.SaleID))

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("emission", time.Since(start))
	}()

	result, err := s.emit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (s *EmissionService) emit(ctx context.Context, req *domain.EmissionRequest) (*domain.EmissionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// --- Step 1: sale, profile, credential ---
	sale, err := s.sales.GetSale(ctx, req.SaleID)
	if err != nil {
		s.logger.Warn("sale lookup failed", zap.Int64("sale_id", req.SaleID), zap.Error(err))
		return nil, fmt.Errorf("fetch sale: %w", err)
	}
	if req.MerchantID != 0 && sale.MerchantID != req.MerchantID {
		return nil, &domain.ErrForbidden{Action: "emitir nota para venda de outro lojista"}
	}
	if !sale.IsPaid() {
		s.logger.Warn("emission refused for unpaid sale",
			zap.Int64("sale_id", sale.ID),
			zap.String("payment_status", sale.PaymentStatus),
		)
		return nil, &domain.ErrPrecondition{Condition: "Venda não está paga"}
	}

	profile, err := s.activeProfile(ctx, sale.MerchantID)
	if err != nil {
		return nil, err
	}
	if err := profile.ValidateForEmission(); err != nil {
		s.logger.Warn("fiscal profile incomplete", zap.Int64("merchant_id", sale.MerchantID), zap.Error(err))
		return nil, err
	}

	cred, err := s.credentials.LoadCredential(ctx, profile)
	if err != nil {
		return nil, err
	}

	env := profile.Environment
	if env == 0 {
		env = s.opts.DefaultEnvironment
	}
	target := domain.AuthorityTarget{State: profile.Address.State, Environment: env}
	series := pickSeries(req.Config.Series, profile.DefaultSeries)

	// --- Step 2: numbering ---
	number, release, err := s.reserveNumber(ctx, sale.MerchantID, series, req.Config.Number)
	if err != nil {
		return nil, err
	}

	// --- Step 3: assemble + sign ---
	doc, err := s.assembler.Assemble(nfe.Input{
		Sale:        sale,
		Profile:     profile,
		Config:      req.Config,
		Series:      series,
		Number:      number,
		Environment: env,
	})
	if err != nil {
		release()
		s.logger.Warn("document assembly failed", zap.Int64("sale_id", sale.ID), zap.Error(err))
		return nil, err
	}
	unsigned, err := doc.Marshal()
	if err != nil {
		release()
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	signed, err := s.signer.Sign(unsigned, signer.ElementNFe, cred)
	if err != nil {
		release()
		s.logger.Error("document signing failed", zap.String("chave", doc.AccessKey), zap.Error(err))
		return nil, err
	}

	trace := []zap.Field{
		zap.Int64("sale_id", sale.ID),
		zap.Int64("merchant_id", sale.MerchantID),
		zap.String("chave", doc.AccessKey),
		zap.Int("numero", number),
		zap.String("serie", series),
		zap.String("ambiente", env.Key()),
	}

	// --- Step 4: transmit ---
	outcome := s.processor.Transmit(ctx, cred, target, signed)

	record := RecordInput{
		Outcome:     outcome,
		Sale:        sale,
		Profile:     profile,
		Config:      req.Config,
		Series:      series,
		Number:      number,
		Environment: env,
		Document:    doc,
		XML:         signed,
	}

	// --- Step 5: interpret + record ---
	switch outcome.Kind {
	case domain.OutcomeAuthorized:
		proc, err := nfe.AttachProtocol(signed, outcome.Protocol)
		if err != nil {
			s.logger.Error("protocol could not be attached, keeping signed document", append(trace, zap.Error(err))...)
			proc = signed
		}
		record.XML = proc

		saved, err := s.recorder.Persist(ctx, record)
		if err != nil {
			s.metrics.IncrEmission("failed")
			s.logger.Error("authorized document not recorded", append(trace, zap.String("protocolo", outcome.Protocol.Number), zap.Error(err))...)
			return nil, err
		}
		s.metrics.IncrEmission("authorized")
		s.logger.Info("NFe authorized", append(trace, zap.String("protocolo", outcome.Protocol.Number))...)

		return &domain.EmissionResult{
			DocumentID:   saved.ID,
			AccessKey:    doc.AccessKey,
			Protocol:     outcome.Protocol.Number,
			AuthorizedAt: outcome.Protocol.ReceivedAt,
			Number:       number,
			Series:       series,
			Status:       domain.StatusAuthorized,
			XML:          base64.StdEncoding.EncodeToString(proc),
		}, nil

	case domain.OutcomeRejected:
		s.metrics.IncrEmission("rejected")
		code := outcome.Status.Code
		denied := domain.IsDenial(code)
		if !denied && !domain.IsDuplicity(code) {
			// the authority did not take the number
			release()
		}
		if denied || s.opts.RecordRejections {
			if _, err := s.recorder.Persist(ctx, record); err != nil {
				s.logger.Error("rejected document not recorded", append(trace, zap.Error(err))...)
			}
		}
		return nil, &domain.ErrAuthorityRejection{Code: code, Message: outcome.Status.Message}

	case domain.OutcomeAsyncTimeout:
		s.metrics.IncrEmission("pending")
		if _, err := s.recorder.Persist(ctx, record); err != nil {
			s.logger.Error("pending document not recorded", append(trace, zap.String("recibo", outcome.Receipt), zap.Error(err))...)
		}
		return nil, &domain.ErrAsyncTimeout{
			Receipt: outcome.Receipt,
			Code:    outcome.Status.Code,
			Message: outcome.Status.Message,
		}
	}

	s.metrics.IncrEmission("failed")
	var open *domain.ErrCircuitOpen
	if errors.As(outcome.Err, &open) || errors.Is(outcome.Err, context.Canceled) {
		// nothing reached the authority
		release()
	}
	s.logger.Error("NFe transmission failed", append(trace, zap.Error(outcome.Err))...)
	if outcome.Err == nil {
		return nil, &domain.ErrAuthorityStatus{Operation: "NFeAutorizacao4", Code: outcome.Status.Code, Message: outcome.Status.Message}
	}
	return nil, outcome.Err
}

func (s *EmissionService) activeProfile(ctx context.Context, merchantID int64) (*domain.FiscalProfile, error) {
	profile, err := s.profiles.GetActiveFiscalProfile(ctx, merchantID)
	if err != nil {
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			s.logger.Warn("no active fiscal profile", zap.Int64("merchant_id", merchantID))
			return nil, &domain.ErrPrecondition{Condition: "Dados fiscais não cadastrados ou inativos"}
		}
		return nil, fmt.Errorf("fetch fiscal profile: %w", err)
	}
	return profile, nil
}

// reserveNumber returns the caller's number or the next one in sequence,
// with a function that gives a sequenced number back.
func (s *EmissionService) reserveNumber(ctx context.Context, merchantID int64, series string, explicit *int) (int, func(), error) {
	if explicit != nil {
		return *explicit, func() {}, nil
	}
	n, err := s.sequencer.Next(ctx, merchantID, domain.DocumentNFe, series)
	if err != nil {
		return 0, nil, err
	}
	return n, func() { s.sequencer.Release(merchantID, domain.DocumentNFe, series, n) }, nil
}

func pickSeries(requested, profileDefault string) string {
	if requested != "" {
		return requested
	}
	if profileDefault != "" {
		return profileDefault
	}
	return defaultSeries
}
