package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/observability"
	"github.com/boddenberg/livefy-nfe-go/internal/nfe"
	"github.com/boddenberg/livefy-nfe-go/internal/port"
	"github.com/boddenberg/livefy-nfe-go/internal/signer"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Authority status codes accepted per operation.
var (
	cancelAccepted     = []int{135, 136, 155}
	correctionAccepted = []int{135, 136}
	voidAccepted       = []int{102}
	registryAccepted   = []int{111, 112}
)

// EventService runs the post-emission operations: state query,
// cancellation, correction letter, number voiding and registry lookup.
type EventService struct {
	profiles    port.FiscalProfileStore
	documents   port.DocumentLedger
	events      port.EventLedger
	credentials CredentialLoader
	builder     *nfe.EventBuilder
	signer      port.Signer
	authority   port.Authority
	defaultEnv  domain.Environment
	batchID     func() string
	now         func() time.Time
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewEventService creates the event service.
func NewEventService(
	profiles port.FiscalProfileStore,
	documents port.DocumentLedger,
	events port.EventLedger,
	credentials CredentialLoader,
	builder *nfe.EventBuilder,
	sig port.Signer,
	authority port.Authority,
	defaultEnv domain.Environment,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *EventService {
	if defaultEnv == 0 {
		defaultEnv = domain.EnvironmentHomologation
	}
	return &EventService{
		profiles:    profiles,
		documents:   documents,
		events:      events,
		credentials: credentials,
		builder:     builder,
		signer:      sig,
		authority:   authority,
		defaultEnv:  defaultEnv,
		batchID:     newBatchID,
		now:         time.Now,
		metrics:     metrics,
		logger:      logger,
	}
}

// session is the profile and credential an operation runs with.
type session struct {
	profile *domain.FiscalProfile
	cred    *domain.Credential
	target  domain.AuthorityTarget
}

func (s *EventService) open(ctx context.Context, merchantID int64) (*session, error) {
	profile, err := s.profiles.GetActiveFiscalProfile(ctx, merchantID)
	if err != nil {
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			return nil, &domain.ErrPrecondition{Condition: "Dados fiscais não cadastrados ou inativos"}
		}
		return nil, fmt.Errorf("fetch fiscal profile: %w", err)
	}
	cred, err := s.credentials.LoadCredential(ctx, profile)
	if err != nil {
		return nil, err
	}
	env := profile.Environment
	if env == 0 {
		env = s.defaultEnv
	}
	return &session{
		profile: profile,
		cred:    cred,
		target:  domain.AuthorityTarget{State: profile.Address.State, Environment: env},
	}, nil
}

// ============================================================
// Consult
// ============================================================

// Consult asks the authority for the current state of a document.
func (s *EventService) Consult(ctx context.Context, req *domain.ConsultRequest) (*domain.ConsultResult, error) {
	ctx, span := tracer.Start(ctx, "EventService.Consult")
	defer span.End()
	defer s.observe("consult", time.Now())

	if err := req.Validate(); err != nil {
		return nil, err
	}
	sess, err := s.open(ctx, req.MerchantID)
	if err != nil {
		return nil, err
	}

	resp, err := s.authority.QueryProtocol(ctx, sess.cred, sess.target, req.AccessKey)
	if err != nil {
		return nil, err
	}

	out := &domain.ConsultResult{
		AccessKey: req.AccessKey,
		Code:      resp.Status.Code,
		Message:   resp.Status.Message,
	}
	if p := resp.Protocol; p != nil {
		out.Protocol = p.Number
		out.AuthorizedAt = p.ReceivedAt
	}
	s.logger.Info("document state queried",
		zap.String("chave", req.AccessKey),
		zap.Int("cstat", out.Code),
	)
	return out, nil
}

// ============================================================
// Cancellation / correction letter
// ============================================================

// Cancel registers a cancellation event. Without an explicit protocol the
// one recorded in the ledger is used.
func (s *EventService) Cancel(ctx context.Context, req *domain.CancelRequest) (*domain.EventResult, error) {
	ctx, span := tracer.Start(ctx, "EventService.Cancel")
	defer span.End()
	defer s.observe("cancel", time.Now())
	span.SetAttributes(attribute.String("nfe.chave", req.AccessKey))

	if err := req.Validate(); err != nil {
		return nil, err
	}
	sess, err := s.open(ctx, req.MerchantID)
	if err != nil {
		return nil, err
	}

	protocol := strings.TrimSpace(req.Protocol)
	if protocol == "" {
		doc, err := s.documents.GetIssuedDocumentByKey(ctx, req.MerchantID, req.AccessKey)
		if err != nil {
			var nf *domain.ErrNotFound
			if errors.As(err, &nf) {
				return nil, &domain.ErrValidation{Field: "protocolo", Message: "obrigatório para notas não registradas"}
			}
			return nil, fmt.Errorf("fetch issued document: %w", err)
		}
		if doc.Protocol == "" {
			return nil, &domain.ErrPrecondition{Condition: "Nota sem protocolo de autorização"}
		}
		protocol = doc.Protocol
	}

	ev, err := s.builder.Cancellation(nfe.EventInput{
		Profile:     sess.profile,
		AccessKey:   req.AccessKey,
		Environment: sess.target.Environment,
		Sequence:    1,
	}, protocol, req.Reason)
	if err != nil {
		return nil, err
	}
	return s.sendEvent(ctx, sess, ev, req.Reason, cancelAccepted)
}

// Correct registers a correction letter with the next sequence number for
// the key.
func (s *EventService) Correct(ctx context.Context, req *domain.CorrectionRequest) (*domain.EventResult, error) {
	ctx, span := tracer.Start(ctx, "EventService.Correct")
	defer span.End()
	defer s.observe("correction", time.Now())
	span.SetAttributes(attribute.String("nfe.chave", req.AccessKey))

	if err := req.Validate(); err != nil {
		return nil, err
	}
	sess, err := s.open(ctx, req.MerchantID)
	if err != nil {
		return nil, err
	}

	previous, err := s.events.CountEvents(ctx, req.AccessKey, domain.EventCorrection)
	if err != nil {
		return nil, fmt.Errorf("count correction letters: %w", err)
	}

	ev, err := s.builder.Correction(nfe.EventInput{
		Profile:     sess.profile,
		AccessKey:   req.AccessKey,
		Environment: sess.target.Environment,
		Sequence:    previous + 1,
	}, req.Correction)
	if err != nil {
		return nil, err
	}
	return s.sendEvent(ctx, sess, ev, req.Correction, correctionAccepted)
}

func (s *EventService) sendEvent(ctx context.Context, sess *session, ev *nfe.Evento, text string, accepted []int) (*domain.EventResult, error) {
	inf := ev.InfEvento
	eventType := domain.EventType(inf.TpEvento)

	unsigned, err := nfe.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	signed, err := s.signer.Sign(unsigned, signer.ElementEvent, sess.cred)
	if err != nil {
		return nil, err
	}

	resp, err := s.authority.SendEvent(ctx, sess.cred, sess.target, s.batchID(), signed)
	if err != nil {
		return nil, err
	}
	if len(resp.Events) == 0 {
		s.logger.Warn("event batch without retEvento",
			zap.String("chave", inf.ChNFe),
			zap.Int("cstat", resp.Status.Code),
			zap.String("xmotivo", resp.Status.Message),
		)
		return nil, &domain.ErrAuthorityStatus{Operation: "NFeRecepcaoEvento4", Code: resp.Status.Code, Message: resp.Status.Message}
	}

	receipt := resp.Events[0]
	if !accepts(accepted, receipt.Status.Code) {
		s.logger.Warn("event rejected",
			zap.String("chave", inf.ChNFe),
			zap.String("tipo", string(eventType)),
			zap.Int("cstat", receipt.Status.Code),
			zap.String("xmotivo", receipt.Status.Message),
		)
		return nil, &domain.ErrAuthorityRejection{Code: receipt.Status.Code, Message: receipt.Status.Message}
	}

	proc, err := nfe.AttachEventReceipt(signed, &receipt)
	if err != nil {
		s.logger.Error("event receipt could not be attached", zap.String("chave", inf.ChNFe), zap.Error(err))
		proc = signed
	}

	fe := &domain.FiscalEvent{
		ID:            uuid.NewString(),
		MerchantID:    sess.profile.MerchantID,
		ProfileID:     sess.profile.ID,
		Type:          eventType,
		AccessKey:     inf.ChNFe,
		Sequence:      inf.NSeqEvento,
		Justification: strings.TrimSpace(text),
		Protocol:      receipt.Protocol,
		Code:          receipt.Status.Code,
		Message:       receipt.Status.Message,
		Environment:   sess.target.Environment,
		XML:           string(proc),
		CreatedAt:     s.now(),
	}
	if err := s.record(ctx, fe); err != nil {
		return nil, err
	}

	return &domain.EventResult{
		Code:         receipt.Status.Code,
		Message:      receipt.Status.Message,
		Protocol:     receipt.Protocol,
		RegisteredAt: receipt.RegisteredAt,
		Sequence:     inf.NSeqEvento,
		XML:          base64.StdEncoding.EncodeToString(proc),
	}, nil
}

// ============================================================
// Number voiding
// ============================================================

// VoidRange voids an unused range of numbers of a series.
func (s *EventService) VoidRange(ctx context.Context, req *domain.VoidRangeRequest) (*domain.EventResult, error) {
	ctx, span := tracer.Start(ctx, "EventService.VoidRange")
	defer span.End()
	defer s.observe("void_range", time.Now())

	if err := req.Validate(); err != nil {
		return nil, err
	}
	sess, err := s.open(ctx, req.MerchantID)
	if err != nil {
		return nil, err
	}

	inut, err := s.builder.VoidRange(sess.profile, sess.target.Environment, req.Series, req.First, req.Last, req.Reason)
	if err != nil {
		return nil, err
	}
	unsigned, err := nfe.Marshal(inut)
	if err != nil {
		return nil, fmt.Errorf("marshal voiding: %w", err)
	}
	signed, err := s.signer.Sign(unsigned, signer.ElementVoid, sess.cred)
	if err != nil {
		return nil, err
	}

	resp, err := s.authority.VoidRange(ctx, sess.cred, sess.target, signed)
	if err != nil {
		return nil, err
	}
	if !accepts(voidAccepted, resp.Status.Code) {
		s.logger.Warn("voiding rejected",
			zap.String("serie", req.Series),
			zap.Int("numero_inicial", req.First),
			zap.Int("numero_final", req.Last),
			zap.Int("cstat", resp.Status.Code),
			zap.String("xmotivo", resp.Status.Message),
		)
		return nil, &domain.ErrAuthorityRejection{Code: resp.Status.Code, Message: resp.Status.Message}
	}

	proc, err := nfe.AttachVoidReceipt(signed, resp)
	if err != nil {
		s.logger.Error("voiding receipt could not be attached", zap.Error(err))
		proc = signed
	}

	fe := &domain.FiscalEvent{
		ID:            uuid.NewString(),
		MerchantID:    sess.profile.MerchantID,
		ProfileID:     sess.profile.ID,
		Type:          domain.EventVoidRange,
		Sequence:      1,
		Series:        req.Series,
		FirstNumber:   req.First,
		LastNumber:    req.Last,
		Justification: strings.TrimSpace(req.Reason),
		Protocol:      resp.Protocol,
		Code:          resp.Status.Code,
		Message:       resp.Status.Message,
		Environment:   sess.target.Environment,
		XML:           string(proc),
		CreatedAt:     s.now(),
	}
	if err := s.record(ctx, fe); err != nil {
		return nil, err
	}

	return &domain.EventResult{
		Code:         resp.Status.Code,
		Message:      resp.Status.Message,
		Protocol:     resp.Protocol,
		RegisteredAt: resp.ReceivedAt,
		XML:          base64.StdEncoding.EncodeToString(proc),
	}, nil
}

// ============================================================
// Registry lookup
// ============================================================

// LookupRegistry queries a state's taxpayer registry with the merchant's
// certificate.
func (s *EventService) LookupRegistry(ctx context.Context, req *domain.RegistryRequest) (*domain.RegistryResult, error) {
	ctx, span := tracer.Start(ctx, "EventService.LookupRegistry")
	defer span.End()
	defer s.observe("registry", time.Now())

	if err := req.Validate(); err != nil {
		return nil, err
	}
	sess, err := s.open(ctx, req.MerchantID)
	if err != nil {
		return nil, err
	}

	target := domain.AuthorityTarget{State: strings.ToUpper(req.State), Environment: sess.target.Environment}
	resp, err := s.authority.LookupRegistry(ctx, sess.cred, target, req.Document)
	if err != nil {
		return nil, err
	}
	if !accepts(registryAccepted, resp.Status.Code) {
		return nil, &domain.ErrAuthorityRejection{Code: resp.Status.Code, Message: resp.Status.Message}
	}
	return resp, nil
}

func (s *EventService) record(ctx context.Context, fe *domain.FiscalEvent) error {
	if _, err := s.events.CreateFiscalEvent(ctx, fe); err != nil {
		s.logger.Error("accepted event not recorded",
			zap.String("tipo", string(fe.Type)),
			zap.String("chave", fe.AccessKey),
			zap.String("protocolo", fe.Protocol),
			zap.Error(err),
		)
		return fmt.Errorf("record event: %w", err)
	}
	s.logger.Info("fiscal event recorded",
		zap.String("tipo", string(fe.Type)),
		zap.String("chave", fe.AccessKey),
		zap.String("protocolo", fe.Protocol),
		zap.Int("cstat", fe.Code),
	)
	return nil
}

func (s *EventService) observe(operation string, start time.Time) {
	s.metrics.RecordRequestDuration(operation, time.Since(start))
}

func accepts(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
