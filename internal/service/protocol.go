package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/boddenberg/livefy-nfe-go/internal/port"

	"go.uber.org/zap"
)

const (
	statusAuthorized    = 100
	statusBatchReceived = 103
)

// ProtocolProcessor submits a signed document and resolves the authority's
// answer into a TransmissionOutcome.
type ProtocolProcessor struct {
	authority port.Authority
	pollDelay time.Duration
	batchID   func() string
	sleep     func(time.Duration)
	logger    *zap.Logger
}

// ProtocolOption configures a ProtocolProcessor.
type ProtocolOption func(*ProtocolProcessor)

// WithBatchID replaces the idLote generator.
func WithBatchID(fn func() string) ProtocolOption {
	return func(p *ProtocolProcessor) { p.batchID = fn }
}

// WithSleep replaces the wait before the receipt poll.
func WithSleep(fn func(time.Duration)) ProtocolOption {
	return func(p *ProtocolProcessor) { p.sleep = fn }
}

// NewProtocolProcessor creates a processor that waits pollDelay before the
// single receipt query of an asynchronous batch.
func NewProtocolProcessor(authority port.Authority, pollDelay time.Duration, logger *zap.Logger, opts ...ProtocolOption) *ProtocolProcessor {
	p := &ProtocolProcessor{
		authority: authority,
		pollDelay: pollDelay,
		batchID:   newBatchID,
		sleep:     time.Sleep,
		logger:    logger,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// newBatchID returns a 15-digit idLote.
func newBatchID() string {
	return fmt.Sprintf("%015d", 100000000000000+rand.Int64N(900000000000000))
}

// Transmit sends signedNFe and returns the resolved outcome. It never
// returns an error directly: transport problems come back as
// OutcomeTransportFailure with Err set.
//
// A caller already gone before the submission gets OutcomeTransportFailure
// with the context error. From the submission on the caller's cancellation
// no longer applies: the submission and the poll run to completion, bounded
// by the authority client's own timeout.
func (p *ProtocolProcessor) Transmit(ctx context.Context, cred *domain.Credential, target domain.AuthorityTarget, signedNFe []byte) *domain.TransmissionOutcome {
	if err := ctx.Err(); err != nil {
		return &domain.TransmissionOutcome{Kind: domain.OutcomeTransportFailure, Err: err}
	}
	batchID := p.batchID()
	ctx = context.WithoutCancel(ctx)

	resp, err := p.authority.SubmitBatch(ctx, cred, target, batchID, signedNFe)
	if err != nil {
		p.logger.Error("batch submission failed",
			zap.String("lote", batchID),
			zap.String("uf", target.State),
			zap.Error(err),
		)
		return &domain.TransmissionOutcome{Kind: domain.OutcomeTransportFailure, Err: err}
	}

	if resp.Protocol != nil {
		return p.decide(resp.Protocol)
	}

	if resp.Status.Code != statusBatchReceived {
		p.logger.Warn("unexpected batch status",
			zap.String("lote", batchID),
			zap.Int("cstat", resp.Status.Code),
			zap.String("xmotivo", resp.Status.Message),
		)
		return &domain.TransmissionOutcome{
			Kind:   domain.OutcomeTransportFailure,
			Status: resp.Status,
			Err: &domain.ErrAuthorityStatus{
				Operation: "NFeAutorizacao4",
				Code:      resp.Status.Code,
				Message:   resp.Status.Message,
			},
		}
	}

	return p.poll(ctx, cred, target, batchID, resp)
}

func (p *ProtocolProcessor) poll(ctx context.Context, cred *domain.Credential, target domain.AuthorityTarget, batchID string, submitted *domain.BatchResponse) *domain.TransmissionOutcome {
	receipt := submitted.Receipt
	p.logger.Info("batch queued for asynchronous processing",
		zap.String("lote", batchID),
		zap.String("recibo", receipt),
		zap.Duration("poll_delay", p.pollDelay),
	)
	p.sleep(p.pollDelay)

	resp, err := p.authority.QueryReceipt(ctx, cred, target, receipt)
	if err != nil {
		p.logger.Error("receipt query failed",
			zap.String("recibo", receipt),
			zap.Error(err),
		)
		return &domain.TransmissionOutcome{
			Kind:    domain.OutcomeAsyncTimeout,
			Receipt: receipt,
			Status:  submitted.Status,
			Err:     err,
		}
	}

	if resp.Protocol == nil {
		p.logger.Warn("receipt still without protocol",
			zap.String("recibo", receipt),
			zap.Int("cstat", resp.Status.Code),
			zap.String("xmotivo", resp.Status.Message),
		)
		return &domain.TransmissionOutcome{
			Kind:    domain.OutcomeAsyncTimeout,
			Receipt: receipt,
			Status:  resp.Status,
		}
	}

	out := p.decide(resp.Protocol)
	out.Receipt = receipt
	return out
}

func (p *ProtocolProcessor) decide(prot *domain.Protocol) *domain.TransmissionOutcome {
	if prot.Status.Code == statusAuthorized {
		return &domain.TransmissionOutcome{
			Kind:     domain.OutcomeAuthorized,
			Protocol: prot,
			Status:   prot.Status,
		}
	}
	p.logger.Warn("document rejected",
		zap.String("chave", prot.AccessKey),
		zap.Int("cstat", prot.Status.Code),
		zap.String("xmotivo", prot.Status.Message),
	)
	return &domain.TransmissionOutcome{
		Kind:     domain.OutcomeRejected,
		Protocol: prot,
		Status:   prot.Status,
	}
}
