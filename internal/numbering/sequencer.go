// Package numbering assigns document numbers per (merchant, type, series).
package numbering

import (
	"context"
	"fmt"
	"sync"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/resilience"
	"github.com/boddenberg/livefy-nfe-go/internal/port"

	"go.uber.org/zap"
)

// MaxNumber is the largest nNF the layout accepts.
const MaxNumber = 999999999

// Sequencer hands out the next number of a sequence. Concurrent callers
// for the same sequence are serialized and never receive the same number,
// even before the first of them reaches the ledger.
type Sequencer struct {
	ledger port.DocumentLedger
	locks  *resilience.KeyedLock
	logger *zap.Logger

	mu     sync.Mutex
	issued map[string]int
}

// NewSequencer creates a Sequencer reading the ledger's high-water mark.
func NewSequencer(ledger port.DocumentLedger, logger *zap.Logger) *Sequencer {
	return &Sequencer{
		ledger: ledger,
		locks:  resilience.NewKeyedLock(),
		logger: logger,
		issued: make(map[string]int),
	}
}

func sequenceKey(merchantID int64, docType domain.DocumentType, series string) string {
	return fmt.Sprintf("%d:%s:%s", merchantID, docType, series)
}

// Next returns max(recorded)+1, or 1 for an empty sequence, skipping any
// number already handed out by this process.
func (s *Sequencer) Next(ctx context.Context, merchantID int64, docType domain.DocumentType, series string) (int, error) {
	key := sequenceKey(merchantID, docType, series)

	release, err := s.locks.Acquire(ctx, key)
	if err != nil {
		return 0, err
	}
	defer release()

	recorded, err := s.ledger.MaxNumber(ctx, merchantID, docType, series)
	if err != nil {
		s.logger.Error("failed to read sequence high-water mark",
			zap.String("sequence", key),
			zap.Error(err),
		)
		return 0, fmt.Errorf("numbering: %w", err)
	}

	s.mu.Lock()
	next := recorded + 1
	if issued := s.issued[key]; issued >= next {
		next = issued + 1
	}
	if next > MaxNumber {
		s.mu.Unlock()
		return 0, &domain.ErrPrecondition{Condition: "Numeração esgotada para a série " + series}
	}
	s.issued[key] = next
	s.mu.Unlock()

	s.logger.Debug("number assigned",
		zap.String("sequence", key),
		zap.Int("recorded_max", recorded),
		zap.Int("number", next),
	)
	return next, nil
}

// Release gives a number back when nothing was sent to the authority with
// it. Only the most recently issued number of a sequence can be returned.
func (s *Sequencer) Release(merchantID int64, docType domain.DocumentType, series string, number int) {
	key := sequenceKey(merchantID, docType, series)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.issued[key] == number {
		s.issued[key] = number - 1
	}
}
