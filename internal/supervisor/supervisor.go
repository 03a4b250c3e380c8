// Package supervisor implements the Background Supervisor (spec.md
// §4.L): a cron-scheduled loop that reclaims stuck sync operations and
// probes catalog health, grounded on the developer-mesh pack's
// rag-loader Service (robfig/cron scheduler, AddFunc-registered jobs,
// graceful Stop).
package supervisor

import (
	"context"
	"fmt"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragserver/internal/catalog"
	"github.com/fyrsmithlabs/ragserver/internal/syncmanager"
)

// Supervisor runs exception-isolated maintenance cycles for the
// lifetime of the process (spec.md §4.L).
type Supervisor struct {
	cron  *cron.Cron
	sync  *syncmanager.Manager
	store *catalog.Store
	log   *zap.Logger
}

// New builds a Supervisor that wakes on cleanupSchedule (a cron
// spec such as "@every 5m") to run cleanup_stuck_operations and a
// catalog health probe.
func New(sm *syncmanager.Manager, store *catalog.Store, cleanupSchedule string, log *zap.Logger) (*Supervisor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Supervisor{cron: cron.New(), sync: sm, store: store, log: log}

	if err := s.cron.AddFunc(cleanupSchedule, s.runCycle); err != nil {
		return nil, fmt.Errorf("supervisor: schedule cleanup: %w", err)
	}
	return s, nil
}

// Start launches the cron scheduler; it returns immediately, matching
// cron.Cron's own async Start/Stop contract.
func (s *Supervisor) Start() {
	s.cron.Start()
}

// Stop halts the scheduler so no new cycle starts; it does not wait for
// a cycle that is already running.
func (s *Supervisor) Stop() {
	s.cron.Stop()
}

// runCycle is exception-isolated: a panic or error in one cycle is
// logged, not propagated, so the scheduler loop survives it (spec.md
// §4.L: "each cycle is exception-isolated").
func (s *Supervisor) runCycle() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("supervisor: cycle panicked", zap.Any("recover", r))
		}
	}()

	ctx := context.Background()

	n, err := s.sync.CleanupStuckOperations(ctx)
	if err != nil {
		s.log.Warn("supervisor: cleanup_stuck_operations failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("supervisor: reclaimed stuck operations", zap.Int("count", n))
	}

	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("supervisor: catalog health probe failed", zap.Error(err))
	}
}
