package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
	"github.com/R3E-Network/prizepool/pkg/logger"
)

// Recorder is an event sink that writes round outcomes and the engine state each committed
// change carries. States reach the store newest-wins: a state whose Seq is not above the last
// one saved is dropped, and stores ignore older states that overtake a newer write.
type Recorder struct {
	store Store
	log   *logger.Logger

	mu   sync.Mutex
	last uint64
}

// NewRecorder returns a recorder writing to store.
func NewRecorder(store Store, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.NewDefault("recorder")
	}
	return &Recorder{store: store, log: log}
}

func (r *Recorder) Publish(ctx context.Context, ev pool.Event) error {
	if ev.Kind == pool.EventRewarded && ev.Outcome != nil {
		rec, err := r.store.SaveRound(ctx, *ev.Outcome)
		if err != nil {
			return fmt.Errorf("save round %d: %w", ev.RoundID, err)
		}
		r.log.WithField("round_id", ev.RoundID).WithField("record_id", rec.ID).Debug("round recorded")
	}
	// a jackpot shares the state of the rewarded event for the same close
	if ev.Kind == pool.EventJackpot || ev.State == nil {
		return nil
	}
	if r.stale(ev.State.Seq) {
		r.log.WithField("seq", ev.State.Seq).Debug("newer engine state already saved")
		return nil
	}
	if err := r.store.SaveState(ctx, *ev.State); err != nil {
		return fmt.Errorf("save engine state %d: %w", ev.State.Seq, err)
	}
	r.mu.Lock()
	if ev.State.Seq > r.last {
		r.last = ev.State.Seq
	}
	r.mu.Unlock()
	return nil
}

func (r *Recorder) stale(seq uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return seq <= r.last
}
