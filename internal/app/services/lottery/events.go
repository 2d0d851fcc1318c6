package lottery

import (
	"context"
	"errors"

	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
	"github.com/R3E-Network/prizepool/pkg/logger"
)

// EventSink receives committed state changes.
type EventSink interface {
	Publish(ctx context.Context, ev pool.Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev pool.Event) error

func (f SinkFunc) Publish(ctx context.Context, ev pool.Event) error {
	return f(ctx, ev)
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, ev pool.Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes every event to a logger.
type LogSink struct {
	Log *logger.Logger
}

func (s LogSink) Publish(_ context.Context, ev pool.Event) error {
	if s.Log == nil {
		return nil
	}
	entry := s.Log.WithField("event", string(ev.Kind)).WithField("round_id", ev.RoundID)
	switch ev.Kind {
	case pool.EventDeposited, pool.EventWithdrawn:
		entry.WithField("participant", ev.Participant.Hex()).
			WithField("amount", pool.FormatAmount(ev.Amount)).
			Info("balance changed")
	case pool.EventRewarded:
		if ev.Outcome == nil {
			return nil
		}
		entry.WithField("winners", len(ev.Outcome.Winners)).
			WithField("fee", pool.FormatAmount(ev.Outcome.Fee)).
			WithField("executor", ev.Outcome.Executor.Hex()).
			Info("round rewarded")
	case pool.EventJackpot:
		entry.WithField("winner", ev.Participant.Hex()).
			WithField("prize", pool.FormatAmount(ev.Amount)).
			Info("jackpot won")
	}
	return nil
}
