package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"

	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
	"github.com/R3E-Network/prizepool/internal/app/httpapi"
	"github.com/R3E-Network/prizepool/internal/app/keeper"
	"github.com/R3E-Network/prizepool/internal/app/metrics"
	"github.com/R3E-Network/prizepool/internal/app/services/custody"
	"github.com/R3E-Network/prizepool/internal/app/services/lottery"
	"github.com/R3E-Network/prizepool/internal/app/services/params"
	"github.com/R3E-Network/prizepool/internal/app/services/randomness"
	"github.com/R3E-Network/prizepool/internal/app/storage"
	"github.com/R3E-Network/prizepool/internal/app/storage/memory"
	"github.com/R3E-Network/prizepool/internal/app/system"
	"github.com/R3E-Network/prizepool/pkg/logger"
)

// Options configures the application. Nil collaborators default to in-memory
// implementations.
type Options struct {
	Admin   common.Address
	Params  params.Set
	Store   storage.Store
	Source  randomness.Source
	Custody custody.Custody
	Clock   clockwork.Clock
	Keeper  *keeper.Config // nil disables the keeper
}

// Application ties the round engine to storage, metrics and the keeper and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Engine *lottery.Engine
	Params *params.Store
	Store  storage.Store
	Vault  *custody.Vault // set when the in-memory vault holds the pool
	Keeper *keeper.Keeper
}

// New builds the application and restores the last saved engine state, if any.
func New(ctx context.Context, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Store == nil {
		opts.Store = memory.New()
	}

	paramStore, err := params.NewStore(opts.Admin, opts.Params, log.Named("params"))
	if err != nil {
		return nil, fmt.Errorf("configure params: %w", err)
	}

	var vault *custody.Vault
	if opts.Custody == nil {
		vault = custody.NewVault(log.Named("custody"))
		opts.Custody = vault
	}
	if opts.Source == nil {
		source, err := randomness.NewPhaseSource(randomness.PhaseConfig{
			Clock:     opts.Clock,
			Genesis:   opts.Clock.Now(),
			BlockTime: opts.Params.BlockTime,
			Interval:  10,
		})
		if err != nil {
			return nil, fmt.Errorf("configure randomness: %w", err)
		}
		log.Warn("no randomness source configured; using local phase source")
		opts.Source = source
	}

	var engine *lottery.Engine
	events := lottery.MultiSink{
		lottery.LogSink{Log: log.Named("events")},
		metrics.Sink{Info: func() pool.RoundInfo { return engine.Info() }},
		storage.NewRecorder(opts.Store, log.Named("recorder")),
	}
	engine, err = lottery.New(lottery.Config{
		Params:  paramStore,
		Source:  opts.Source,
		Custody: opts.Custody,
		Events:  events,
		Clock:   opts.Clock,
		Logger:  log.Named("lottery"),
	})
	if err != nil {
		return nil, fmt.Errorf("configure engine: %w", err)
	}

	state, err := opts.Store.LoadState(ctx)
	switch {
	case err == nil:
		if err := engine.Restore(state); err != nil {
			return nil, fmt.Errorf("restore engine: %w", err)
		}
		if vault != nil {
			// the in-memory vault starts empty; back the restored balances again
			committed := new(uint256.Int).Add(engine.TotalDeposited(), engine.Jackpot())
			vault.Accrue(committed)
			log.WithField("amount", pool.FormatAmount(committed)).Warn("in-memory vault refilled for restored state")
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, fmt.Errorf("load engine state: %w", err)
	}
	metrics.RecordPoolState(engine.Info())

	manager := system.NewManager()
	var k *keeper.Keeper
	if opts.Keeper != nil {
		k, err = keeper.New(engine, *opts.Keeper, log.Named("keeper"))
		if err != nil {
			return nil, fmt.Errorf("configure keeper: %w", err)
		}
		if err := manager.Register(k); err != nil {
			return nil, fmt.Errorf("register %s: %w", k.Name(), err)
		}
	}

	return &Application{
		manager: manager,
		log:     log,
		Engine:  engine,
		Params:  paramStore,
		Store:   opts.Store,
		Vault:   vault,
		Keeper:  k,
	}, nil
}

// Handler returns the HTTP API for the application.
func (a *Application) Handler(opts ...httpapi.Option) http.Handler {
	if a.Vault != nil {
		opts = append([]httpapi.Option{httpapi.WithVault(a.Vault)}, opts...)
	}
	return httpapi.NewHandler(a.Engine, a.Store, opts...)
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
