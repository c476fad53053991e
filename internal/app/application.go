// Package app composes the ledger and allocator services into a running
// application and manages their lifecycle.
package app

import (
	"context"
	"fmt"

	allocatorsvc "github.com/referralpay/commission_engine/internal/app/services/allocator"
	ledgersvc "github.com/referralpay/commission_engine/internal/app/services/ledger"
	"github.com/referralpay/commission_engine/internal/app/storage"
	"github.com/referralpay/commission_engine/internal/app/storage/memory"
	"github.com/referralpay/commission_engine/internal/app/system"
	"github.com/referralpay/commission_engine/pkg/logger"
)

// Stores encapsulates persistence dependencies. A nil store defaults to the
// in-memory implementation.
type Stores struct {
	Ledger storage.LedgerStore
}

// Options tunes the composed services.
type Options struct {
	LedgerOptions    []ledgersvc.Option
	AllocatorOptions []allocatorsvc.Option
	RunnerSchedule   string // cron descriptor, e.g. "@every 30s"; empty disables the runner
}

// Application ties the services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Ledger    *ledgersvc.Service
	Allocator *allocatorsvc.Service
	Runner    *allocatorsvc.Runner
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	if stores.Ledger == nil {
		stores.Ledger = memory.New()
	}

	manager := system.NewManager()

	ledgerService := ledgersvc.New(stores.Ledger, log.WithField("service", "ledger"), opts.LedgerOptions...)
	allocatorService, err := allocatorsvc.New(nil, log.WithField("service", "allocator"), opts.AllocatorOptions...)
	if err != nil {
		return nil, fmt.Errorf("build allocator: %w", err)
	}

	if err := manager.Register(system.NoopService{ServiceName: "ledger"}); err != nil {
		return nil, fmt.Errorf("register ledger service: %w", err)
	}

	var runner *allocatorsvc.Runner
	if opts.RunnerSchedule != "" {
		runner = allocatorsvc.NewRunner(allocatorService, log.WithField("service", "allocator-runner"))
		if err := runner.WithSchedule(opts.RunnerSchedule); err != nil {
			return nil, fmt.Errorf("configure runner: %w", err)
		}
		if err := manager.Register(runner); err != nil {
			return nil, fmt.Errorf("register allocator runner: %w", err)
		}
	} else {
		log.Warn("allocator schedule not set; background optimizer disabled")
	}

	return &Application{
		manager:   manager,
		log:       log,
		Ledger:    ledgerService,
		Allocator: allocatorService,
		Runner:    runner,
	}, nil
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
