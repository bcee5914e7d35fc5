package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NStream-Network/stream_layer/internal/app/services/accounts"
	feesvc "github.com/NStream-Network/stream_layer/internal/app/services/fees"
	streamsvc "github.com/NStream-Network/stream_layer/internal/app/services/streams"
	"github.com/NStream-Network/stream_layer/internal/app/storage"
	"github.com/NStream-Network/stream_layer/internal/app/storage/memory"
	"github.com/NStream-Network/stream_layer/internal/app/system"
	"github.com/NStream-Network/stream_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Accounts  storage.AccountStore
	Streams   storage.StreamStore
	Transfers storage.TransferStore
	Fees      storage.FeeStore
}

// Options carries optional collaborators and policy for the application.
type Options struct {
	Clock     streamsvc.Clock
	Initiator streamsvc.TransferInitiator
	FeePayout feesvc.Payout
	Streams   streamsvc.Config
	Fees      feesvc.Config
}

// Application ties the ledger services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Accounts *accounts.Service
	Fees     *feesvc.Service
	Streams  *streamsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Accounts == nil {
		stores.Accounts = mem
	}
	if stores.Streams == nil {
		stores.Streams = mem
	}
	if stores.Transfers == nil {
		stores.Transfers = mem
	}
	if stores.Fees == nil {
		stores.Fees = mem
	}

	manager := system.NewManager()

	acctService := accounts.New(stores.Accounts, log)
	feeService := feesvc.New(stores.Fees, opts.Fees, opts.FeePayout, log)
	streamService := streamsvc.New(stores.Streams, stores.Transfers, feeService, acctService, opts.Initiator, opts.Clock, opts.Streams, log)
	feeService.AttachReserver(streamService)

	for _, name := range []string{"accounts", "fees", "streams"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	var resolver streamsvc.TransferResolver
	if endpoint := strings.TrimSpace(os.Getenv("TRANSFER_RESOLVER_URL")); endpoint != "" {
		httpClient := &http.Client{Timeout: 10 * time.Second}
		r, err := streamsvc.NewHTTPResolver(httpClient, endpoint, os.Getenv("TRANSFER_RESOLVER_KEY"), log)
		if err != nil {
			log.WithError(err).Warn("configure transfer resolver")
		} else {
			resolver = r
		}
	}
	if resolver == nil {
		timeout := 2 * time.Minute
		if raw := strings.TrimSpace(os.Getenv("TRANSFER_SETTLEMENT_TIMEOUT")); raw != "" {
			if parsed, err := time.ParseDuration(raw); err == nil {
				timeout = parsed
			} else {
				log.Warnf("invalid TRANSFER_SETTLEMENT_TIMEOUT %q: %v", raw, err)
			}
		}
		log.Warnf("TRANSFER_RESOLVER_URL not set; pending transfers fail after %s", timeout)
		resolver = streamsvc.NewTimeoutResolver(timeout)
	}

	settlement := streamsvc.NewSettlementPoller(stores.Transfers, streamService, resolver, log)
	if err := manager.Register(settlement); err != nil {
		return nil, fmt.Errorf("register %s: %w", settlement.Name(), err)
	}

	return &Application{
		manager:  manager,
		log:      log,
		Accounts: acctService,
		Fees:     feeService,
		Streams:  streamService,
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
