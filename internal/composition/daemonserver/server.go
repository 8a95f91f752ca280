// Package daemonserver wires the coordinator, its backing store clients
// and the RPC transport into a runnable daemon.
package daemonserver

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"blockroute/go-coordinator/internal/adapters/rpc"
	"blockroute/go-coordinator/internal/bootstrap/coordconfig"
	"blockroute/go-coordinator/internal/contextstore"
	"blockroute/go-coordinator/internal/coordinator"
	"blockroute/go-coordinator/internal/ledger"
	"blockroute/go-coordinator/internal/subscription"
)

const (
	maintenanceInterval       = 10 * time.Minute
	subscriptionRetryInterval = 30 * time.Second
)

// eventSource is the slice of subscription.Manager the daemon drives. A
// manager that gave up on its reconnect budget cannot be restarted, so the
// daemon builds a fresh one per subscription epoch through newSource.
type eventSource interface {
	Start(ctx context.Context, contextID string) error
	Events() <-chan subscription.Envelope
	Stop()
}

type Daemon struct {
	server    *rpc.Server
	coord     *coordinator.Coordinator
	newSource func() eventSource
	contextID string
	logger    *slog.Logger

	subsRetry   time.Duration
	maintenance time.Duration
	connected   atomic.Bool
}

func NewDaemonWithOptions(rpcAddr, configPath string) (*Daemon, error) {
	cfg := coordconfig.LoadFromPath(configPath)
	logger := slog.Default()

	if cfg.Context.ApplicationID == "" {
		return nil, errors.New("context application id is not configured, set context.applicationId or BLOCKROUTE_CONTEXT_APPLICATION_ID")
	}

	ledgerClient, err := ledger.New(cfg.Ledger)
	if err != nil {
		return nil, err
	}
	contextClient := contextstore.NewRPCClient(cfg.Context)

	registry := prometheus.NewRegistry()
	metrics := coordinator.NewMetrics(registry)

	coord, err := coordinator.New(coordinator.Options{
		Ledger:         ledgerClient,
		Context:        contextClient,
		Logger:         logger,
		Metrics:        metrics,
		LedgerRetries:  cfg.Coordinator.LedgerRetries,
		ConfirmTimeout: cfg.Coordinator.ConfirmTimeout,
		MirrorTimeout:  cfg.Coordinator.MirrorTimeout,
		Retention:      cfg.Coordinator.Retention,
	})
	if err != nil {
		return nil, err
	}

	subsCfg := cfg.Subscription
	if subsCfg.Endpoint == "" {
		subsCfg.Endpoint = cfg.Context.WSEndpoint
	}

	return &Daemon{
		server:      rpc.NewServerWithService(rpcAddr, coord, registry),
		coord:       coord,
		newSource:   func() eventSource { return subscription.NewManager(subsCfg, logger) },
		contextID:   cfg.Context.ApplicationID,
		logger:      logger,
		subsRetry:   subscriptionRetryInterval,
		maintenance: maintenanceInterval,
	}, nil
}

// Run starts the event subscription, the maintenance loop and the RPC
// server, then blocks until ctx is cancelled or the server fails.
func (d *Daemon) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go d.runSubscription(runCtx)
	go d.runMaintenance(runCtx)

	return d.server.Run(runCtx)
}

// runSubscription keeps an event feed alive for the daemon's lifetime.
// While no feed is up, records settle through the maintenance loop's
// polling reconcile instead.
func (d *Daemon) runSubscription(ctx context.Context) {
	for {
		subs := d.newSource()
		if err := subs.Start(ctx, d.contextID); err != nil {
			d.logger.Warn("event subscription unavailable, polling stores instead", "error", err)
		} else {
			d.connected.Store(true)
			d.coord.ConsumeEvents(ctx, subs.Events())
			d.connected.Store(false)
			subs.Stop()
			if ctx.Err() == nil {
				d.logger.Warn("event subscription lost, polling stores instead")
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.subsRetry):
		}
	}
}

// runMaintenance periodically reconciles and evicts correlation records.
// Without a live subscription it first flags everything still in flight so
// the reconcile pass settles records the missing events would have.
func (d *Daemon) runMaintenance(ctx context.Context) {
	ticker := time.NewTicker(d.maintenance)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.connected.Load() {
				if n := d.coord.FlagActiveForReconcile(); n > 0 {
					d.logger.Info("flagged in-flight records for polling reconcile", "count", n)
				}
			}
			d.coord.Reconcile(ctx)
			if n := d.coord.EvictExpired(); n > 0 {
				d.logger.Info("evicted settled correlation records", "count", n)
			}
		}
	}
}
