// Package coordinator sequences every shipment write across the two backing
// stores and owns the correlation state that ties asynchronous
// confirmations back to the request that caused them.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"blockroute/go-coordinator/internal/contextstore"
	"blockroute/go-coordinator/internal/fingerprint"
	"blockroute/go-coordinator/internal/ledger"
	"blockroute/go-coordinator/internal/status"
	"blockroute/go-coordinator/internal/subscription"
	"blockroute/go-coordinator/pkg/models"
)

type Options struct {
	Ledger  ledger.Client
	Context contextstore.Client
	Logger  *slog.Logger
	Metrics *Metrics

	// LedgerRetries bounds resubmission of the same canonical payload after
	// the context store has already accepted it.
	LedgerRetries int
	// ConfirmTimeout bounds the confirmation wait even when the caller's
	// context carries no deadline.
	ConfirmTimeout time.Duration
	// MirrorTimeout bounds the best-effort context mirror of a ledger
	// status update.
	MirrorTimeout time.Duration
	// Retention bounds how long settled and failed records stay inspectable.
	Retention time.Duration

	NewRequestID func() string
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.LedgerRetries <= 0 {
		o.LedgerRetries = 3
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 2 * time.Minute
	}
	if o.MirrorTimeout <= 0 {
		o.MirrorTimeout = 10 * time.Second
	}
	if o.Retention <= 0 {
		o.Retention = 24 * time.Hour
	}
	if o.NewRequestID == nil {
		o.NewRequestID = func() string { return "req_" + uuid.NewString() }
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

type Coordinator struct {
	opts    Options
	ledger  ledger.Client
	context contextstore.Client
	logger  *slog.Logger
	metrics *Metrics
	table   *recordTable
}

func New(opts Options) (*Coordinator, error) {
	if opts.Ledger == nil {
		return nil, errors.New("coordinator requires a ledger client")
	}
	if opts.Context == nil {
		return nil, errors.New("coordinator requires a context client")
	}
	opts = opts.withDefaults()
	return &Coordinator{
		opts:    opts,
		ledger:  opts.Ledger,
		context: opts.Context,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		table:   newRecordTable(),
	}, nil
}

// Create runs the dual-write sequence for a shipment. The context store is
// written first; the ledger write follows and is never reordered ahead of
// it. Identical content submitted while a sequence is in flight coalesces
// onto the existing correlation record instead of issuing duplicate writes.
func (c *Coordinator) Create(ctx context.Context, in models.ShipmentInput) (models.CorrelationRecord, error) {
	var opErr error
	defer func() { c.metrics.recordOp("shipment_create", opErr) }()

	if err := models.ValidateShipmentInput(in); err != nil {
		opErr = &CategorizedError{Category: "api", Err: err}
		return models.CorrelationRecord{}, opErr
	}
	fp, err := fingerprint.Derive(in)
	if err != nil {
		opErr = &CategorizedError{Category: "api", Err: err}
		return models.CorrelationRecord{}, opErr
	}

	rec, started := c.table.beginCreate(fp, c.opts.Now())
	if !started {
		c.logger.Info("create coalesced onto in-flight record", "fingerprint", fp, "local_status", rec.LocalStatus)
		return rec, nil
	}
	if c.metrics != nil {
		c.metrics.creates.Inc()
		c.updateActiveGauge()
	}

	rec, opErr = c.runCreateSequence(ctx, fp, in)
	if opErr != nil && c.metrics != nil {
		c.metrics.createFailures.WithLabelValues(ErrorCategory(opErr)).Inc()
	}
	return rec, opErr
}

func (c *Coordinator) runCreateSequence(ctx context.Context, fp string, in models.ShipmentInput) (models.CorrelationRecord, error) {
	// Context first. Failing fast here keeps the ledger free of shipments
	// the fast store already considers invalid.
	requestID := c.opts.NewRequestID()
	if _, err := c.context.CreateShipment(ctx, requestID, in); err != nil {
		failure := &ContextUnavailableError{Err: err}
		rec, _ := c.table.update(fp, c.opts.Now(), func(r *models.CorrelationRecord) {
			r.LocalStatus = models.LocalFailed
			r.LastError = failure.Error()
		})
		c.logger.Error("context submission failed, ledger write skipped", "fingerprint", fp, "error", err)
		return rec, &CategorizedError{Category: "context", Err: failure}
	}
	c.table.update(fp, c.opts.Now(), func(r *models.CorrelationRecord) {
		r.LocalStatus = models.LocalContextAccepted
		r.ContextRequestID = requestID
	})
	c.logger.Info("context accepted shipment", "fingerprint", fp, "request_id", requestID)

	handle, err := c.submitLedgerWithRetry(ctx, fp, in)
	if err != nil {
		rec, _ := c.table.get(fp)
		return rec, err
	}

	c.table.update(fp, c.opts.Now(), func(r *models.CorrelationRecord) {
		r.LocalStatus = models.LocalLedgerSubmitted
		r.LedgerTxHandle = string(handle)
	})
	c.logger.Info("ledger submission accepted", "fingerprint", fp, "tx_handle", handle)

	return c.awaitLedgerConfirmation(ctx, fp, requestID, handle)
}

// submitLedgerWithRetry resubmits the same canonical payload up to the
// bounded count. Exhaustion is the critical failure mode: the off-chain
// replica now references a shipment the ledger never created.
func (c *Coordinator) submitLedgerWithRetry(ctx context.Context, fp string, in models.ShipmentInput) (ledger.TxHandle, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.LedgerRetries; attempt++ {
		handle, err := c.ledger.CreateShipment(ctx, in)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			c.markCancelled(fp, ctx.Err())
			return "", &CategorizedError{Category: "ledger", Err: ctx.Err()}
		}
		c.logger.Warn("ledger submission failed, retrying", "fingerprint", fp, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			c.markCancelled(fp, ctx.Err())
			return "", &CategorizedError{Category: "ledger", Err: ctx.Err()}
		case <-time.After(ledgerRetryDelay(attempt)):
		}
	}

	failure := &PartialFailureError{Fingerprint: fp, Attempts: c.opts.LedgerRetries, Err: lastErr}
	c.table.update(fp, c.opts.Now(), func(r *models.CorrelationRecord) {
		r.LocalStatus = models.LocalPartialFailure
		r.LastError = failure.Error()
	})
	if c.metrics != nil {
		c.metrics.partialFailures.Inc()
	}
	c.logger.Error("partial failure: context accepted but ledger never did", "fingerprint", fp, "attempts", c.opts.LedgerRetries, "error", lastErr)
	return "", &CategorizedError{Category: "ledger", Err: failure}
}

func (c *Coordinator) awaitLedgerConfirmation(ctx context.Context, fp, requestID string, handle ledger.TxHandle) (models.CorrelationRecord, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancel()

	conf, err := c.ledger.AwaitConfirmation(waitCtx, handle)
	if err != nil {
		var revert *ledger.RevertError
		switch {
		case errors.As(err, &revert):
			// Included then reverted: terminal, and the context replica is
			// now orphaned and flagged for cleanup.
			rec, _ := c.table.update(fp, c.opts.Now(), func(r *models.CorrelationRecord) {
				r.LocalStatus = models.LocalFailed
				r.LastError = revert.Error()
				r.NeedsReconcile = true
			})
			c.logger.Error("ledger transaction reverted, context replica orphaned", "fingerprint", fp, "tx_handle", handle, "reason", revert.Reason)
			return rec, &CategorizedError{Category: "ledger", Err: revert}
		case errors.Is(err, context.Canceled):
			rec := c.markCancelled(fp, err)
			return rec, &CategorizedError{Category: "ledger", Err: fmt.Errorf("create cancelled while awaiting confirmation: %w", err)}
		default:
			// Timed out waiting. The transaction may still resolve on its
			// own; the record keeps LedgerSubmitted and is reconciled later.
			rec, _ := c.table.update(fp, c.opts.Now(), func(r *models.CorrelationRecord) {
				r.LastError = "confirmation wait timed out"
				r.NeedsReconcile = true
			})
			c.logger.Warn("confirmation wait timed out, transaction left to resolve", "fingerprint", fp, "tx_handle", handle)
			return rec, &CategorizedError{Category: "ledger", Err: fmt.Errorf("confirmation wait timed out: %w", err)}
		}
	}

	return c.completeCreate(ctx, fp, requestID, conf)
}

func (c *Coordinator) completeCreate(ctx context.Context, fp, requestID string, conf ledger.Confirmation) (models.CorrelationRecord, error) {
	rec, _ := c.table.update(fp, c.opts.Now(), func(r *models.CorrelationRecord) {
		r.LocalStatus = models.LocalLedgerConfirmed
		r.ShipmentID = conf.Identifier
	})
	c.logger.Info("ledger confirmed shipment", "fingerprint", fp, "shipment_id", conf.Identifier, "status", conf.Status)

	// Bind the canonical identifier to the replica so it stops being
	// local-only. Best effort; the event stream or reconcile catches up.
	if err := c.context.AssignIdentifier(ctx, requestID, conf.Identifier); err != nil {
		c.logger.Warn("failed to bind identifier to context replica", "fingerprint", fp, "shipment_id", conf.Identifier, "error", err)
		rec, _ = c.table.update(fp, c.opts.Now(), func(r *models.CorrelationRecord) {
			r.NeedsReconcile = true
		})
	}
	c.updateActiveGauge()
	return rec, nil
}

func (c *Coordinator) markCancelled(fp string, cause error) models.CorrelationRecord {
	rec, _ := c.table.update(fp, c.opts.Now(), func(r *models.CorrelationRecord) {
		r.LocalStatus = models.LocalFailed
		r.LastError = fmt.Sprintf("cancelled: %v", cause)
	})
	return rec
}

// Track merges the two stores' view of a shipment. The context store being
// unreachable degrades to a ledger-only view instead of failing.
func (c *Coordinator) Track(ctx context.Context, identifier string) (models.TrackedShipment, error) {
	var opErr error
	defer func() { c.metrics.recordOp("shipment_track", opErr) }()

	onChain, err := c.ledger.GetShipment(ctx, identifier)
	if err != nil {
		opErr = &CategorizedError{Category: "ledger", Err: err}
		return models.TrackedShipment{}, opErr
	}

	replica, found, err := c.context.GetShipment(ctx, identifier)
	if err != nil {
		c.logger.Warn("context unreachable, serving ledger-only view", "shipment_id", identifier, "error", err)
		return MergeTracked(onChain, contextstore.Record{}, false), nil
	}
	return MergeTracked(onChain, replica, found), nil
}

// ListShipments returns the merged view of every shipment the ledger knows.
// The context store contributes telemetry where it has a replica.
func (c *Coordinator) ListShipments(ctx context.Context) ([]models.TrackedShipment, error) {
	var opErr error
	defer func() { c.metrics.recordOp("shipment_list", opErr) }()

	onChain, err := c.ledger.ListShipments(ctx)
	if err != nil {
		opErr = &CategorizedError{Category: "ledger", Err: err}
		return nil, opErr
	}

	replicas := map[string]contextstore.Record{}
	if recs, err := c.context.ListShipments(ctx); err == nil {
		for _, r := range recs {
			replicas[r.ID] = r
		}
	} else {
		c.logger.Warn("context unreachable, listing ledger-only", "error", err)
	}

	out := make([]models.TrackedShipment, 0, len(onChain))
	for _, sh := range onChain {
		replica, found := replicas[sh.ID]
		out = append(out, MergeTracked(sh, replica, found))
	}
	return out, nil
}

// UpdateStatus gates the transition on the state machine, writes the ledger
// and then mirrors to the context store asynchronously. The ledger write is
// the durable fact; a mirror failure is logged, never rolled back.
func (c *Coordinator) UpdateStatus(ctx context.Context, identifier string, requested models.ShipmentStatus, notes string) (models.ShipmentStatus, error) {
	var opErr error
	defer func() { c.metrics.recordOp("shipment_update_status", opErr) }()

	onChain, err := c.ledger.GetShipment(ctx, identifier)
	if err != nil {
		opErr = &CategorizedError{Category: "ledger", Err: err}
		return "", opErr
	}
	next, err := status.Transition(onChain.Status, requested)
	if err != nil {
		opErr = &CategorizedError{Category: "api", Err: err}
		return "", opErr
	}

	handle, err := c.ledger.UpdateStatus(ctx, identifier, next, notes)
	if err != nil {
		opErr = &CategorizedError{Category: "ledger", Err: err}
		return "", opErr
	}
	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancel()
	if _, err := c.ledger.AwaitConfirmation(waitCtx, handle); err != nil {
		opErr = &CategorizedError{Category: "ledger", Err: err}
		return "", opErr
	}

	go c.mirrorStatus(identifier, next)
	c.logger.Info("status updated on ledger", "shipment_id", identifier, "status", next)
	return next, nil
}

func (c *Coordinator) mirrorStatus(identifier string, next models.ShipmentStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.MirrorTimeout)
	defer cancel()
	if err := c.context.MirrorStatus(ctx, identifier, next); err != nil {
		c.logger.Warn("context mirror of status update failed", "shipment_id", identifier, "status", next, "error", err)
	}
}

// Records lists the correlation table for operator inspection.
func (c *Coordinator) Records() []models.CorrelationRecord {
	return c.table.list()
}

// Record returns the correlation state for one fingerprint.
func (c *Coordinator) Record(fp string) (models.CorrelationRecord, error) {
	rec, ok := c.table.get(fp)
	if !ok {
		return models.CorrelationRecord{}, ErrUnknownRecord
	}
	return rec, nil
}

// ConsumeEvents drains the subscription stream until ctx ends or the
// stream closes. A gap marker triggers a reconcile sweep because events
// pushed during the outage are gone for good.
func (c *Coordinator) ConsumeEvents(ctx context.Context, events <-chan subscription.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			if env.GapBefore {
				flagged := c.table.markAllActiveForReconcile(c.opts.Now())
				c.logger.Warn("event channel gap detected", "records_flagged", flagged)
				c.Reconcile(ctx)
			}
			c.handleEvent(env.Event)
		}
	}
}

func (c *Coordinator) handleEvent(ev contextstore.Event) {
	if c.metrics != nil {
		c.metrics.eventsConsumed.WithLabelValues(ev.EventKind()).Inc()
	}
	switch event := ev.(type) {
	case contextstore.ShipmentCreatedEvent:
		c.handleShipmentCreated(event)
	case contextstore.ShipmentTrackedEvent:
		c.logger.Debug("context tracked shipment", "shipment_id", event.ShipmentID, "status", event.CurrentStatus)
	case contextstore.ErrorEvent:
		c.logger.Error("context application error event", "message", event.Message)
	}
}

// handleShipmentCreated correlates a context notification back to its
// originating record. The notification is advisory: it confirms low-latency
// propagation but never drives status. A content mismatch against the
// ledger-confirmed record is a consistency fault and is only reported.
func (c *Coordinator) handleShipmentCreated(ev contextstore.ShipmentCreatedEvent) {
	rec, ok := c.table.byRequestID(ev.RequestID)
	if !ok {
		c.logger.Debug("context event for unknown request", "request_id", ev.RequestID)
		return
	}
	if fault := CheckEventConsistency(rec, ev); fault != nil {
		if c.metrics != nil {
			c.metrics.consistencyFaults.Inc()
		}
		c.table.update(rec.Fingerprint, c.opts.Now(), func(r *models.CorrelationRecord) {
			r.LastError = fault.Error()
		})
		c.logger.Error("consistency fault", "fingerprint", rec.Fingerprint, "detail", fault.Error())
		return
	}
	c.table.update(rec.Fingerprint, c.opts.Now(), func(r *models.CorrelationRecord) {
		r.EventObserved = true
	})
	c.logger.Info("context propagation confirmed", "fingerprint", rec.Fingerprint, "request_id", ev.RequestID)
}

// FlagActiveForReconcile marks every record still awaiting settlement so the
// next Reconcile pass polls the stores for it. Callers without a live event
// channel use this to settle records poll-style.
func (c *Coordinator) FlagActiveForReconcile() int {
	return c.table.markAllActiveForReconcile(c.opts.Now())
}

// Reconcile settles records flagged after a channel gap by polling the
// authoritative stores instead of waiting for events that will never come.
func (c *Coordinator) Reconcile(ctx context.Context) {
	if c.metrics != nil {
		c.metrics.reconcileRuns.Inc()
	}
	for _, rec := range c.table.list() {
		if !rec.NeedsReconcile {
			continue
		}
		switch rec.LocalStatus {
		case models.LocalLedgerSubmitted:
			c.reconcileSubmitted(ctx, rec)
		case models.LocalLedgerConfirmed:
			c.reconcileConfirmed(ctx, rec)
		default:
			c.table.update(rec.Fingerprint, c.opts.Now(), func(r *models.CorrelationRecord) {
				r.NeedsReconcile = false
			})
		}
	}
	c.updateActiveGauge()
}

func (c *Coordinator) reconcileSubmitted(ctx context.Context, rec models.CorrelationRecord) {
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conf, err := c.ledger.AwaitConfirmation(waitCtx, ledger.TxHandle(rec.LedgerTxHandle))
	if err != nil {
		var revert *ledger.RevertError
		if errors.As(err, &revert) {
			c.table.update(rec.Fingerprint, c.opts.Now(), func(r *models.CorrelationRecord) {
				r.LocalStatus = models.LocalFailed
				r.LastError = revert.Error()
				r.NeedsReconcile = false
			})
		}
		return
	}
	if _, err := c.completeCreate(ctx, rec.Fingerprint, rec.ContextRequestID, conf); err == nil {
		c.table.update(rec.Fingerprint, c.opts.Now(), func(r *models.CorrelationRecord) {
			r.NeedsReconcile = false
		})
	}
}

func (c *Coordinator) reconcileConfirmed(ctx context.Context, rec models.CorrelationRecord) {
	replica, found, err := c.context.GetShipment(ctx, rec.ShipmentID)
	if err != nil {
		return
	}
	c.table.update(rec.Fingerprint, c.opts.Now(), func(r *models.CorrelationRecord) {
		if found && replica.ID == rec.ShipmentID {
			r.EventObserved = true
		}
		r.NeedsReconcile = false
	})
}

// EvictExpired drops settled records and expired terminal ones.
func (c *Coordinator) EvictExpired() int {
	n := c.table.evictSettled(c.opts.Now(), c.opts.Retention)
	c.updateActiveGauge()
	return n
}

func (c *Coordinator) updateActiveGauge() {
	if c.metrics != nil {
		c.metrics.activeRecords.Set(float64(len(c.table.list())))
	}
}
