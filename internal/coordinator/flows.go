package coordinator

import (
	"time"

	"blockroute/go-coordinator/internal/contextstore"
	"blockroute/go-coordinator/pkg/models"
)

// MergeTracked builds the caller-facing view of a shipment. The ledger is
// authoritative for identity, parties, dates and status; the context side
// only ever contributes telemetry and Location fields, and only when its
// timestamps are newer. An off-chain value never overrides on-chain status.
func MergeTracked(onChain models.Shipment, replica contextstore.Record, replicaFound bool) models.TrackedShipment {
	view := models.TrackedShipment{Shipment: onChain}
	if !replicaFound {
		view.LedgerOnly = true
		return view
	}

	view.ContextInSync = !replica.Unconfirmed && replica.ID == onChain.ID &&
		replica.Status == string(onChain.Status)
	view.Temperature = replica.Temperature
	view.Humidity = replica.Humidity
	view.TelemetryAt = replica.UpdatedAt
	view.CurrentLocation = replica.CurrentLocation

	// Display-only supersession per Location field; status already came
	// from the ledger above and is never touched here.
	view.Origin = pickNewer(onChain.Origin, replica.Origin)
	view.Destination = pickNewer(onChain.Destination, replica.Destination)
	return view
}

func newerLocation(candidate, reference models.Location) bool {
	if candidate.Name == "" && candidate.Latitude == "" {
		return false
	}
	return candidate.Timestamp.After(reference.Timestamp)
}

func pickNewer(onChain, offChain models.Location) models.Location {
	if newerLocation(offChain, onChain) {
		return offChain
	}
	return onChain
}

// CheckEventConsistency compares a ledger-confirmed record against the
// context notification for the same request. A disagreement should never
// happen under correct operation; it is reported, not repaired.
func CheckEventConsistency(rec models.CorrelationRecord, ev contextstore.ShipmentCreatedEvent) *ConsistencyFault {
	if rec.ShipmentID != "" && ev.ShipmentID != "" && rec.ShipmentID != ev.ShipmentID {
		return &ConsistencyFault{
			Fingerprint: rec.Fingerprint,
			Field:       "shipment_id",
			Ledger:      rec.ShipmentID,
			Context:     ev.ShipmentID,
		}
	}
	return nil
}

// ledgerRetryDelay backs off between ledger resubmissions of the same
// canonical payload: 500ms, 1s, 2s ... capped at 5s.
func ledgerRetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := 500 * time.Millisecond
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= 5*time.Second {
			return 5 * time.Second
		}
	}
	return delay
}
