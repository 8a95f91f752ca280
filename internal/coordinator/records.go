package coordinator

import (
	"sort"
	"sync"
	"time"

	"blockroute/go-coordinator/pkg/models"
)

// recordTable is the coordinator-owned correlation state. Only the
// coordinator mutates it; the subscription side reaches it exclusively
// through coordinator methods. Per-fingerprint writes are serialized by the
// table lock; records for different fingerprints never block each other
// beyond the map access itself.
type recordTable struct {
	mu      sync.RWMutex
	records map[string]models.CorrelationRecord
}

func newRecordTable() *recordTable {
	return &recordTable{records: make(map[string]models.CorrelationRecord)}
}

// beginCreate registers a fresh Pending record unless an active one exists
// for the fingerprint, in which case the existing record is returned and
// the caller coalesces onto it instead of issuing duplicate writes.
func (t *recordTable) beginCreate(fingerprint string, now time.Time) (models.CorrelationRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.records[fingerprint]; ok && !existing.LocalStatus.Terminal() {
		return existing, false
	}
	rec := models.CorrelationRecord{
		Fingerprint: fingerprint,
		LocalStatus: models.LocalPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.records[fingerprint] = rec
	return rec, true
}

func (t *recordTable) get(fingerprint string) (models.CorrelationRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[fingerprint]
	return rec, ok
}

// byRequestID finds the record that originated a context request id.
func (t *recordTable) byRequestID(requestID string) (models.CorrelationRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, rec := range t.records {
		if rec.ContextRequestID == requestID {
			return rec, true
		}
	}
	return models.CorrelationRecord{}, false
}

// update applies fn to the record under the table lock and returns the
// mutated copy. Missing fingerprints report ok=false.
func (t *recordTable) update(fingerprint string, now time.Time, fn func(*models.CorrelationRecord)) (models.CorrelationRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[fingerprint]
	if !ok {
		return models.CorrelationRecord{}, false
	}
	fn(&rec)
	rec.UpdatedAt = now
	t.records[fingerprint] = rec
	return rec, true
}

func (t *recordTable) list() []models.CorrelationRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.CorrelationRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// markAllActiveForReconcile flags records that still expect something from
// the event channel after a gap: every non-terminal record, plus confirmed
// ones whose propagation notification never arrived.
func (t *recordTable) markAllActiveForReconcile(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	flagged := 0
	for fp, rec := range t.records {
		awaitingEvent := rec.LocalStatus == models.LocalLedgerConfirmed && !rec.EventObserved
		if rec.LocalStatus.Terminal() && !awaitingEvent {
			continue
		}
		rec.NeedsReconcile = true
		rec.UpdatedAt = now
		t.records[fp] = rec
		flagged++
	}
	return flagged
}

// evictSettled removes records whose dual write fully completed (confirmed
// and the matching context event observed) and records past the retention
// window. PartialFailure records survive until retention so operators can
// inspect them.
func (t *recordTable) evictSettled(now time.Time, retention time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	for fp, rec := range t.records {
		settled := rec.LocalStatus == models.LocalLedgerConfirmed && rec.EventObserved
		expired := retention > 0 && now.Sub(rec.UpdatedAt) > retention
		if settled || (rec.LocalStatus.Terminal() && expired) {
			delete(t.records, fp)
			evicted++
		}
	}
	return evicted
}
