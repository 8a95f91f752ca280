package contextstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"blockroute/go-coordinator/pkg/models"
)

// Mock is the in-process context store for tests and local runs.
type Mock struct {
	mu          sync.Mutex
	byRequest   map[string]*Record
	byID        map[string]*Record
	failCalls   int
	rejectNext  bool
	unreachable bool
	createCalls int
	mirrorCalls int
}

func NewMock() *Mock {
	return &Mock{
		byRequest: make(map[string]*Record),
		byID:      make(map[string]*Record),
	}
}

// FailCalls makes the next n calls fail at the transport level.
func (m *Mock) FailCalls(n int) {
	m.mu.Lock()
	m.failCalls = n
	m.mu.Unlock()
}

// RejectNext makes the next mutate answer with no output.
func (m *Mock) RejectNext() {
	m.mu.Lock()
	m.rejectNext = true
	m.mu.Unlock()
}

// SetUnreachable makes every call fail until cleared.
func (m *Mock) SetUnreachable(down bool) {
	m.mu.Lock()
	m.unreachable = down
	m.mu.Unlock()
}

func (m *Mock) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

func (m *Mock) MirrorCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mirrorCalls
}

// SetTelemetry updates the replica's sensor readings, as a peer node would.
func (m *Mock) SetTelemetry(shipmentID, temperature, humidity string, loc models.Location, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[shipmentID]
	if !ok {
		return
	}
	rec.Temperature = temperature
	rec.Humidity = humidity
	rec.CurrentLocation = loc
	rec.UpdatedAt = at
}

func (m *Mock) gate() error {
	if m.unreachable {
		return errors.New("context node unreachable")
	}
	if m.failCalls > 0 {
		m.failCalls--
		return errors.New("context rpc transport failure")
	}
	if m.rejectNext {
		m.rejectNext = false
		return ErrRejected
	}
	return nil
}

func (m *Mock) CreateShipment(ctx context.Context, requestID string, in models.ShipmentInput) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if err := m.gate(); err != nil {
		return Record{}, err
	}
	if existing, ok := m.byRequest[requestID]; ok {
		return *existing, nil
	}
	rec := &Record{
		RequestID:   requestID,
		Unconfirmed: true,
		ProductName: in.ProductName,
		Description: in.Description,
		Origin:      in.Origin,
		Destination: in.Destination,
		Status:      string(models.StatusCreated),
		UpdatedAt:   time.Now().UTC(),
	}
	m.byRequest[requestID] = rec
	return *rec, nil
}

func (m *Mock) AssignIdentifier(ctx context.Context, requestID, shipmentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate(); err != nil {
		return err
	}
	rec, ok := m.byRequest[requestID]
	if !ok {
		return errors.New("unknown request id")
	}
	rec.ID = shipmentID
	rec.Unconfirmed = false
	rec.UpdatedAt = time.Now().UTC()
	m.byID[shipmentID] = rec
	return nil
}

func (m *Mock) MirrorStatus(ctx context.Context, shipmentID string, status models.ShipmentStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirrorCalls++
	if err := m.gate(); err != nil {
		return err
	}
	rec, ok := m.byID[shipmentID]
	if !ok {
		return errors.New("unknown shipment id")
	}
	rec.Status = string(status)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Mock) GetShipment(ctx context.Context, shipmentID string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate(); err != nil {
		if err == ErrRejected {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	rec, ok := m.byID[shipmentID]
	if !ok {
		return Record{}, false, nil
	}
	return *rec, true, nil
}

func (m *Mock) ListShipments(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate(); err != nil {
		if err == ErrRejected {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Record, 0, len(m.byRequest))
	for _, rec := range m.byRequest {
		out = append(out, *rec)
	}
	return out, nil
}
