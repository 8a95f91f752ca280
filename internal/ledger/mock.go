package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"blockroute/go-coordinator/pkg/models"
)

// Mock is the in-process ledger used by tests and local runs. Failure
// scripting mirrors what a flaky or reverting chain would do.
type Mock struct {
	mu             sync.Mutex
	nextID         int
	nextTx         int
	shipments      map[string]models.Shipment
	txs            map[TxHandle]*mockTx
	failSubmits    int
	revertNext     string
	confirmDelay   time.Duration
	holdHandles    map[TxHandle]bool
	createCalls    int
	updateCalls    int
	confirmedCalls int
}

type mockTx struct {
	shipmentID string
	status     models.ShipmentStatus
	revert     string
	held       bool
}

func NewMock() *Mock {
	return &Mock{
		nextID:      1,
		shipments:   make(map[string]models.Shipment),
		txs:         make(map[TxHandle]*mockTx),
		holdHandles: make(map[TxHandle]bool),
	}
}

// FailSubmissions makes the next n submissions return a transport error.
func (m *Mock) FailSubmissions(n int) {
	m.mu.Lock()
	m.failSubmits = n
	m.mu.Unlock()
}

// RevertNext makes the next submitted transaction confirm as reverted.
func (m *Mock) RevertNext(reason string) {
	m.mu.Lock()
	m.revertNext = reason
	m.mu.Unlock()
}

// SetConfirmDelay delays every confirmation by d.
func (m *Mock) SetConfirmDelay(d time.Duration) {
	m.mu.Lock()
	m.confirmDelay = d
	m.mu.Unlock()
}

// HoldNext makes the next transaction never confirm until ReleaseAll.
func (m *Mock) HoldNext() {
	m.mu.Lock()
	m.holdHandles[TxHandle("")] = true
	m.mu.Unlock()
}

func (m *Mock) ReleaseAll() {
	m.mu.Lock()
	for _, tx := range m.txs {
		tx.held = false
	}
	delete(m.holdHandles, TxHandle(""))
	m.mu.Unlock()
}

func (m *Mock) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

func (m *Mock) CreateShipment(ctx context.Context, in models.ShipmentInput) (TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.failSubmits > 0 {
		m.failSubmits--
		return "", errors.New("ledger submission rejected")
	}

	id := strconv.Itoa(m.nextID)
	m.nextID++
	m.shipments[id] = models.Shipment{
		ID:                    id,
		ProductName:           in.ProductName,
		Description:           in.Description,
		Manufacturer:          "0xmanufacturer",
		Supplier:              in.Supplier,
		Carrier:               in.Carrier,
		Receiver:              in.Receiver,
		Origin:                in.Origin,
		Destination:           in.Destination,
		EstimatedDeliveryDate: in.EstimatedDeliveryDate,
		TemperatureSensitive:  in.TemperatureSensitive,
		HumiditySensitive:     in.HumiditySensitive,
		DocumentsHash:         in.DocumentsHash,
		Status:                models.StatusCreated,
	}
	return m.allocateTxLocked(id, models.StatusCreated), nil
}

func (m *Mock) UpdateStatus(ctx context.Context, identifier string, status models.ShipmentStatus, notes string) (TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.failSubmits > 0 {
		m.failSubmits--
		return "", errors.New("ledger submission rejected")
	}
	shipment, ok := m.shipments[identifier]
	if !ok {
		return "", fmt.Errorf("shipment %s not found", identifier)
	}
	shipment.Status = status
	m.shipments[identifier] = shipment
	return m.allocateTxLocked(identifier, status), nil
}

func (m *Mock) allocateTxLocked(shipmentID string, status models.ShipmentStatus) TxHandle {
	m.nextTx++
	handle := TxHandle("0xtx" + strconv.Itoa(m.nextTx))
	tx := &mockTx{shipmentID: shipmentID, status: status}
	if m.revertNext != "" {
		tx.revert = m.revertNext
		m.revertNext = ""
	}
	if m.holdHandles[TxHandle("")] {
		tx.held = true
		delete(m.holdHandles, TxHandle(""))
	}
	m.txs[handle] = tx
	return handle
}

func (m *Mock) AwaitConfirmation(ctx context.Context, handle TxHandle) (Confirmation, error) {
	m.mu.Lock()
	tx, ok := m.txs[handle]
	delay := m.confirmDelay
	m.mu.Unlock()
	if !ok {
		return Confirmation{}, fmt.Errorf("unknown tx handle %s", handle)
	}

	if delay > 0 {
		select {
		case <-ctx.Done():
			return Confirmation{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	for {
		m.mu.Lock()
		held := tx.held
		m.mu.Unlock()
		if !held {
			break
		}
		select {
		case <-ctx.Done():
			return Confirmation{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}

	if tx.revert != "" {
		return Confirmation{}, &RevertError{Handle: handle, Reason: tx.revert}
	}
	m.mu.Lock()
	m.confirmedCalls++
	m.mu.Unlock()
	return Confirmation{Identifier: tx.shipmentID, Status: tx.status}, nil
}

func (m *Mock) GetShipment(ctx context.Context, identifier string) (models.Shipment, error) {
	if err := ctx.Err(); err != nil {
		return models.Shipment{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	shipment, ok := m.shipments[identifier]
	if !ok {
		return models.Shipment{}, fmt.Errorf("shipment %s not found", identifier)
	}
	return shipment, nil
}

func (m *Mock) ListShipments(ctx context.Context) ([]models.Shipment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Shipment, 0, len(m.shipments))
	for i := 1; i < m.nextID; i++ {
		if s, ok := m.shipments[strconv.Itoa(i)]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}
