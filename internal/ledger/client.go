// Package ledger is the coordinating client's view of the authoritative,
// consensus-backed store. Consensus itself is an opaque external service;
// this package only submits transactions and waits on their resolution.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blockroute/go-coordinator/pkg/models"
)

const (
	TransportMock    = "mock"
	TransportGateway = "gateway"
)

type TxHandle string

type Confirmation struct {
	Identifier string
	Status     models.ShipmentStatus
}

// RevertError: the transaction was included and then reverted. Terminal for
// the originating request; the context-side record is orphaned.
type RevertError struct {
	Handle TxHandle
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("ledger transaction %s reverted", e.Handle)
	}
	return fmt.Sprintf("ledger transaction %s reverted: %s", e.Handle, e.Reason)
}

type Client interface {
	CreateShipment(ctx context.Context, in models.ShipmentInput) (TxHandle, error)
	AwaitConfirmation(ctx context.Context, handle TxHandle) (Confirmation, error)
	UpdateStatus(ctx context.Context, identifier string, status models.ShipmentStatus, notes string) (TxHandle, error)
	GetShipment(ctx context.Context, identifier string) (models.Shipment, error)
	ListShipments(ctx context.Context) ([]models.Shipment, error)
}

type Config struct {
	Transport       string        `yaml:"transport"`
	Endpoint        string        `yaml:"endpoint"`
	ContractAddress string        `yaml:"contractAddress"`
	SenderAddress   string        `yaml:"senderAddress"`
	PollInterval    time.Duration `yaml:"pollInterval"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
}

func DefaultConfig() Config {
	return Config{
		Transport:      TransportMock,
		PollInterval:   2 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Transport == "" {
		cfg.Transport = def.Transport
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	return cfg
}

// New selects the transport the same way the network layer does: a real
// gateway for deployments, an in-process mock everywhere else.
func New(cfg Config) (Client, error) {
	cfg = normalizeConfig(cfg)
	switch cfg.Transport {
	case TransportMock:
		return NewMock(), nil
	case TransportGateway:
		if cfg.Endpoint == "" {
			return nil, errors.New("ledger gateway transport requires an endpoint")
		}
		return newGatewayClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown ledger transport %q", cfg.Transport)
	}
}
