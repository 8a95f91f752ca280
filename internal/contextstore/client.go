// Package contextstore is the coordinating client's view of the
// peer-to-peer replicated context: fast eventually-consistent writes over a
// JSON-RPC mutate envelope, plus a push event stream consumed elsewhere by
// the subscription manager. Replication internals are opaque.
package contextstore

import (
	"context"
	"errors"
	"time"

	"blockroute/go-coordinator/pkg/models"
)

// ErrRejected: the context application answered without output. This is an
// application-level rejection, not a transport failure.
var ErrRejected = errors.New("context application rejected the call")

// Record is the context-side shipment replica. Until the ledger assigns the
// canonical identifier the record stays flagged unconfirmed and is keyed by
// the originating request id only.
type Record struct {
	ID              string          `json:"id,omitempty"`
	RequestID       string          `json:"request_id"`
	Unconfirmed     bool            `json:"unconfirmed"`
	ProductName     string          `json:"product_name"`
	Description     string          `json:"description"`
	Origin          models.Location `json:"origin"`
	Destination     models.Location `json:"destination"`
	Status          string          `json:"status,omitempty"`
	Temperature     string          `json:"temperature,omitempty"`
	Humidity        string          `json:"humidity,omitempty"`
	CurrentLocation models.Location `json:"current_location,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type Client interface {
	// CreateShipment registers the replica under requestID and returns the
	// accepted record. ErrRejected means the fast store refused the content.
	CreateShipment(ctx context.Context, requestID string, in models.ShipmentInput) (Record, error)
	// AssignIdentifier binds the ledger-assigned identifier to the replica
	// created under requestID, clearing its unconfirmed flag.
	AssignIdentifier(ctx context.Context, requestID, shipmentID string) error
	// MirrorStatus best-effort copies a ledger-confirmed status change.
	MirrorStatus(ctx context.Context, shipmentID string, status models.ShipmentStatus) error
	GetShipment(ctx context.Context, shipmentID string) (Record, bool, error)
	ListShipments(ctx context.Context) ([]Record, error)
}

type Config struct {
	RPCEndpoint    string        `yaml:"rpcEndpoint"`
	WSEndpoint     string        `yaml:"wsEndpoint"`
	ApplicationID  string        `yaml:"applicationId"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

func DefaultConfig() Config {
	return Config{
		RPCEndpoint:    "http://127.0.0.1:2428/jsonrpc",
		WSEndpoint:     "ws://127.0.0.1:2428/ws",
		RequestTimeout: 5 * time.Second,
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.RPCEndpoint == "" {
		cfg.RPCEndpoint = def.RPCEndpoint
	}
	if cfg.WSEndpoint == "" {
		cfg.WSEndpoint = def.WSEndpoint
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	return cfg
}
