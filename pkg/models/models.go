package models

import (
	"errors"
	"strings"
	"time"
)

// ShipmentStatus is the ledger-side lifecycle position of a shipment.
type ShipmentStatus string

const (
	StatusCreated          ShipmentStatus = "Created"
	StatusQualityChecked   ShipmentStatus = "QualityChecked"
	StatusInTransit        ShipmentStatus = "InTransit"
	StatusDelayed          ShipmentStatus = "Delayed"
	StatusDisputed         ShipmentStatus = "Disputed"
	StatusResolvingDispute ShipmentStatus = "ResolvingDispute"
	StatusDelivered        ShipmentStatus = "Delivered"
	StatusRejected         ShipmentStatus = "Rejected"
	StatusCancelled        ShipmentStatus = "Cancelled"
)

func (s ShipmentStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusQualityChecked, StatusInTransit, StatusDelayed,
		StatusDisputed, StatusResolvingDispute, StatusDelivered, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Location latitude/longitude stay decimal strings end to end; parsing them
// as floats would lose precision across the two stores.
type Location struct {
	Name      string    `json:"name"`
	Latitude  string    `json:"latitude"`
	Longitude string    `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

type Shipment struct {
	ID                    string         `json:"id"`
	ProductName           string         `json:"product_name"`
	Description           string         `json:"description"`
	Manufacturer          string         `json:"manufacturer"`
	Supplier              string         `json:"supplier"`
	Carrier               string         `json:"carrier"`
	Receiver              string         `json:"receiver"`
	Origin                Location       `json:"origin"`
	Destination           Location       `json:"destination"`
	EstimatedDeliveryDate time.Time      `json:"estimated_delivery_date"`
	TemperatureSensitive  bool           `json:"temperature_sensitive"`
	HumiditySensitive     bool           `json:"humidity_sensitive"`
	DocumentsHash         string         `json:"documents_hash,omitempty"`
	Status                ShipmentStatus `json:"status"`
}

// ShipmentInput is the caller-provided content for a create request. The
// ledger assigns the canonical identifier; input never carries one.
type ShipmentInput struct {
	ProductName           string    `json:"product_name"`
	Description           string    `json:"description"`
	Supplier              string    `json:"supplier"`
	Carrier               string    `json:"carrier"`
	Receiver              string    `json:"receiver"`
	Origin                Location  `json:"origin"`
	Destination           Location  `json:"destination"`
	EstimatedDeliveryDate time.Time `json:"estimated_delivery_date"`
	TemperatureSensitive  bool      `json:"temperature_sensitive"`
	HumiditySensitive     bool      `json:"humidity_sensitive"`
	DocumentsHash         string    `json:"documents_hash,omitempty"`
}

// TrackedShipment is the merged view: ledger-authoritative identity and
// status plus whichever telemetry fields carry the newer timestamp.
type TrackedShipment struct {
	Shipment
	Temperature     string    `json:"temperature,omitempty"`
	Humidity        string    `json:"humidity,omitempty"`
	CurrentLocation Location  `json:"current_location,omitempty"`
	TelemetryAt     time.Time `json:"telemetry_at,omitempty"`
	ContextInSync   bool      `json:"context_in_sync"`
	LedgerOnly      bool      `json:"ledger_only"`
}

// LocalStatus tracks where a dual-write sits between the two stores.
type LocalStatus string

const (
	LocalPending         LocalStatus = "Pending"
	LocalContextAccepted LocalStatus = "ContextAccepted"
	LocalLedgerSubmitted LocalStatus = "LedgerSubmitted"
	LocalLedgerConfirmed LocalStatus = "LedgerConfirmed"
	LocalPartialFailure  LocalStatus = "PartialFailure"
	LocalFailed          LocalStatus = "Failed"
)

// Terminal reports whether the record has reached a resting state. A
// PartialFailure is terminal for coalescing purposes but stays visible for
// operator inspection until retention eviction.
func (s LocalStatus) Terminal() bool {
	return s == LocalLedgerConfirmed || s == LocalPartialFailure || s == LocalFailed
}

type CorrelationRecord struct {
	Fingerprint      string      `json:"fingerprint"`
	ContextRequestID string      `json:"context_request_id,omitempty"`
	LedgerTxHandle   string      `json:"ledger_tx_handle,omitempty"`
	ShipmentID       string      `json:"shipment_id,omitempty"`
	LocalStatus      LocalStatus `json:"local_status"`
	LastError        string      `json:"last_error,omitempty"`
	EventObserved    bool        `json:"event_observed"`
	NeedsReconcile   bool        `json:"needs_reconcile,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

var ErrLocationSeparator = errors.New("location name must not contain '|'")

// FlattenLocation encodes a Location for narrow channels as name|lat|lon.
// '|' is reserved; names containing it are rejected at validation instead
// of escaped.
func FlattenLocation(loc Location) (string, error) {
	if strings.Contains(loc.Name, "|") {
		return "", ErrLocationSeparator
	}
	return loc.Name + "|" + loc.Latitude + "|" + loc.Longitude, nil
}

func ParseFlatLocation(raw string) (Location, error) {
	parts := strings.Split(raw, "|")
	if len(parts) != 3 {
		return Location{}, errors.New("flattened location must have exactly three fields")
	}
	return Location{Name: parts[0], Latitude: parts[1], Longitude: parts[2]}, nil
}

// ValidateShipmentInput checks required fields are present. Deeper field
// validation belongs to the caller's form layer.
func ValidateShipmentInput(in ShipmentInput) error {
	if strings.TrimSpace(in.ProductName) == "" {
		return errors.New("product name is required")
	}
	if strings.TrimSpace(in.Description) == "" {
		return errors.New("description is required")
	}
	for _, loc := range []Location{in.Origin, in.Destination} {
		if strings.TrimSpace(loc.Name) == "" || strings.TrimSpace(loc.Latitude) == "" || strings.TrimSpace(loc.Longitude) == "" {
			return errors.New("origin and destination require name, latitude and longitude")
		}
		if strings.Contains(loc.Name, "|") {
			return ErrLocationSeparator
		}
	}
	return nil
}
