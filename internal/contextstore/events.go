package contextstore

import (
	"encoding/json"
	"fmt"
)

// The context node pushes `{type:"ExecutionEvent", data:{kind,...}}` frames.
// Kinds are modeled as a closed variant set so handlers can switch
// exhaustively instead of matching open strings.

const (
	envelopeExecutionEvent = "ExecutionEvent"

	KindShipmentCreated = "ShipmentCreated"
	KindShipmentTracked = "ShipmentTracked"
	KindError           = "Error"
)

type Event interface {
	EventKind() string
}

type ShipmentCreatedEvent struct {
	RequestID   string `json:"request_id"`
	ShipmentID  string `json:"id"`
	ProductName string `json:"product_name"`
	Origin      string `json:"location_origin"`
	Destination string `json:"location_destination"`
}

func (ShipmentCreatedEvent) EventKind() string { return KindShipmentCreated }

type ShipmentTrackedEvent struct {
	ShipmentID    string `json:"id"`
	CurrentStatus string `json:"current_status"`
}

func (ShipmentTrackedEvent) EventKind() string { return KindShipmentTracked }

type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) EventKind() string { return KindError }

// Payload fields sit inline in data next to kind, so data is unmarshalled
// twice: once for the discriminator, once into the variant struct.
type eventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type eventDiscriminator struct {
	Kind string `json:"kind"`
}

// UnknownEventError marks frames of a kind this build does not know; the
// stream keeps flowing past them.
type UnknownEventError struct {
	Type string
	Kind string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown context event type=%q kind=%q", e.Type, e.Kind)
}

// DecodeEvent parses one inbound frame into its variant.
func DecodeEvent(raw []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Type != envelopeExecutionEvent {
		return nil, &UnknownEventError{Type: env.Type}
	}
	payload := env.Data
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var disc eventDiscriminator
	if err := json.Unmarshal(payload, &disc); err != nil {
		return nil, err
	}
	switch disc.Kind {
	case KindShipmentCreated:
		var ev ShipmentCreatedEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindShipmentTracked:
		var ev ShipmentTrackedEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindError:
		var ev ErrorEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, &UnknownEventError{Type: env.Type, Kind: disc.Kind}
	}
}

// SubscribeMessage is the outbound frame that opens a subscription for a
// set of context identifiers.
type SubscribeMessage struct {
	Method     string   `json:"method"`
	ContextIDs []string `json:"contextIds"`
}

func NewSubscribeMessage(contextIDs ...string) SubscribeMessage {
	return SubscribeMessage{Method: "subscribe", ContextIDs: contextIDs}
}
