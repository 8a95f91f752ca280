// Package status holds the shipment lifecycle transition graph. It is pure
// and synchronous; every write path consults it before touching a store.
package status

import (
	"fmt"

	"blockroute/go-coordinator/pkg/models"
)

type InvalidTransitionError struct {
	From models.ShipmentStatus
	To   models.ShipmentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

var successors = map[models.ShipmentStatus][]models.ShipmentStatus{
	models.StatusCreated:          {models.StatusQualityChecked, models.StatusCancelled},
	models.StatusQualityChecked:   {models.StatusInTransit, models.StatusCancelled, models.StatusRejected},
	models.StatusInTransit:        {models.StatusDelayed, models.StatusDisputed, models.StatusDelivered, models.StatusRejected},
	models.StatusDelayed:          {models.StatusInTransit, models.StatusDisputed, models.StatusCancelled},
	models.StatusDisputed:         {models.StatusResolvingDispute, models.StatusCancelled},
	models.StatusResolvingDispute: {models.StatusInTransit, models.StatusRejected, models.StatusCancelled},
	// Delivered, Rejected and Cancelled are terminal.
	models.StatusDelivered: nil,
	models.StatusRejected:  nil,
	models.StatusCancelled: nil,
}

func IsTerminal(s models.ShipmentStatus) bool {
	edges, known := successors[s]
	return known && len(edges) == 0
}

// Transition returns the requested state when the edge exists, or an
// InvalidTransitionError when it does not, when current is terminal, or
// when either side is not a known status.
func Transition(current, requested models.ShipmentStatus) (models.ShipmentStatus, error) {
	if !current.Valid() || !requested.Valid() {
		return "", &InvalidTransitionError{From: current, To: requested}
	}
	for _, next := range successors[current] {
		if next == requested {
			return requested, nil
		}
	}
	return "", &InvalidTransitionError{From: current, To: requested}
}
