// Package fingerprint derives the idempotency key that makes duplicate
// create submissions recognizable before either store has confirmed.
package fingerprint

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"

	"blockroute/go-coordinator/pkg/models"
)

const Prefix = "shp1"

// canonicalPayload pins the field order and normalization the digest is
// computed over. Only content fields participate; parties, documents hash
// and wall-clock never do, so resubmitting the same form data always maps
// to the same key.
type canonicalPayload struct {
	ProductName          string `json:"product_name"`
	Description          string `json:"description"`
	Origin               string `json:"origin"`
	Destination          string `json:"destination"`
	EstimatedDelivery    string `json:"estimated_delivery"`
	TemperatureSensitive bool   `json:"temperature_sensitive"`
	HumiditySensitive    bool   `json:"humidity_sensitive"`
}

func canonicalLocation(loc models.Location) string {
	// Timestamp and updatedBy are runtime metadata, not content.
	return strings.TrimSpace(loc.Name) + "|" + strings.TrimSpace(loc.Latitude) + "|" + strings.TrimSpace(loc.Longitude)
}

// Derive returns the stable content fingerprint for a shipment input.
func Derive(in models.ShipmentInput) (string, error) {
	payload := canonicalPayload{
		ProductName:          strings.TrimSpace(in.ProductName),
		Description:          strings.TrimSpace(in.Description),
		Origin:               canonicalLocation(in.Origin),
		Destination:          canonicalLocation(in.Destination),
		EstimatedDelivery:    in.EstimatedDeliveryDate.UTC().Format(time.RFC3339),
		TemperatureSensitive: in.TemperatureSensitive,
		HumiditySensitive:    in.HumiditySensitive,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	h := blake2b.Sum256(raw)
	return Prefix + base58.Encode(h[:]), nil
}
