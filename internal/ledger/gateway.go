package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"blockroute/go-coordinator/pkg/models"
)

// gatewayClient talks to a ledger gateway: a plain JSON HTTP facade in front
// of the chain node that signs and submits on the daemon's behalf. Wallet
// key handling stays on the gateway side.
type gatewayClient struct {
	cfg  Config
	http *http.Client
}

func newGatewayClient(cfg Config) *gatewayClient {
	return &gatewayClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type gatewaySubmitRequest struct {
	Contract string `json:"contract"`
	Sender   string `json:"sender,omitempty"`
	Op       string `json:"op"`
	Args     any    `json:"args"`
}

type gatewaySubmitResponse struct {
	TxHandle string `json:"tx_handle"`
}

type gatewayTxStatus struct {
	State      string `json:"state"` // pending | confirmed | reverted
	ShipmentID string `json:"shipment_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type createShipmentArgs struct {
	ProductName           string          `json:"product_name"`
	Description           string          `json:"description"`
	Supplier              string          `json:"supplier"`
	Carrier               string          `json:"carrier"`
	Receiver              string          `json:"receiver"`
	Origin                models.Location `json:"origin"`
	Destination           models.Location `json:"destination"`
	EstimatedDeliveryDate time.Time       `json:"estimated_delivery_date"`
	TemperatureSensitive  bool            `json:"temperature_sensitive"`
	HumiditySensitive     bool            `json:"humidity_sensitive"`
	DocumentsHash         string          `json:"documents_hash,omitempty"`
}

func (c *gatewayClient) CreateShipment(ctx context.Context, in models.ShipmentInput) (TxHandle, error) {
	args := createShipmentArgs{
		ProductName:           in.ProductName,
		Description:           in.Description,
		Supplier:              in.Supplier,
		Carrier:               in.Carrier,
		Receiver:              in.Receiver,
		Origin:                in.Origin,
		Destination:           in.Destination,
		EstimatedDeliveryDate: in.EstimatedDeliveryDate,
		TemperatureSensitive:  in.TemperatureSensitive,
		HumiditySensitive:     in.HumiditySensitive,
		DocumentsHash:         in.DocumentsHash,
	}
	return c.submit(ctx, "create_shipment", args)
}

func (c *gatewayClient) UpdateStatus(ctx context.Context, identifier string, status models.ShipmentStatus, notes string) (TxHandle, error) {
	args := struct {
		ShipmentID string `json:"shipment_id"`
		Status     string `json:"status"`
		Notes      string `json:"notes,omitempty"`
	}{ShipmentID: identifier, Status: string(status), Notes: notes}
	return c.submit(ctx, "update_shipment_status", args)
}

func (c *gatewayClient) submit(ctx context.Context, op string, args any) (TxHandle, error) {
	body := gatewaySubmitRequest{
		Contract: c.cfg.ContractAddress,
		Sender:   c.cfg.SenderAddress,
		Op:       op,
		Args:     args,
	}
	var out gatewaySubmitResponse
	if err := c.postJSON(ctx, "/v1/transactions", body, &out); err != nil {
		return "", err
	}
	if out.TxHandle == "" {
		return "", errors.New("ledger gateway returned an empty tx handle")
	}
	return TxHandle(out.TxHandle), nil
}

// AwaitConfirmation polls until the transaction resolves or ctx is done.
// Cancelling the wait never cancels the transaction itself.
func (c *gatewayClient) AwaitConfirmation(ctx context.Context, handle TxHandle) (Confirmation, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var st gatewayTxStatus
		err := c.getJSON(ctx, "/v1/transactions/"+url.PathEscape(string(handle)), &st)
		if err == nil {
			switch st.State {
			case "confirmed":
				conf := Confirmation{Identifier: st.ShipmentID, Status: models.ShipmentStatus(st.Status)}
				if conf.Identifier == "" {
					return Confirmation{}, errors.New("ledger confirmation is missing the shipment identifier")
				}
				return conf, nil
			case "reverted":
				return Confirmation{}, &RevertError{Handle: handle, Reason: st.Reason}
			}
		} else if ctx.Err() != nil {
			return Confirmation{}, ctx.Err()
		}

		select {
		case <-ctx.Done():
			return Confirmation{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *gatewayClient) GetShipment(ctx context.Context, identifier string) (models.Shipment, error) {
	var out models.Shipment
	if err := c.getJSON(ctx, "/v1/shipments/"+url.PathEscape(identifier), &out); err != nil {
		return models.Shipment{}, err
	}
	return out, nil
}

func (c *gatewayClient) ListShipments(ctx context.Context) ([]models.Shipment, error) {
	var out []models.Shipment
	if err := c.getJSON(ctx, "/v1/shipments", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *gatewayClient) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *gatewayClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *gatewayClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ledger gateway %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
