package contextstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"blockroute/go-coordinator/pkg/models"
)

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  mutateEnvelope `json:"params"`
}

// mutateEnvelope is the context node's call shape: the application id
// selects the replicated app, method and argsJson address it.
type mutateEnvelope struct {
	ApplicationID string `json:"applicationId"`
	Method        string `json:"method"`
	ArgsJSON      any    `json:"argsJson"`
}

type rpcResult struct {
	Output json.RawMessage `json:"output"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result *rpcResult `json:"result"`
	Error  *rpcError  `json:"error"`
}

type rpcClient struct {
	cfg    Config
	http   *http.Client
	nextID atomic.Int64
}

// NewRPCClient returns the HTTP JSON-RPC implementation of Client.
func NewRPCClient(cfg Config) Client {
	cfg = normalizeConfig(cfg)
	return &rpcClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (c *rpcClient) mutate(ctx context.Context, method string, args, out any) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "mutate",
		Params: mutateEnvelope{
			ApplicationID: c.cfg.ApplicationID,
			Method:        method,
			ArgsJSON:      args,
		},
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCEndpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("context rpc %s: status %d: %s", method, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return err
	}
	if parsed.Error != nil {
		return fmt.Errorf("context rpc %s: %d %s", method, parsed.Error.Code, parsed.Error.Message)
	}
	// Missing output is the application saying no, not the transport.
	if parsed.Result == nil || len(parsed.Result.Output) == 0 || string(parsed.Result.Output) == "null" {
		return ErrRejected
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(parsed.Result.Output, out)
}

func (c *rpcClient) CreateShipment(ctx context.Context, requestID string, in models.ShipmentInput) (Record, error) {
	args := struct {
		RequestID string `json:"request_id"`
		models.ShipmentInput
	}{RequestID: requestID, ShipmentInput: in}
	var out Record
	if err := c.mutate(ctx, "create_shipment", args, &out); err != nil {
		return Record{}, err
	}
	if out.RequestID == "" {
		out.RequestID = requestID
	}
	return out, nil
}

func (c *rpcClient) AssignIdentifier(ctx context.Context, requestID, shipmentID string) error {
	args := struct {
		RequestID  string `json:"request_id"`
		ShipmentID string `json:"shipment_id"`
	}{RequestID: requestID, ShipmentID: shipmentID}
	return c.mutate(ctx, "assign_identifier", args, nil)
}

func (c *rpcClient) MirrorStatus(ctx context.Context, shipmentID string, status models.ShipmentStatus) error {
	args := struct {
		ShipmentID string `json:"shipment_id"`
		Status     string `json:"status"`
	}{ShipmentID: shipmentID, Status: string(status)}
	return c.mutate(ctx, "update_shipment", args, nil)
}

func (c *rpcClient) GetShipment(ctx context.Context, shipmentID string) (Record, bool, error) {
	args := struct {
		ShipmentID string `json:"shipment_id"`
	}{ShipmentID: shipmentID}
	var out Record
	err := c.mutate(ctx, "track_shipment", args, &out)
	if err == ErrRejected {
		// The app answers null for unknown ids.
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return out, true, nil
}

func (c *rpcClient) ListShipments(ctx context.Context) ([]Record, error) {
	var out []Record
	err := c.mutate(ctx, "get_all_shipments", struct{}{}, &out)
	if err == ErrRejected {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
