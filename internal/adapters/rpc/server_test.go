package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"blockroute/go-coordinator/internal/contextstore"
	"blockroute/go-coordinator/internal/coordinator"
	"blockroute/go-coordinator/internal/ledger"
	"blockroute/go-coordinator/pkg/models"
)

const testToken = "rpc_test_token"

type rpcHarness struct {
	server  *Server
	ts      *httptest.Server
	ledger  *ledger.Mock
	context *contextstore.Mock
}

func newRPCHarness(t *testing.T) *rpcHarness {
	t.Helper()
	ledgerMock := ledger.NewMock()
	contextMock := contextstore.NewMock()
	coord, err := coordinator.New(coordinator.Options{
		Ledger:  ledgerMock,
		Context: contextMock,
		Logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("coordinator.New: %v", err)
	}
	s := newServerWithService("", coord, nil, testToken, true)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.HandleHealth)
	mux.HandleFunc("/rpc", s.HandleRPC)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &rpcHarness{server: s, ts: ts, ledger: ledgerMock, context: contextMock}
}

func (h *rpcHarness) call(t *testing.T, body string, headers map[string]string) rpcResponse {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.ts.URL+"/rpc", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BlockRoute-RPC-Token", testToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return decoded
}

func createParams() string {
	return `{
		"product_name": "Widgets",
		"description": "A pallet of widgets",
		"supplier": "0xsupplier",
		"carrier": "0xcarrier",
		"receiver": "0xreceiver",
		"origin": {"name": "Lagos Port", "latitude": "6.4531", "longitude": "3.3958", "timestamp": "0001-01-01T00:00:00Z"},
		"destination": {"name": "Accra Depot", "latitude": "5.6037", "longitude": "-0.1870", "timestamp": "0001-01-01T00:00:00Z"},
		"estimated_delivery_date": "2026-10-01T00:00:00Z",
		"temperature_sensitive": false,
		"humidity_sensitive": false
	}`
}

func TestHealthEndpoint(t *testing.T) {
	h := newRPCHarness(t)

	resp, err := http.Get(h.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRPCRequiresToken(t *testing.T) {
	h := newRPCHarness(t)

	req, err := http.NewRequest(http.MethodPost, h.ts.URL+"/rpc",
		bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"health_check"}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRPCBearerTokenAccepted(t *testing.T) {
	h := newRPCHarness(t)

	req, err := http.NewRequest(http.MethodPost, h.ts.URL+"/rpc",
		bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"health_check"}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestShipmentCreateAndTrack(t *testing.T) {
	h := newRPCHarness(t)

	created := h.call(t, `{"jsonrpc":"2.0","id":1,"method":"shipment_create","params":`+createParams()+`}`, nil)
	if created.Error != nil {
		t.Fatalf("create error: %+v", created.Error)
	}
	raw, _ := json.Marshal(created.Result)
	var rec models.CorrelationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.ShipmentID == "" {
		t.Fatal("expected a shipment id")
	}
	if rec.LocalStatus != models.LocalLedgerConfirmed {
		t.Fatalf("local status = %s", rec.LocalStatus)
	}

	tracked := h.call(t, `{"jsonrpc":"2.0","id":2,"method":"shipment_track","params":{"id":"`+rec.ShipmentID+`"}}`, nil)
	if tracked.Error != nil {
		t.Fatalf("track error: %+v", tracked.Error)
	}
	raw, _ = json.Marshal(tracked.Result)
	var view models.TrackedShipment
	if err := json.Unmarshal(raw, &view); err != nil {
		t.Fatalf("unmarshal view: %v", err)
	}
	if view.ProductName != "Widgets" {
		t.Fatalf("product = %q", view.ProductName)
	}
	if view.Status != models.StatusCreated {
		t.Fatalf("status = %s", view.Status)
	}
}

func TestShipmentCreateIdempotencyReplay(t *testing.T) {
	h := newRPCHarness(t)
	headers := map[string]string{rpcIdempotencyHeader: "op-123"}
	body := `{"jsonrpc":"2.0","id":1,"method":"shipment_create","params":` + createParams() + `}`

	first := h.call(t, body, headers)
	if first.Error != nil {
		t.Fatalf("create error: %+v", first.Error)
	}
	second := h.call(t, body, headers)
	if second.Error != nil {
		t.Fatalf("replay error: %+v", second.Error)
	}
	if h.ledger.CreateCalls() != 1 {
		t.Fatalf("ledger create calls = %d, want 1", h.ledger.CreateCalls())
	}

	// Same key with a different request body is a conflict.
	other := `{"jsonrpc":"2.0","id":3,"method":"shipment_list","params":{}}`
	conflict := h.call(t, other, headers)
	if conflict.Error == nil || conflict.Error.Code != -32600 {
		t.Fatalf("expected idempotency conflict, got %+v", conflict.Error)
	}
}

func TestShipmentUpdateStatus(t *testing.T) {
	h := newRPCHarness(t)

	created := h.call(t, `{"jsonrpc":"2.0","id":1,"method":"shipment_create","params":`+createParams()+`}`, nil)
	raw, _ := json.Marshal(created.Result)
	var rec models.CorrelationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}

	bad := h.call(t, `{"jsonrpc":"2.0","id":2,"method":"shipment_update_status","params":{"id":"`+rec.ShipmentID+`","status":"Delivered"}}`, nil)
	if bad.Error == nil || bad.Error.Code != codeInvalidInput {
		t.Fatalf("expected invalid transition to map to %d, got %+v", codeInvalidInput, bad.Error)
	}

	ok := h.call(t, `{"jsonrpc":"2.0","id":3,"method":"shipment_update_status","params":{"id":"`+rec.ShipmentID+`","status":"QualityChecked","notes":"inspection passed"}}`, nil)
	if ok.Error != nil {
		t.Fatalf("update error: %+v", ok.Error)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.context.MirrorCalls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.context.MirrorCalls() != 1 {
		t.Fatalf("mirror calls = %d, want 1", h.context.MirrorCalls())
	}
}

func TestShipmentStatusAndRecords(t *testing.T) {
	h := newRPCHarness(t)

	created := h.call(t, `{"jsonrpc":"2.0","id":1,"method":"shipment_create","params":`+createParams()+`}`, nil)
	raw, _ := json.Marshal(created.Result)
	var rec models.CorrelationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}

	status := h.call(t, `{"jsonrpc":"2.0","id":2,"method":"shipment_status","params":{"fingerprint":"`+rec.Fingerprint+`"}}`, nil)
	if status.Error != nil {
		t.Fatalf("status error: %+v", status.Error)
	}

	missing := h.call(t, `{"jsonrpc":"2.0","id":3,"method":"shipment_status","params":{"fingerprint":"shp1unknown"}}`, nil)
	if missing.Error == nil || missing.Error.Code != codeNotFound {
		t.Fatalf("expected %d for unknown fingerprint, got %+v", codeNotFound, missing.Error)
	}

	records := h.call(t, `{"jsonrpc":"2.0","id":4,"method":"records_list"}`, nil)
	if records.Error != nil {
		t.Fatalf("records error: %+v", records.Error)
	}
}

func TestContextOutageMapsToServiceCode(t *testing.T) {
	h := newRPCHarness(t)
	h.context.SetUnreachable(true)

	resp := h.call(t, `{"jsonrpc":"2.0","id":1,"method":"shipment_create","params":`+createParams()+`}`, nil)
	if resp.Error == nil || resp.Error.Code != codeContextFailure {
		t.Fatalf("expected code %d, got %+v", codeContextFailure, resp.Error)
	}
	if h.ledger.CreateCalls() != 0 {
		t.Fatalf("ledger create calls = %d, want 0", h.ledger.CreateCalls())
	}
}

func TestUnknownMethod(t *testing.T) {
	h := newRPCHarness(t)

	resp := h.call(t, `{"jsonrpc":"2.0","id":1,"method":"no_such_method"}`, nil)
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected -32601, got %+v", resp.Error)
	}
}

func TestMalformedRequestBodies(t *testing.T) {
	h := newRPCHarness(t)

	parse := h.call(t, `{not json`, nil)
	if parse.Error == nil || parse.Error.Code != -32700 {
		t.Fatalf("expected -32700, got %+v", parse.Error)
	}

	missing := h.call(t, `{"jsonrpc":"1.0","id":1,"method":"health_check"}`, nil)
	if missing.Error == nil || missing.Error.Code != -32600 {
		t.Fatalf("expected -32600, got %+v", missing.Error)
	}

	params := h.call(t, `{"jsonrpc":"2.0","id":1,"method":"shipment_track","params":{}}`, nil)
	if params.Error == nil || params.Error.Code != -32602 {
		t.Fatalf("expected -32602, got %+v", params.Error)
	}
}

func TestServerShutdownOnContextCancel(t *testing.T) {
	ledgerMock := ledger.NewMock()
	contextMock := contextstore.NewMock()
	coord, err := coordinator.New(coordinator.Options{
		Ledger:  ledgerMock,
		Context: contextMock,
		Logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("coordinator.New: %v", err)
	}
	s := newServerWithService("127.0.0.1:0", coord, nil, testToken, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
