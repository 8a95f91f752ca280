package contextstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"blockroute/go-coordinator/pkg/models"
)

func TestRPCClientSendsMutateEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.JSONRPC != "2.0" || req.Method != "mutate" {
			t.Errorf("unexpected rpc frame: %+v", req)
		}
		if req.Params.ApplicationID != "ctx_app" || req.Params.Method != "create_shipment" {
			t.Errorf("unexpected envelope: %+v", req.Params)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"output": Record{RequestID: "req_1", Unconfirmed: true, ProductName: "Widgets"},
			},
		})
	}))
	defer srv.Close()

	c := NewRPCClient(Config{RPCEndpoint: srv.URL, ApplicationID: "ctx_app"})
	rec, err := c.CreateShipment(context.Background(), "req_1", models.ShipmentInput{ProductName: "Widgets"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !rec.Unconfirmed || rec.ProductName != "Widgets" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestRPCClientNullOutputIsApplicationRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"output":null}}`))
	}))
	defer srv.Close()

	c := NewRPCClient(Config{RPCEndpoint: srv.URL, ApplicationID: "ctx_app"})
	_, err := c.CreateShipment(context.Background(), "req_1", models.ShipmentInput{ProductName: "Widgets"})
	if err != ErrRejected {
		t.Fatalf("expected ErrRejected, got %v", err)
	}

	// For reads a null output means not found, not an error.
	_, found, err := c.GetShipment(context.Background(), "999")
	if err != nil || found {
		t.Fatalf("expected not found without error, got found=%v err=%v", found, err)
	}
}

func TestRPCClientRequestIDsUniqueUnderConcurrency(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := make(map[int64]bool)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		mu.Lock()
		if seen[req.ID] {
			t.Errorf("request id %d reused", req.ID)
		}
		seen[req.ID] = true
		mu.Unlock()
		_, _ = w.Write([]byte(`{"result":{"output":null}}`))
	}))
	defer srv.Close()

	c := NewRPCClient(Config{RPCEndpoint: srv.URL, ApplicationID: "ctx_app"})
	const calls = 16
	var wg sync.WaitGroup
	wg.Add(calls)
	for i := 0; i < calls; i++ {
		go func() {
			defer wg.Done()
			_, _, _ = c.GetShipment(context.Background(), "7")
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != calls {
		t.Fatalf("distinct request ids = %d, want %d", len(seen), calls)
	}
}

func TestRPCClientSurfacesRPCErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"code":-32000,"message":"context not joined"}}`))
	}))
	defer srv.Close()

	c := NewRPCClient(Config{RPCEndpoint: srv.URL, ApplicationID: "ctx_app"})
	if _, err := c.ListShipments(context.Background()); err == nil {
		t.Fatal("rpc error should surface")
	}
}
