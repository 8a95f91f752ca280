package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestGatewaySubmitAndConfirm(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/transactions":
			var req gatewaySubmitRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("bad submit body: %v", err)
			}
			if req.Op != "create_shipment" {
				t.Errorf("unexpected op %q", req.Op)
			}
			_ = json.NewEncoder(w).Encode(gatewaySubmitResponse{TxHandle: "0xabc"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/transactions/0xabc":
			// Pending on the first poll, confirmed on the second.
			if polls.Add(1) == 1 {
				_ = json.NewEncoder(w).Encode(gatewayTxStatus{State: "pending"})
				return
			}
			_ = json.NewEncoder(w).Encode(gatewayTxStatus{State: "confirmed", ShipmentID: "7", Status: "Created"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newGatewayClient(normalizeConfig(Config{
		Transport:    TransportGateway,
		Endpoint:     srv.URL,
		PollInterval: 5 * time.Millisecond,
	}))

	handle, err := c.CreateShipment(context.Background(), testInput())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	conf, err := c.AwaitConfirmation(context.Background(), handle)
	if err != nil {
		t.Fatalf("confirmation failed: %v", err)
	}
	if conf.Identifier != "7" {
		t.Fatalf("unexpected identifier %q", conf.Identifier)
	}
}

func TestGatewayAwaitConfirmationRevert(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gatewayTxStatus{State: "reverted", Reason: "shipment id collision"})
	}))
	defer srv.Close()

	c := newGatewayClient(normalizeConfig(Config{Endpoint: srv.URL, PollInterval: time.Millisecond}))
	_, err := c.AwaitConfirmation(context.Background(), TxHandle("0xdead"))
	var revert *RevertError
	if !errors.As(err, &revert) {
		t.Fatalf("expected RevertError, got %v", err)
	}
}

func TestGatewayAwaitConfirmationCancellable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gatewayTxStatus{State: "pending"})
	}))
	defer srv.Close()

	c := newGatewayClient(normalizeConfig(Config{Endpoint: srv.URL, PollInterval: 5 * time.Millisecond}))
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	if _, err := c.AwaitConfirmation(ctx, TxHandle("0x1")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
