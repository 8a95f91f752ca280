package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"blockroute/go-coordinator/pkg/models"
)

func testInput() models.ShipmentInput {
	return models.ShipmentInput{
		ProductName: "Widgets",
		Description: "Box of widgets",
		Origin:      models.Location{Name: "Lagos", Latitude: "6.45", Longitude: "3.39"},
		Destination: models.Location{Name: "Accra", Latitude: "5.6", Longitude: "-0.18"},
	}
}

func TestMockCreateAndConfirm(t *testing.T) {
	t.Parallel()

	m := NewMock()
	handle, err := m.CreateShipment(context.Background(), testInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	conf, err := m.AwaitConfirmation(context.Background(), handle)
	if err != nil {
		t.Fatalf("confirmation failed: %v", err)
	}
	if conf.Identifier == "" {
		t.Fatal("confirmation must carry the assigned identifier")
	}
	if conf.Status != models.StatusCreated {
		t.Fatalf("expected Created, got %s", conf.Status)
	}

	got, err := m.GetShipment(context.Background(), conf.Identifier)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ProductName != "Widgets" || got.Status != models.StatusCreated {
		t.Fatalf("unexpected shipment: %+v", got)
	}
}

func TestMockScriptedFailuresAndRevert(t *testing.T) {
	t.Parallel()

	m := NewMock()
	m.FailSubmissions(2)
	if _, err := m.CreateShipment(context.Background(), testInput()); err == nil {
		t.Fatal("first scripted failure did not fire")
	}
	if _, err := m.CreateShipment(context.Background(), testInput()); err == nil {
		t.Fatal("second scripted failure did not fire")
	}
	handle, err := m.CreateShipment(context.Background(), testInput())
	if err != nil {
		t.Fatalf("third submission should pass: %v", err)
	}
	if _, err := m.AwaitConfirmation(context.Background(), handle); err != nil {
		t.Fatalf("confirmation failed: %v", err)
	}

	m.RevertNext("out of gas")
	handle, err = m.CreateShipment(context.Background(), testInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_, err = m.AwaitConfirmation(context.Background(), handle)
	var revert *RevertError
	if !errors.As(err, &revert) {
		t.Fatalf("expected RevertError, got %v", err)
	}
}

func TestMockHeldConfirmationRespectsContext(t *testing.T) {
	t.Parallel()

	m := NewMock()
	m.HoldNext()
	handle, err := m.CreateShipment(context.Background(), testInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := m.AwaitConfirmation(ctx, handle); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// The transaction itself still resolves once released.
	m.ReleaseAll()
	conf, err := m.AwaitConfirmation(context.Background(), handle)
	if err != nil {
		t.Fatalf("released confirmation failed: %v", err)
	}
	if conf.Identifier == "" {
		t.Fatal("released confirmation missing identifier")
	}
}

func TestNewSelectsTransport(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Transport: TransportMock}); err != nil {
		t.Fatalf("mock transport: %v", err)
	}
	if _, err := New(Config{Transport: TransportGateway}); err == nil {
		t.Fatal("gateway transport without endpoint should fail")
	}
	if _, err := New(Config{Transport: TransportGateway, Endpoint: "http://127.0.0.1:9650"}); err != nil {
		t.Fatalf("gateway transport with endpoint: %v", err)
	}
	if _, err := New(Config{Transport: "carrier-pigeon"}); err == nil {
		t.Fatal("unknown transport should fail")
	}
}
