package fingerprint

import (
	"strings"
	"testing"
	"time"

	"blockroute/go-coordinator/pkg/models"
)

func sampleInput() models.ShipmentInput {
	return models.ShipmentInput{
		ProductName:           "Widgets",
		Description:           "Box of widgets",
		Origin:                models.Location{Name: "Lagos", Latitude: "6.45", Longitude: "3.39"},
		Destination:           models.Location{Name: "Accra", Latitude: "5.6", Longitude: "-0.18"},
		EstimatedDeliveryDate: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		TemperatureSensitive:  true,
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	t.Parallel()

	a, err := Derive(sampleInput())
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	b, err := Derive(sampleInput())
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if a != b {
		t.Fatalf("identical input produced different fingerprints: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, Prefix) {
		t.Fatalf("fingerprint missing prefix: %s", a)
	}
}

func TestDeriveIgnoresRuntimeMetadata(t *testing.T) {
	t.Parallel()

	base, _ := Derive(sampleInput())

	in := sampleInput()
	in.Origin.Timestamp = time.Now()
	in.Origin.UpdatedBy = "0xabc"
	in.Supplier = "0xsupplier"
	in.DocumentsHash = "0xdeadbeef"
	got, err := Derive(in)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if got != base {
		t.Fatal("runtime metadata must not change the fingerprint")
	}
}

func TestDeriveNormalizesWhitespace(t *testing.T) {
	t.Parallel()

	base, _ := Derive(sampleInput())

	in := sampleInput()
	in.ProductName = "  Widgets "
	in.Destination.Name = " Accra"
	got, _ := Derive(in)
	if got != base {
		t.Fatal("trimmed input should share the fingerprint")
	}
}

func TestDeriveSeparatesDifferentContent(t *testing.T) {
	t.Parallel()

	base, _ := Derive(sampleInput())

	mutations := []func(*models.ShipmentInput){
		func(in *models.ShipmentInput) { in.ProductName = "Gadgets" },
		func(in *models.ShipmentInput) { in.Description = "Crate of widgets" },
		func(in *models.ShipmentInput) { in.Origin.Latitude = "6.46" },
		func(in *models.ShipmentInput) { in.Destination.Name = "Tema" },
		func(in *models.ShipmentInput) { in.EstimatedDeliveryDate = in.EstimatedDeliveryDate.Add(time.Hour) },
		func(in *models.ShipmentInput) { in.TemperatureSensitive = false },
		func(in *models.ShipmentInput) { in.HumiditySensitive = true },
	}
	for i, mutate := range mutations {
		in := sampleInput()
		mutate(&in)
		got, err := Derive(in)
		if err != nil {
			t.Fatalf("derive failed: %v", err)
		}
		if got == base {
			t.Fatalf("mutation %d did not change the fingerprint", i)
		}
	}
}
