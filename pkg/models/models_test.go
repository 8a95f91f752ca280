package models

import "testing"

func TestFlattenLocationRoundTrip(t *testing.T) {
	t.Parallel()

	loc := Location{Name: "Lagos Port", Latitude: "6.4531", Longitude: "3.3958"}
	flat, err := FlattenLocation(loc)
	if err != nil {
		t.Fatalf("flatten failed: %v", err)
	}
	if flat != "Lagos Port|6.4531|3.3958" {
		t.Fatalf("unexpected encoding: %q", flat)
	}
	parsed, err := ParseFlatLocation(flat)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed.Name != loc.Name || parsed.Latitude != loc.Latitude || parsed.Longitude != loc.Longitude {
		t.Fatalf("round trip mismatch: %+v", parsed)
	}
}

func TestFlattenLocationRejectsReservedSeparator(t *testing.T) {
	t.Parallel()

	_, err := FlattenLocation(Location{Name: "Apapa|Wharf", Latitude: "6.45", Longitude: "3.36"})
	if err != ErrLocationSeparator {
		t.Fatalf("expected ErrLocationSeparator, got %v", err)
	}
}

func TestParseFlatLocationRejectsWrongArity(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "Lagos", "Lagos|6.45", "Lagos|6.45|3.39|extra"} {
		if _, err := ParseFlatLocation(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestValidateShipmentInput(t *testing.T) {
	t.Parallel()

	valid := ShipmentInput{
		ProductName: "Widgets",
		Description: "Box of widgets",
		Origin:      Location{Name: "Lagos", Latitude: "6.45", Longitude: "3.39"},
		Destination: Location{Name: "Accra", Latitude: "5.6", Longitude: "-0.18"},
	}
	if err := ValidateShipmentInput(valid); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}

	missing := valid
	missing.ProductName = "  "
	if err := ValidateShipmentInput(missing); err == nil {
		t.Fatal("expected missing product name to be rejected")
	}

	badLoc := valid
	badLoc.Destination.Latitude = ""
	if err := ValidateShipmentInput(badLoc); err == nil {
		t.Fatal("expected incomplete location to be rejected")
	}

	reserved := valid
	reserved.Origin.Name = "Lagos|Port"
	if err := ValidateShipmentInput(reserved); err != ErrLocationSeparator {
		t.Fatalf("expected ErrLocationSeparator, got %v", err)
	}
}

func TestLocalStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := []LocalStatus{LocalLedgerConfirmed, LocalPartialFailure, LocalFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	active := []LocalStatus{LocalPending, LocalContextAccepted, LocalLedgerSubmitted}
	for _, s := range active {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
