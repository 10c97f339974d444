package privacy

import (
	"encoding/json"
	"testing"
)

// TestDecodePayload tests the payload decode ladder.
func TestDecodePayload(t *testing.T) {
	t.Run("StrictObject", func(t *testing.T) {
		m, err := DecodePayload(`{"phone": "9812345610", "order_value": 1299}`)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if m.Len() != 2 {
			t.Fatalf("Len = %d, want 2", m.Len())
		}
		if v, ok := m.Get("phone"); !ok || v != "9812345610" {
			t.Errorf("phone = %v, %v", v, ok)
		}
		if v, ok := m.Get("order_value"); !ok || v != json.Number("1299") {
			t.Errorf("order_value = %v (%T)", v, v)
		}
	})

	t.Run("SingleQuoteRepair", func(t *testing.T) {
		m, err := DecodePayload(`{'name': 'Ravi'}`)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if v, ok := m.Get("name"); !ok || v != "Ravi" {
			t.Errorf("name = %v, %v", v, ok)
		}
	})

	t.Run("PlainTextWrapped", func(t *testing.T) {
		m, err := DecodePayload("Call me at 9812345610")
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if v, ok := m.Get(rawFieldKey); !ok || v != "Call me at 9812345610" {
			t.Errorf("__raw__ = %v, %v", v, ok)
		}
	})

	t.Run("TruncatedObjectFails", func(t *testing.T) {
		if _, err := DecodePayload(`{"name": `); err == nil {
			t.Error("Expected error for a truncated object")
		}
	})

	t.Run("EmptyFails", func(t *testing.T) {
		if _, err := DecodePayload(""); err == nil {
			t.Error("Expected error for an empty payload")
		}
		if _, err := DecodePayload("   "); err == nil {
			t.Error("Expected error for a blank payload")
		}
	})

	t.Run("ArrayFails", func(t *testing.T) {
		if _, err := DecodePayload(`[1, 2, 3]`); err == nil {
			t.Error("Expected error for a non-object payload")
		}
	})

	t.Run("ErrorsCarryNoPayload", func(t *testing.T) {
		_, err := DecodePayload(`{"phone": "9812345610"`)
		if err == nil {
			t.Fatal("Expected error for a truncated object")
		}
		if got := err.Error(); got != "malformed payload object" {
			t.Errorf("Error message = %q, want a fixed message", got)
		}
	})
}

// TestFieldMapRoundTrip tests order and literal fidelity through marshal.
func TestFieldMapRoundTrip(t *testing.T) {
	t.Run("PreservesFieldOrder", func(t *testing.T) {
		in := `{"zeta": 1, "alpha": 2, "mid": 3}`
		m, err := DecodePayload(in)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		out, err := m.EncodeJSON()
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if string(out) != in {
			t.Errorf("Round trip = %s, want %s", out, in)
		}
	})

	t.Run("PreservesNumberLiterals", func(t *testing.T) {
		// Both literals would be mangled by a float64 round trip.
		in := `{"price": 1299.50, "big": 12345678901234567890}`
		m, err := DecodePayload(in)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		out, err := m.EncodeJSON()
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if string(out) != in {
			t.Errorf("Round trip = %s, want %s", out, in)
		}
	})

	t.Run("PreservesNestedStructures", func(t *testing.T) {
		in := `{"items": [{"sku": "A1"}, {"sku": "B2"}], "meta": {"ok": true}, "tag": null}`
		m, err := DecodePayload(in)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		out, err := m.EncodeJSON()
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if string(out) != in {
			t.Errorf("Round trip = %s, want %s", out, in)
		}
	})

	t.Run("NoHTMLEscaping", func(t *testing.T) {
		m := NewFieldMap()
		m.Set("note", "a<b>&c")
		out, err := m.EncodeJSON()
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if string(out) != `{"note": "a<b>&c"}` {
			t.Errorf("Marshal = %s", out)
		}
	})
}

// TestFieldMapSet tests in-place replacement semantics.
func TestFieldMapSet(t *testing.T) {
	m := NewFieldMap()
	m.Set("a", "1")
	m.Set("b", "2")
	m.Set("c", "3")

	// Replacing an existing key keeps its position.
	m.Set("b", "masked")

	items := m.Items()
	if len(items) != 3 {
		t.Fatalf("Len = %d, want 3", len(items))
	}
	if items[1].Key != "b" || items[1].Value != "masked" {
		t.Errorf("items[1] = %+v", items[1])
	}
	if v, ok := m.Get("b"); !ok || v != "masked" {
		t.Errorf("Get(b) = %v, %v", v, ok)
	}
	if _, ok := m.Get("missing"); ok {
		t.Error("Get on a missing key should report absence")
	}
}
