package domain

import "testing"

func TestAttributes_ValueScan(t *testing.T) {
	t.Run("empty stores NULL", func(t *testing.T) {
		v, err := Attributes(nil).Value()
		if err != nil || v != nil {
			t.Errorf("expected nil value, got %v (%v)", v, err)
		}
	})

	t.Run("round trips through JSONB bytes", func(t *testing.T) {
		v, err := Attributes{"size": "L"}.Value()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var a Attributes
		if err := a.Scan(v); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a["size"] != "L" {
			t.Errorf("expected size L, got %v", a["size"])
		}
	})

	t.Run("scans NULL", func(t *testing.T) {
		a := Attributes{"x": 1}
		if err := a.Scan(nil); err != nil || a != nil {
			t.Errorf("expected nil attributes, got %v (%v)", a, err)
		}
	})

	t.Run("rejects unknown types", func(t *testing.T) {
		var a Attributes
		if err := a.Scan(42); err == nil {
			t.Error("expected error")
		}
	})
}
