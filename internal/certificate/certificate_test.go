package certificate

import (
	"encoding/json"
	"strings"
	"testing"

	"acuity-passkit-bridge/internal/validation"
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("Failed to decode fixture: %v", err)
	}
	return m
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    Code
		wantErr bool
	}{
		{"AB12CD34", "AB12CD34", false},
		{"ab12cd34", "AB12CD34", false},
		{"  aB12cD34\n", "AB12CD34", false},
		{"AB12CD3", "", true},
		{"AB12CD345", "", true},
		{"AB12-D34", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if tt.wantErr {
			if !validation.IsValidationError(err) {
				t.Errorf("Normalize(%q): expected validation error, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Normalize(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, in := range []string{"abcdefgh", "ABCDEFGH", "a1B2c3D4", "00000000"} {
		once, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		twice, err := Normalize(string(once))
		if err != nil {
			t.Fatalf("Normalize(%q): %v", once, err)
		}
		if once != twice {
			t.Errorf("Normalize not idempotent: %q then %q", once, twice)
		}
		if string(once) != strings.ToUpper(string(once)) {
			t.Errorf("Expected upper case, got %q", once)
		}
	}
}

func TestExtract_DirectFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"flat certificateCode", `{"certificateCode":"AB12CD34"}`, "AB12CD34"},
		{"flat certificate trimmed", `{"certificate":" ab12cd34 "}`, "ab12cd34"},
		{"nested certificate.code", `{"certificate":{"code":"ZZ99YY88"}}`, "ZZ99YY88"},
		{"nested giftCertificate", `{"giftCertificate":{"certificateCode":"GIFT1234"}}`, "GIFT1234"},
		{"first valid wins", `{"certificateCode":"bad","certificate":"AB12CD34","code":"QQ11WW22"}`, "AB12CD34"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(decode(t, tt.raw))
			if !ok {
				t.Fatalf("Expected a code")
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestExtract_RecursiveScan(t *testing.T) {
	raw := `{
		"id": 42,
		"title": "Membership",
		"forms": [
			{"id": 1, "values": [{"name": "notes", "value": "NOTACODE1"}]},
			{"id": 2, "details": {"giftCardNumber": "GC44XY21"}}
		]
	}`

	got, ok := Extract(decode(t, raw))
	if !ok {
		t.Fatalf("Expected recursive scan to find a code")
	}
	if got != "GC44XY21" {
		t.Errorf("Expected GC44XY21, got %q", got)
	}
}

func TestExtract_IgnoresUnhintedKeys(t *testing.T) {
	raw := `{"notes": {"reference": "AB12CD34"}, "email": "t@example.com"}`
	if got, ok := Extract(decode(t, raw)); ok {
		t.Errorf("Expected no code, got %q", got)
	}
}

func TestExtract_Absent(t *testing.T) {
	for _, order := range []map[string]any{nil, {}, {"certificate": 12345678}, {"certificate": "TOOLONG123"}} {
		if got, ok := Extract(order); ok {
			t.Errorf("Expected no code for %v, got %q", order, got)
		}
	}
}

func TestExtract_CyclicInput(t *testing.T) {
	a := map[string]any{}
	b := map[string]any{"parent": a}
	a["child"] = b
	a["list"] = []any{a, b}

	if got, ok := Extract(a); ok {
		t.Errorf("Expected no code, got %q", got)
	}
}

func TestExtract_DeepInput(t *testing.T) {
	root := map[string]any{}
	cur := root
	for i := 0; i < 50; i++ {
		next := map[string]any{}
		cur["nested"] = next
		cur = next
	}
	cur["certificate"] = "AB12CD34"

	if got, ok := Extract(root); ok {
		t.Errorf("Expected depth bound to stop the scan, got %q", got)
	}
}
