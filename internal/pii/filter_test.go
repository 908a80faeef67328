package pii

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestScanCategories(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Category
	}{
		{"email", "contact john.doe@example.com today", CategoryEmail},
		{"phone", "call +49 351 4567890", CategoryPhone},
		{"iban", "pay to DE89370400440532013000", CategoryIBAN},
		{"ip", "seen from 192.168.2.14", CategoryIPAddress},
		{"credit card", "card 4111 1111 1111 1111 on file", CategoryCreditCard},
		{"national id", "id 12345678901 given", CategoryNationalID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := Scan(tt.input)
			if len(matches) == 0 {
				t.Fatalf("nothing detected in %q", tt.input)
			}
			if matches[0].Category != tt.want {
				t.Errorf("expected %s, got %s", tt.want, matches[0].Category)
			}
		})
	}
}

func TestScanCleanText(t *testing.T) {
	if matches := Scan("quarterly report looks fine"); len(matches) != 0 {
		t.Errorf("false positives on clean text: %v", matches)
	}
}

func TestScanNoDoubleCount(t *testing.T) {
	// An IBAN contains digit runs that the national-id rule would also
	// match; the earlier pattern must consume them.
	matches := Scan("DE89370400440532013000")
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d: %v", len(matches), matches)
	}
	if matches[0].Category != CategoryIBAN {
		t.Errorf("expected iban, got %s", matches[0].Category)
	}
}

func TestMaskEmailKeepsDomain(t *testing.T) {
	f := NewFilter(ModeMask)
	got := f.FilterString("john.doe@example.com")

	if !strings.HasSuffix(got, "@example.com") {
		t.Errorf("mask dropped the domain: %q", got)
	}
	local := strings.TrimSuffix(got, "@example.com")
	if local == "john.doe" {
		t.Error("local part survived masking")
	}
	if !strings.HasPrefix(local, "jo") {
		t.Errorf("expected 2-char prefix preserved, got %q", local)
	}
}

func TestMaskPreservesLength(t *testing.T) {
	f := NewFilter(ModeMask)
	in := "+49 351 4567890"
	got := f.FilterString(in)
	if len(got) != len(in) {
		t.Errorf("mask changed length: %q (%d) → %q (%d)", in, len(in), got, len(got))
	}
	if got == in {
		t.Error("phone not masked")
	}
}

func TestHashDeterministicAndOpaque(t *testing.T) {
	f := NewFilter(ModeHash)

	first := f.FilterString("john.doe@example.com")
	second := f.FilterString("john.doe@example.com")
	if first != second {
		t.Errorf("hash mode not deterministic: %q vs %q", first, second)
	}
	if strings.Contains(first, "john.doe") || strings.Contains(first, "example.com") {
		t.Errorf("hash output leaks original: %q", first)
	}
	if !strings.Contains(first, "HASH_") {
		t.Errorf("expected pseudonym token, got %q", first)
	}

	other := f.FilterString("jane@example.org")
	if other == first {
		t.Error("distinct inputs produced identical tokens")
	}
}

func TestRemoveLeavesNothing(t *testing.T) {
	f := NewFilter(ModeRemove)
	got := f.FilterString("mail john.doe@example.com or 4111 1111 1111 1111")

	if strings.Contains(got, "john.doe@example.com") {
		t.Error("removed email still present")
	}
	if strings.Contains(got, "4111 1111 1111 1111") {
		t.Error("removed card number still present")
	}
	if !strings.Contains(got, "[EMAIL_REMOVED]") || !strings.Contains(got, "[CREDIT_CARD_REMOVED]") {
		t.Errorf("expected category placeholders, got %q", got)
	}
}

func TestApplyWalksStructure(t *testing.T) {
	f := NewFilter(ModeMask)
	in := map[string]any{
		"lead": map[string]any{
			"email": "john.doe@example.com",
			"score": 42.0,
		},
		"notes": []any{"ip was 10.0.0.7", true},
	}

	out := f.Apply(in).(map[string]any)

	lead := out["lead"].(map[string]any)
	if lead["email"] == "john.doe@example.com" {
		t.Error("nested email not filtered")
	}
	if lead["score"] != 42.0 {
		t.Error("non-string leaf modified")
	}
	notes := out["notes"].([]any)
	if strings.Contains(notes[0].(string), "10.0.0.7") {
		t.Error("ip in slice element not filtered")
	}
	if notes[1] != true {
		t.Error("bool leaf modified")
	}

	// Input must be untouched.
	if in["lead"].(map[string]any)["email"] != "john.doe@example.com" {
		t.Error("Apply mutated its input")
	}
}

func TestApplyJSONStaysValid(t *testing.T) {
	f := NewFilter(ModeMask)
	raw := json.RawMessage(`{"email":"john.doe@example.com","tags":["a","b"]}`)

	out, err := f.ApplyJSON(raw)
	if err != nil {
		t.Fatalf("ApplyJSON: %v", err)
	}

	var v map[string]any
	if err := json.Unmarshal(out, &v); err != nil {
		t.Fatalf("filtered output is not valid JSON: %v", err)
	}
	if !strings.HasSuffix(v["email"].(string), "@example.com") {
		t.Errorf("domain lost: %v", v["email"])
	}
}

func TestApplyJSONNonJSONFallback(t *testing.T) {
	f := NewFilter(ModeRemove)
	out, err := f.ApplyJSON(json.RawMessage(`not json: john.doe@example.com`))
	if err != nil {
		t.Fatalf("ApplyJSON: %v", err)
	}

	var s string
	if err := json.Unmarshal(out, &s); err != nil {
		t.Fatalf("fallback should be a JSON string: %v", err)
	}
	if strings.Contains(s, "john.doe@example.com") {
		t.Errorf("fallback did not filter: %q", s)
	}
}
