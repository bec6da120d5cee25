package model

import (
	"strings"
	"testing"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "ACME Water District", "acme water district"},
		{"strips punctuation", "Acme, Inc. — Invoice #42", "acme inc invoice 42"},
		{"collapses whitespace", "two\t\nwords   here", "two words here"},
		{"trims", "  padded  ", "padded"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeText(tt.input); got != tt.want {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	variants := []string{"12-345/6", "12 345 6", "123456", "12_34-56"}
	want := NormalizeIdentifier(variants[0])
	for _, v := range variants {
		if got := NormalizeIdentifier(v); got != want {
			t.Errorf("NormalizeIdentifier(%q) = %q, want %q", v, got, want)
		}
	}
	if want != "123456" {
		t.Errorf("normalized identifier = %q, want 123456", want)
	}
}

func TestContentFingerprint(t *testing.T) {
	t.Run("stable across punctuation and spacing", func(t *testing.T) {
		a := ContentFingerprint("Acme Water District\nInvoice #42")
		b := ContentFingerprint("acme water  district invoice 42")
		if a != b {
			t.Errorf("fingerprints differ: %q vs %q", a, b)
		}
	})

	t.Run("format", func(t *testing.T) {
		fp := ContentFingerprint("some text")
		if !strings.HasPrefix(fp, "sha256:") {
			t.Errorf("fingerprint %q missing sha256 prefix", fp)
		}
		if len(fp) != len("sha256:")+16 {
			t.Errorf("fingerprint %q has wrong digest length", fp)
		}
	})

	t.Run("distinct content distinct fingerprint", func(t *testing.T) {
		if ContentFingerprint("alpha") == ContentFingerprint("beta") {
			t.Error("different content produced identical fingerprints")
		}
	})
}

func TestInvoiceKey(t *testing.T) {
	t.Run("stable across identifier variants", func(t *testing.T) {
		a := InvoiceKey("Acme Water", "INV-123", 5000)
		b := InvoiceKey("acme water", "inv 123", 5000)
		if a != b {
			t.Errorf("invoice keys differ: %q vs %q", a, b)
		}
	})

	t.Run("total participates in identity", func(t *testing.T) {
		if InvoiceKey("Acme", "123", 5000) == InvoiceKey("Acme", "123", 5001) {
			t.Error("different totals produced identical invoice keys")
		}
	})

	t.Run("empty when vendor missing", func(t *testing.T) {
		if got := InvoiceKey("", "123", 5000); got != "" {
			t.Errorf("InvoiceKey with empty vendor = %q, want empty", got)
		}
	})
}

func TestToCents(t *testing.T) {
	tests := []struct {
		amount float64
		want   int64
	}{
		{50.00, 5000},
		{0.1, 10},
		{19.995, 2000},
		{0, 0},
	}
	for _, tt := range tests {
		if got := ToCents(tt.amount); got != tt.want {
			t.Errorf("ToCents(%v) = %d, want %d", tt.amount, got, tt.want)
		}
	}
}

func TestGenerateRuleID(t *testing.T) {
	rule := DynamicRule{
		Kind:       TriggerAccountNumber,
		TriggerKey: AccountTrigger("12-345"),
		FarmKey:    "north-ridge",
	}
	id := rule.GenerateRuleID()
	if !strings.HasPrefix(id, "rule_") {
		t.Errorf("rule id %q missing prefix", id)
	}
	if id != rule.GenerateRuleID() {
		t.Error("rule id not deterministic")
	}

	other := rule
	other.FarmKey = "south-field"
	if other.GenerateRuleID() == id {
		t.Error("different farm produced identical rule id")
	}
}
