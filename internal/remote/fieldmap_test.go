package remote

import (
	"reflect"
	"testing"
)

func TestToSnake(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"monthlyLimit", "monthly_limit"},
		{"ownerId", "owner_id"},
		{"externalAccountId", "external_account_id"},
		{"amount", "amount"},
		{"id", "id"},
	}
	for _, tt := range tests {
		if got := ToSnake(tt.in); got != tt.want {
			t.Errorf("ToSnake(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToCamel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"monthly_limit", "monthlyLimit"},
		{"owner_id", "ownerId"},
		{"external_account_id", "externalAccountId"},
		{"amount", "amount"},
	}
	for _, tt := range tests {
		if got := ToCamel(tt.in); got != tt.want {
			t.Errorf("ToCamel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKeyRoundTrip(t *testing.T) {
	original := map[string]any{
		"ownerId":      "u1",
		"monthlyLimit": "150.00",
		"nested": map[string]any{
			"accountId": "a1",
			"items":     []any{map[string]any{"recordId": "r1"}},
		},
	}

	back := CamelKeys(SnakeKeys(original))
	if !reflect.DeepEqual(original, back) {
		t.Errorf("round trip mismatch:\n got  %#v\n want %#v", back, original)
	}
}

func TestSnakeKeysNil(t *testing.T) {
	if SnakeKeys(nil) != nil {
		t.Error("SnakeKeys(nil) should be nil")
	}
}
