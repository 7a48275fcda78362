package bidrequest

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/solatis/bidkeeper/internal/types"
)

func TestCoerceFloat(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    float64
		wantErr error
	}{
		{"decimal string", "34.79", 34.79, nil},
		{"string with whitespace", "  -138.86 ", -138.86, nil},
		{"json number", json.Number("35.0"), 35.0, nil},
		{"float64 passthrough", 42.5, 42.5, nil},
		{"exponent", "1e2", 100, nil},
		{"empty string", "", 0, types.ErrCoercionFailed},
		{"whitespace only", "   ", 0, types.ErrCoercionFailed},
		{"not a number", "north", 0, types.ErrCoercionFailed},
		{"NaN", "NaN", 0, types.ErrCoercionFailed},
		{"infinity", "+Inf", 0, types.ErrCoercionFailed},
		{"boolean", true, 0, types.ErrCoercionFailed},
		{"object", map[string]any{}, 0, types.ErrCoercionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceFloat(tt.value)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("coerceFloat(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("coerceFloat(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestCoerceInteger(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    int64
		wantErr error
	}{
		{"decimal string", "1704090600000", 1704090600000, nil},
		{"negative", "-1", -1, nil},
		{"json number", json.Number("1704090600000"), 1704090600000, nil},
		{"padded", " 42 ", 42, nil},
		{"fraction", "1.5", 0, types.ErrCoercionFailed},
		{"json fraction", json.Number("1.5"), 0, types.ErrCoercionFailed},
		{"overflow", "99999999999999999999", 0, types.ErrCoercionFailed},
		{"float64 rejected", 42.0, 0, types.ErrCoercionFailed},
		{"empty", "", 0, types.ErrCoercionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceInteger(tt.value)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("coerceInteger(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("coerceInteger(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestCoerceText(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    string
		wantErr error
	}{
		{"string", "IAB3", "IAB3", nil},
		{"empty string kept", "", "", nil},
		{"json number original form", json.Number("12.50"), "12.50", nil},
		{"boolean", false, "", types.ErrCoercionFailed},
		{"array", []any{"a"}, "", types.ErrCoercionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceText(tt.value)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("coerceText(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("coerceText(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}
