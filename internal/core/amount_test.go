package core

import (
	"errors"
	"testing"
)

func TestParseCreditAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "plain integer", input: "40", want: 40},
		{name: "zero is the automation disable sentinel", input: "0", want: 0},
		{name: "surrounding whitespace", input: "  25 ", want: 25},
		{name: "large amount", input: "1000000", want: 1000000},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
		{name: "negative", input: "-5", wantErr: true},
		{name: "explicit plus sign", input: "+5", wantErr: true},
		{name: "decimal", input: "1.5", wantErr: true},
		{name: "non-numeric", input: "ten", wantErr: true},
		{name: "digits with suffix", input: "10credits", wantErr: true},
		{name: "overflow", input: "99999999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCreditAmount(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Fatalf("ParseCreditAmount(%q) error = %v, want ErrInvalidAmount", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCreditAmount(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseCreditAmount(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestRequirePositiveAmount(t *testing.T) {
	if err := RequirePositiveAmount(1); err != nil {
		t.Errorf("RequirePositiveAmount(1) = %v, want nil", err)
	}
	if err := RequirePositiveAmount(0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("RequirePositiveAmount(0) = %v, want ErrInvalidAmount", err)
	}
	if err := RequirePositiveAmount(-10); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("RequirePositiveAmount(-10) = %v, want ErrInvalidAmount", err)
	}
}
