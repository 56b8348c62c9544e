package chain_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quizfi/aptquiz/internal/chain"
)

func TestOctas(t *testing.T) {
	tests := map[string]struct {
		amount string
		want   uint64
	}{
		"whole APT":               {amount: "5", want: 500_000_000},
		"eight decimal places":    {amount: "3.50000000", want: 350_000_000},
		"smallest unit":           {amount: "0.00000001", want: 1},
		"zero":                    {amount: "0", want: 0},
		"sub-octa dust truncates": {amount: "0.000000015", want: 1},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := chain.Octas(decimal.RequireFromString(tt.amount))
			require.Equal(t, tt.want, got)
		})
	}
}

func TestAPT(t *testing.T) {
	tests := map[string]struct {
		octas uint64
		want  string
	}{
		"whole APT":     {octas: 500_000_000, want: "5"},
		"fraction":      {octas: 350_000_000, want: "3.5"},
		"smallest unit": {octas: 1, want: "0.00000001"},
		"zero":          {octas: 0, want: "0"},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := chain.APT(tt.octas)
			require.True(t, decimal.RequireFromString(tt.want).Equal(got),
				"want %s, got %s", tt.want, got)
		})
	}
}
