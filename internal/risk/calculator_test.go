package risk

import (
	"math/rand"
	"testing"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func exposure(yesShares int64, yesValue string, noShares int64, noValue string) domain.Exposure {
	return domain.Exposure{
		YesShares: yesShares,
		YesValue:  d(yesValue),
		NoShares:  noShares,
		NoValue:   d(noValue),
	}
}

func TestWorstCaseProfit(t *testing.T) {
	tests := []struct {
		name      string
		committed domain.Exposure
		delta     Delta
		want      string
	}{
		{
			name:      "empty market",
			committed: exposure(0, "0", 0, "0"),
			want:      "0",
		},
		{
			name:      "one sided fill is a loss if that side wins",
			committed: exposure(0, "0", 0, "0"),
			delta:     Delta{Option: domain.OptionYes, Amount: 3, Price: d("6")},
			want:      "-12",
		},
		{
			name:      "breakeven pair",
			committed: exposure(1, "2", 0, "0"),
			delta:     Delta{Option: domain.OptionNo, Amount: 1, Price: d("8")},
			want:      "0",
		},
		{
			name:      "profitable pair of nines",
			committed: exposure(5, "45", 0, "0"),
			delta:     Delta{Option: domain.OptionNo, Amount: 5, Price: d("9")},
			want:      "40",
		},
		{
			name:      "fractional prices",
			committed: exposure(2, "11", 2, "9.5"),
			want:      "0.5",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WorstCaseProfit(tt.committed, tt.delta)
			assert.True(t, d(tt.want).Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestWorstCaseProfitDoesNotMutateInput(t *testing.T) {
	committed := exposure(1, "5", 1, "5")
	_ = WorstCaseProfit(committed, Delta{Option: domain.OptionYes, Amount: 4, Price: d("3")})
	assert.Equal(t, int64(1), committed.YesShares)
	assert.True(t, committed.YesValue.Equal(d("5")))
}

func TestMaxSafeFill(t *testing.T) {
	tests := []struct {
		name      string
		committed domain.Exposure
		opt       domain.Option
		price     string
		limit     int64
		want      int64
	}{
		{"empty market allows nothing", exposure(0, "0", 0, "0"), domain.OptionYes, "6", 3, 0},
		{"surplus covers full remainder", exposure(5, "45", 5, "45"), domain.OptionYes, "6", 3, 3},
		// slack on NO is 90-50 = 40, each share costs 10-6 = 4
		{"surplus covers part", exposure(5, "45", 5, "45"), domain.OptionNo, "6", 20, 10},
		{"side already underwater", exposure(4, "8", 0, "0"), domain.OptionYes, "6", 3, 0},
		{"zero limit", exposure(5, "45", 5, "45"), domain.OptionYes, "6", 0, 0},
		// filling YES only helps the NO outcome; NO is underwater at any size here
		{"opposite side underwater", exposure(0, "0", 3, "3"), domain.OptionYes, "9", 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MaxSafeFill(tt.committed, tt.opt, d(tt.price), tt.limit)
			assert.Equal(t, tt.want, got)
			if got > 0 {
				assert.False(t, WorstCaseProfit(tt.committed, Delta{Option: tt.opt, Amount: got, Price: d(tt.price)}).IsNegative())
			}
			if got < tt.limit {
				assert.True(t, WorstCaseProfit(tt.committed, Delta{Option: tt.opt, Amount: got + 1, Price: d(tt.price)}).IsNegative(),
					"one more share must break solvency")
			}
		})
	}
}

func TestMaxSafeFillKeepsRandomSequencesSolvent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	prices := []string{"0.5", "1", "2.5", "5", "6", "8", "9", "9.5"}

	for run := 0; run < 200; run++ {
		e := exposure(3, "27", 3, "27")
		for step := 0; step < 25; step++ {
			opt := domain.OptionYes
			if rng.Intn(2) == 1 {
				opt = domain.OptionNo
			}
			price := d(prices[rng.Intn(len(prices))])
			want := int64(rng.Intn(10) + 1)

			q := MaxSafeFill(e, opt, price, want)
			require.LessOrEqual(t, q, want)
			e = Apply(e, Delta{Option: opt, Amount: q, Price: price})
			require.True(t, Solvent(e), "run %d step %d", run, step)
		}
	}
}
