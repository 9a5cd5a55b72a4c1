package cost

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku": {
				Input: 0.80, Output: 4.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"sonnet": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
	}
}

func TestClaude(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name  string
		model string
		usage Usage
		want  float64
	}{
		{
			name:  "haiku simple",
			model: "haiku",
			usage: Usage{Input: 1000000, Output: 100000},
			want:  0.80 + 0.40,
		},
		{
			name:  "sonnet with cache",
			model: "sonnet",
			usage: Usage{Input: 1000000, CacheWrite: 1000000, CacheRead: 1000000},
			want:  3.00 + 3.75 + 0.30,
		},
		{
			name:  "unknown model",
			model: "gpt",
			usage: Usage{Input: 1000000},
			want:  0,
		},
		{
			name:  "zero tokens",
			model: "haiku",
			want:  0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Claude(tt.model, tt.usage), 1e-9)
		})
	}
}

func TestRecord_AccumulatesConcurrently(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			calc.Record("haiku", Usage{Input: 1000000})
		}()
	}
	wg.Wait()

	assert.InDelta(t, 8.0, calc.Total(), 1e-9)
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	rates := DefaultRates()
	assert.Contains(t, rates.Anthropic, "claude-haiku-4-5-20251001")
	assert.Contains(t, rates.Anthropic, "claude-sonnet-4-5-20250929")
}
