package resolution

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/aristath/scout/internal/domain"
	testingpkg "github.com/aristath/scout/internal/testing"
)

func candidate(symbol, longName, currency string) *domain.CandidateMatch {
	return &domain.CandidateMatch{
		Symbol:   symbol,
		LongName: longName,
		Currency: currency,
	}
}

func TestValidatorCurrencyGate(t *testing.T) {
	v := NewValidator(zerolog.Nop())
	query := testingpkg.QueryFixture("AAPL", "US0378331005", "Apple Inc", "USD")

	// Currency mismatch rejects on every strategy, even a perfect name.
	for _, strategy := range []domain.Strategy{domain.StrategyISIN, domain.StrategyTicker, domain.StrategyName} {
		t.Run(string(strategy), func(t *testing.T) {
			verdict := v.Validate(&query, candidate("AAPL", "Apple Inc", "EUR"), strategy)
			assert.False(t, verdict.Accepted)
			assert.Contains(t, verdict.Reason, "currency mismatch")
		})
	}
}

func TestValidatorISINStrategy(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	t.Run("identical name accepted with high confidence", func(t *testing.T) {
		query := testingpkg.QueryFixture("AAPL", "US0378331005", "Apple Inc", "USD")
		verdict := v.Validate(&query, candidate("AAPL", "Apple Inc.", "USD"), domain.StrategyISIN)

		assert.True(t, verdict.Accepted)
		assert.Greater(t, verdict.Score, 0.9)
	})

	t.Run("wrong isin rejected despite identifier hit", func(t *testing.T) {
		query := testingpkg.QueryFixture("ADMCM.HE", "FI0009006407", "Admicom Oyj", "EUR")
		verdict := v.Validate(&query, candidate("ICP1V", "INCAP OYJ", "EUR"), domain.StrategyISIN)

		assert.False(t, verdict.Accepted)
		assert.Contains(t, verdict.Reason, "possible wrong ISIN")
	})

	t.Run("partial name agreement accepted", func(t *testing.T) {
		query := testingpkg.QueryFixture("ROCK-A.CO", "DK0010219070", "ROCKWOOL International A/S", "DKK")
		verdict := v.Validate(&query, candidate("ROCK A", "Rockwool International", "DKK"), domain.StrategyISIN)

		assert.True(t, verdict.Accepted)
	})
}

func TestValidatorTickerStrategy(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	t.Run("currency alone is enough", func(t *testing.T) {
		query := testingpkg.QueryFixture("XYZ", "", "Some Completely Different Name", "USD")
		verdict := v.Validate(&query, candidate("XYZ", "Unrelated Holdings", "USD"), domain.StrategyTicker)

		assert.True(t, verdict.Accepted)
		assert.Contains(t, verdict.Reason, "currency confirmed")
		assert.GreaterOrEqual(t, verdict.Score, 0.5)
	})

	t.Run("word overlap noted in reason", func(t *testing.T) {
		query := testingpkg.QueryFixture("ROCK-A.CO", "", "ROCKWOOL International A/S", "DKK")
		verdict := v.Validate(&query, candidate("ROCKA", "ROCKWOOL A/S", "DKK"), domain.StrategyTicker)

		assert.True(t, verdict.Accepted)
	})
}

func TestValidatorNameStrategy(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	tests := []struct {
		name          string
		queryName     string
		candidateName string
		accepted      bool
	}{
		{"near identical", "Apple Inc", "Apple Inc.", true},
		{"distinctive word hit", "Admicom Oyj", "Admicom Plc", true},
		{"unrelated names", "Apple Inc", "Microsoft Corporation", false},
		{"shared generic word only", "Nordic Group Ltd", "Baltic Group Plc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query := testingpkg.QueryFixture("TICK", "", tt.queryName, "EUR")
			verdict := v.Validate(&query, candidate("TICK", tt.candidateName, "EUR"), domain.StrategyName)
			assert.Equal(t, tt.accepted, verdict.Accepted, "reason: %s", verdict.Reason)
		})
	}
}

func TestSimilarityRatio(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		min  float64
		max  float64
	}{
		{"identical after cleaning", "Apple Inc.", "apple inc", 1.0, 1.0},
		{"accents ignored", "L'Oréal", "LOREAL", 1.0, 1.0},
		{"completely different", "Apple Inc", "Volkswagen AG", 0.0, 0.35},
		{"empty side", "", "Apple", 0.0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ratio := SimilarityRatio(tt.a, tt.b)
			assert.GreaterOrEqual(t, ratio, tt.min)
			assert.LessOrEqual(t, ratio, tt.max)
		})
	}
}
