package sizing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestSizeBoundedByRisk(t *testing.T) {
	s := New(Limits{
		Capital:                  dec("1000000"),
		MaxRiskPerTradePercent:   dec("1"),    // risk budget = 10,000
		MaxPositionSize:          100000,
		MaxSinglePositionPercent: dec("100"), // effectively unbounded here
	})

	// entry=100, stop=95 -> risk per unit = 5 -> size = 10000/5 = 2000
	size := s.Size(dec("100"), dec("95"))
	if size != 2000 {
		t.Errorf("Size = %d, want 2000", size)
	}
}

func TestSizeBoundedBySinglePositionPercent(t *testing.T) {
	s := New(Limits{
		Capital:                  dec("1000000"),
		MaxRiskPerTradePercent:   dec("100"), // effectively unbounded
		MaxPositionSize:          100000,
		MaxSinglePositionPercent: dec("10"), // 100,000 position value cap
	})

	// entry=100, stop=99 -> risk per unit = 1 -> byRisk huge, but position
	// value capped at 100,000 / 100 = 1000 units.
	size := s.Size(dec("100"), dec("99"))
	if size != 1000 {
		t.Errorf("Size = %d, want 1000", size)
	}
}

func TestSizeZeroRiskReturnsZero(t *testing.T) {
	s := New(Limits{Capital: dec("1000000"), MaxRiskPerTradePercent: dec("1"), MaxPositionSize: 1000, MaxSinglePositionPercent: dec("10")})
	if size := s.Size(dec("100"), dec("100")); size != 0 {
		t.Errorf("Size with zero risk = %d, want 0", size)
	}
}

func TestSizeBoundedByMaxPositionSize(t *testing.T) {
	s := New(Limits{
		Capital:                  dec("100000000"),
		MaxRiskPerTradePercent:   dec("100"),
		MaxPositionSize:          50,
		MaxSinglePositionPercent: dec("100"),
	})
	size := s.Size(dec("10"), dec("9"))
	if size != 50 {
		t.Errorf("Size = %d, want 50 (capped by MaxPositionSize)", size)
	}
}
