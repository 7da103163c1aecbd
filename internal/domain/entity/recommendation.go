package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeDirection represents the direction of a recommended trade.
type TradeDirection string

const (
	TradeDirectionLong  TradeDirection = "long"
	TradeDirectionShort TradeDirection = "short"
)

// IsValid returns true if the TradeDirection is a known valid direction
func (d TradeDirection) IsValid() bool {
	return d == TradeDirectionLong || d == TradeDirectionShort
}

// Recommendation is a trade idea produced by an analysis task for one expert
// and use case. The recommendation processor turns recent recommendations
// into orders.
type Recommendation struct {
	ID             int64
	ExpertID       int64
	UseCase        string
	Symbol         string
	Direction      TradeDirection
	ExpectedProfit decimal.Decimal
	Details        map[string]any
	GeneratedAt    time.Time
}

// NewRecommendation creates a new Recommendation with validation.
func NewRecommendation(expertID int64, useCase, symbol string, direction TradeDirection, expectedProfit decimal.Decimal, generatedAt time.Time) (*Recommendation, error) {
	r := &Recommendation{
		ExpertID:       expertID,
		UseCase:        useCase,
		Symbol:         symbol,
		Direction:      direction,
		ExpectedProfit: expectedProfit,
		GeneratedAt:    generatedAt,
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recommendation) validate() error {
	if r.ExpertID <= 0 {
		return fmt.Errorf("expertID must be positive, got %d", r.ExpertID)
	}
	if r.UseCase == "" {
		return fmt.Errorf("useCase must not be empty")
	}
	if r.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if !r.Direction.IsValid() {
		return fmt.Errorf("invalid trade direction: %q", r.Direction)
	}
	if r.GeneratedAt.IsZero() {
		return fmt.Errorf("generatedAt must be set")
	}
	return nil
}

// Clone returns a deep copy of the recommendation, including the details map.
func (r *Recommendation) Clone() *Recommendation {
	c := *r
	if r.Details != nil {
		c.Details = make(map[string]any, len(r.Details))
		for k, v := range r.Details {
			c.Details[k] = v
		}
	}
	return &c
}
