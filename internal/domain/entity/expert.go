package entity

import (
	"fmt"
	"time"
)

// Expert is an owner of analysis tasks and orders. Each expert maps use cases
// ("enter_trade", "manage_position", ...) to the rule set evaluated for it,
// and resolves to one broker account through AccountCode.
type Expert struct {
	ID                 int64
	Name               string
	AutoTradingEnabled bool
	RuleSets           map[string]int64 // use case -> rule set ID
	AccountCode        string
	CreatedAt          time.Time
}

// NewExpert creates a new Expert with validation.
func NewExpert(id int64, name, accountCode string) (*Expert, error) {
	e := &Expert{
		ID:          id,
		Name:        name,
		AccountCode: accountCode,
		RuleSets:    make(map[string]int64),
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Expert) validate() error {
	if e.ID <= 0 {
		return fmt.Errorf("id must be positive, got %d", e.ID)
	}
	if e.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if e.AccountCode == "" {
		return fmt.Errorf("accountCode must not be empty")
	}
	return nil
}

// RuleSetFor returns the rule set configured for the use case.
func (e *Expert) RuleSetFor(useCase string) (int64, bool) {
	id, ok := e.RuleSets[useCase]
	return id, ok
}

// Clone returns a deep copy of the expert, including the rule set map.
func (e *Expert) Clone() *Expert {
	c := *e
	if e.RuleSets != nil {
		c.RuleSets = make(map[string]int64, len(e.RuleSets))
		for k, v := range e.RuleSets {
			c.RuleSets[k] = v
		}
	}
	return &c
}
