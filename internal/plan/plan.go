package plan

import (
	"context"
	"strings"
)

// Plan identifies a sender's subscription tier.
type Plan string

const (
	Free Plan = "FREE"
	Beta Plan = "BETA"
	Pro  Plan = "PRO"
)

// Oracle resolves a sender address to a plan. The production implementation
// queries the payment provider; it is external to this core.
type Oracle interface {
	PlanFor(ctx context.Context, email string) (Plan, error)
}

// StaticOracle is the default oracle: a fixed set of PRO senders (from
// config) with everyone else on BETA. Lookup failures never block
// processing, so there is no error path.
type StaticOracle struct {
	pro map[string]bool
}

// NewStaticOracle builds an oracle from a list of PRO sender addresses.
func NewStaticOracle(proSenders []string) *StaticOracle {
	pro := make(map[string]bool, len(proSenders))
	for _, s := range proSenders {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			pro[s] = true
		}
	}
	return &StaticOracle{pro: pro}
}

// PlanFor returns PRO for configured senders, BETA otherwise.
func (o *StaticOracle) PlanFor(_ context.Context, email string) (Plan, error) {
	if o.pro[strings.ToLower(strings.TrimSpace(email))] {
		return Pro, nil
	}
	return Beta, nil
}
