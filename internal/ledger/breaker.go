package ledger

import (
	"github.com/jmehdipour/hookrelay/internal/model"
	"github.com/jmehdipour/hookrelay/internal/repository"
)

// DefaultThreshold is the number of consecutive failures that disables a subscription.
const DefaultThreshold = 10

// Breaker is the per-subscription circuit. Its state lives in the
// subscription row; the breaker only decides how to read it.
//
//	active --(threshold consecutive failures)--> disabled --(admin Enable)--> active
//
// A success at any point resets the failure run without changing status.
type Breaker struct {
	threshold int
}

func NewBreaker(threshold int) Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Breaker{threshold: threshold}
}

func (b Breaker) Threshold() int { return b.threshold }

// Ready reports whether deliveries may be attempted for sub.
func (b Breaker) Ready(sub *model.Subscription) bool {
	return sub != nil && sub.Status == model.SubscriptionActive
}

// Open reports whether the circuit is open after a recorded outcome. An
// open circuit stops any further retry of the current delivery.
func (b Breaker) Open(st repository.HealthState) bool {
	return st.Status == model.SubscriptionDisabled
}
