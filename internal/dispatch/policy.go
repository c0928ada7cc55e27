package dispatch

import (
	"time"

	"github.com/genstudio/genstudio-be/internal/config"
	"github.com/genstudio/genstudio-be/internal/domain"
)

// Backoff shape names carried in queue entries.
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// RetryPolicy is one job type's static dispatch policy: how many
// attempts a worker may make, how long to wait between them, and the
// optional hard per-attempt timeout. It is configured at process start
// and never renegotiated per request.
type RetryPolicy struct {
	MaxAttempts    int
	BackoffType    string
	BackoffDelay   time.Duration
	AttemptTimeout time.Duration
}

// Delay returns the wait before retry attempt n (1-indexed; attempt 1
// is the first retry after the initial failure).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	switch p.BackoffType {
	case BackoffExponential:
		return p.BackoffDelay * time.Duration(uint(1)<<uint(attempt-1))
	default:
		return p.BackoffDelay
	}
}

// Queue converts the policy to its wire form on a queue entry
func (p RetryPolicy) Queue() domain.QueuePolicy {
	return domain.QueuePolicy{
		MaxAttempts:    p.MaxAttempts,
		BackoffType:    p.BackoffType,
		BackoffDelay:   p.BackoffDelay,
		AttemptTimeout: p.AttemptTimeout,
	}
}

// PolicyFromQueue restores a policy from its wire form
func PolicyFromQueue(q domain.QueuePolicy) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    q.MaxAttempts,
		BackoffType:    q.BackoffType,
		BackoffDelay:   q.BackoffDelay,
		AttemptTimeout: q.AttemptTimeout,
	}
}

// Table maps job types to their retry policies
type Table struct {
	policies map[string]RetryPolicy
}

// NewTableFromConfig builds the policy table from configuration
func NewTableFromConfig(cfg map[string]config.PolicyConfig) *Table {
	policies := make(map[string]RetryPolicy, len(cfg))
	for jobType, pc := range cfg {
		backoffType := pc.BackoffType
		if backoffType == "" {
			backoffType = BackoffExponential
		}
		delay := pc.BackoffDelay
		if delay <= 0 {
			delay = 5 * time.Second
		}
		policies[jobType] = RetryPolicy{
			MaxAttempts:    pc.MaxAttempts,
			BackoffType:    backoffType,
			BackoffDelay:   delay,
			AttemptTimeout: pc.AttemptTimeout,
		}
	}
	return &Table{policies: policies}
}

// PolicyFor returns the policy for a job type
func (t *Table) PolicyFor(jobType string) (RetryPolicy, bool) {
	p, ok := t.policies[jobType]
	return p, ok
}
