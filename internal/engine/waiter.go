package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/auxprotocol/auxcli/api/schemas"
)

// minPollInterval floors how hot the waiter may poll regardless of the
// requested interval.
const minPollInterval = 50 * time.Millisecond

// WaitForElement polls a condition until it holds or the timeout budget is
// spent. Timing out is a normal outcome, reported in the result rather than
// as an error; only a malformed condition or a cancelled context fails the
// call. The condition is always evaluated once immediately, so a zero
// timeout degenerates to a single check without sleeping.
func (e *Engine) WaitForElement(ctx context.Context, req schemas.WaitRequest) (*schemas.WaitResult, error) {
	if err := req.Condition.Validate(); err != nil {
		return nil, err
	}

	timeout := req.TimeoutOrDefault().Duration()
	interval := req.PollIntervalOrDefault().Duration()
	if interval < minPollInterval {
		interval = minPollInterval
	}

	start := time.Now()
	polls := 0
	eval := func() (bool, error) {
		polls++
		return e.evalCondition(ctx, req.Condition)
	}
	done := func(status schemas.WaitStatus) *schemas.WaitResult {
		elapsed := time.Since(start)
		e.logger.Debug("Wait finished",
			zap.String("condition", string(req.Condition.Kind)),
			zap.String("selector", req.Condition.Selector),
			zap.String("status", string(status)),
			zap.Duration("elapsed", elapsed),
			zap.Int("polls", polls))
		return &schemas.WaitResult{
			Status:  status,
			Elapsed: schemas.SecondsOf(elapsed),
			Polls:   polls,
		}
	}

	ok, err := eval()
	if err != nil {
		return nil, err
	}
	if ok {
		return done(schemas.WaitSatisfied), nil
	}
	if timeout <= 0 {
		return done(schemas.WaitTimedOut), nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return done(schemas.WaitTimedOut), nil
		case <-ticker.C:
			ok, err := eval()
			if err != nil {
				return nil, err
			}
			if ok {
				return done(schemas.WaitSatisfied), nil
			}
		}
	}
}
