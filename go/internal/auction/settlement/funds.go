package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rules"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
	"github.com/tinti400/ligafut-new-sub000/go/internal/retry"
)

// errStale marks a compare-and-swap whose predicate no longer held.
var errStale = errors.New("value changed since read")

func (a *App) casPolicy() retry.Policy {
	p := a.retry
	p.RetryIf = func(err error) bool { return errors.Is(err, errStale) }
	return p
}

// countRetry records attempts after the first; an attempt that is never made
// is never counted.
func (a *App) countRetry(resource string, attempt int) {
	if attempt > 1 && a.recorder != nil {
		a.recorder.IncCASRetry(resource)
	}
}

// adjustBalance adds delta to a team balance with a compare-and-swap, re-reading
// and retrying within the policy bound when an unrelated write moved the
// balance in between. A debit that would go negative is refused.
func (a *App) adjustBalance(ctx context.Context, tx Tx, teamID uuid.UUID, delta int64) error {
	if delta == 0 {
		return nil
	}
	err := retry.Do(ctx, a.casPolicy(), func(attempt int) error {
		a.countRetry("balance", attempt)
		current, err := tx.GetBalance(ctx, teamID)
		if err != nil {
			return err
		}
		next := current + delta
		if next < 0 {
			return rules.Reject(rules.ReasonInsufficientBalance, "balance %d cannot cover %d", current, -delta)
		}
		ok, err := tx.CompareAndSwapBalance(ctx, teamID, current, next)
		if err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		if !ok {
			return errStale
		}
		return nil
	})
	return conflictOnExhaustion(err, "balance of %s kept changing", teamID)
}

// applyCounters writes theft counter deltas with the same bounded CAS retry.
// A retried increment is checked against its cap again, since the value it
// was validated with has moved.
func (a *App) applyCounters(ctx context.Context, tx Tx, auction *models.Auction, fr rules.FormatRules, deltas []rules.CounterDelta) error {
	if auction.Theft == nil {
		return nil
	}
	eventID := auction.Theft.EventID
	for _, d := range deltas {
		err := retry.Do(ctx, a.casPolicy(), func(attempt int) error {
			a.countRetry("counter", attempt)
			values, err := tx.GetCounters(ctx, eventID, []string{d.Key})
			if err != nil {
				return fmt.Errorf("failed to read counter: %w", err)
			}
			current := values[d.Key]
			next := current + d.Delta
			if next < 0 {
				next = 0
			}
			if limit := rules.CounterCap(d.Key, fr); d.Delta > 0 && limit > 0 && next > limit {
				return rules.Reject(rules.ReasonEligibilityDenied, "%s would exceed cap %d", d.Key, limit)
			}
			ok, err := tx.CompareAndSwapCounter(ctx, eventID, d.Key, current, next)
			if err != nil {
				return fmt.Errorf("failed to update counter: %w", err)
			}
			if !ok {
				return errStale
			}
			return nil
		})
		if err := conflictOnExhaustion(err, "counter %s kept changing", d.Key); err != nil {
			return err
		}
	}
	return nil
}

func conflictOnExhaustion(err error, format string, args ...any) error {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return rules.Reject(rules.ReasonSettlementConflict, format, args...)
	}
	return err
}
