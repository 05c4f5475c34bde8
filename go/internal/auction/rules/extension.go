package rules

import "time"

// ExtendDeadline applies the anti-sniping rule for a bid accepted at server
// time now. A bid landing within the threshold moves the deadline to
// now + window; the deadline never moves backwards.
func ExtendDeadline(deadline, now time.Time, fr FormatRules) (time.Time, bool) {
	if fr.ExtensionThreshold <= 0 || fr.ExtensionWindow <= 0 {
		return deadline, false
	}
	if !now.Before(deadline) || deadline.Sub(now) > fr.ExtensionThreshold {
		return deadline, false
	}
	next := now.Add(fr.ExtensionWindow)
	if !next.After(deadline) {
		return deadline, false
	}
	return next, true
}
