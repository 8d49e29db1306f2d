// Package clock reconstructs per-item deadlines from the server-resolved
// round anchor. There is no interval state to drift or pause: everything is a
// pure function of (now, anchor), so a backgrounded tab or a reconnect
// recomputes the same deadline every other client sees.
package clock

import (
	"time"

	"github.com/victornm/arena/internal/domain"
)

// DefaultItemDuration is the per-item time limit for knowledge races.
const DefaultItemDuration = 30 * time.Second

// Deadline is the wall-clock instant an item's timer expires, for the item
// at the given index. ok is false while the anchor is unresolved: the
// countdown has not started and consumers must not fabricate one.
func Deadline(anchor domain.ServerTime, itemIndex int, itemDur time.Duration) (deadline time.Time, ok bool) {
	if !anchor.IsResolved() || itemIndex < 0 {
		return time.Time{}, false
	}

	return anchor.At().Add(time.Duration(itemIndex+1) * itemDur), true
}

// Remaining recovers the time left on the member's current item from the
// round anchor alone. The elapsed time is folded modulo the item duration, so
// a member who fell behind the global pace keeps a full window for their own
// item instead of being fast-forwarded to the leader's position.
func Remaining(now time.Time, anchor domain.ServerTime, itemDur time.Duration) (time.Duration, bool) {
	if !anchor.IsResolved() || itemDur <= 0 {
		return 0, false
	}

	elapsed := now.Sub(anchor.At())
	if elapsed < 0 {
		// Clock skew put us before the anchor; the full window remains.
		return itemDur, true
	}

	rem := itemDur - elapsed%itemDur
	return rem, true
}

// ItemAt is the item index the round-global pace has reached, used to line a
// reconnecting observer up with the running countdown.
func ItemAt(now time.Time, anchor domain.ServerTime, itemDur time.Duration) (int, bool) {
	if !anchor.IsResolved() || itemDur <= 0 {
		return 0, false
	}

	elapsed := now.Sub(anchor.At())
	if elapsed < 0 {
		return 0, true
	}

	return int(elapsed / itemDur), true
}

// Expired reports whether the item at itemIndex has run out of time.
func Expired(now time.Time, anchor domain.ServerTime, itemIndex int, itemDur time.Duration) bool {
	d, ok := Deadline(anchor, itemIndex, itemDur)
	if !ok {
		return false
	}
	return !now.Before(d)
}
