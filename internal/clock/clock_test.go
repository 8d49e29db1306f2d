package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/arena/internal/clock"
	"github.com/victornm/arena/internal/domain"
)

var anchor = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRemaining(t *testing.T) {
	itemDur := 30 * time.Second

	tests := map[string]struct {
		now    time.Time
		anchor domain.ServerTime
		want   time.Duration
		wantOK bool
	}{
		"at the anchor the full window remains": {
			now:    anchor,
			anchor: domain.ResolvedAt(anchor),
			want:   30 * time.Second,
			wantOK: true,
		},
		"mid-item the window shrinks": {
			now:    anchor.Add(10 * time.Second),
			anchor: domain.ResolvedAt(anchor),
			want:   20 * time.Second,
			wantOK: true,
		},
		"a reconnect mid-round folds into the current item": {
			now:    anchor.Add(75 * time.Second),
			anchor: domain.ResolvedAt(anchor),
			want:   15 * time.Second,
			wantOK: true,
		},
		"an observer ahead of the anchor keeps the full window": {
			now:    anchor.Add(-5 * time.Second),
			anchor: domain.ResolvedAt(anchor),
			want:   30 * time.Second,
			wantOK: true,
		},
		"no countdown before the anchor resolves": {
			now:    anchor,
			anchor: domain.ServerTime{},
			wantOK: false,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			got, ok := clock.Remaining(tt.now, tt.anchor, itemDur)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				require.Equal(t, tt.want, got)
			}
		})
	}
}

func TestItemAt(t *testing.T) {
	itemDur := 30 * time.Second

	got, ok := clock.ItemAt(anchor.Add(95*time.Second), domain.ResolvedAt(anchor), itemDur)
	require.True(t, ok)
	require.Equal(t, 3, got)

	got, ok = clock.ItemAt(anchor.Add(-time.Second), domain.ResolvedAt(anchor), itemDur)
	require.True(t, ok)
	require.Equal(t, 0, got)

	_, ok = clock.ItemAt(anchor, domain.ServerTime{}, itemDur)
	require.False(t, ok)
}

func TestDeadline(t *testing.T) {
	itemDur := 30 * time.Second

	d, ok := clock.Deadline(domain.ResolvedAt(anchor), 0, itemDur)
	require.True(t, ok)
	require.Equal(t, anchor.Add(30*time.Second), d)

	d, ok = clock.Deadline(domain.ResolvedAt(anchor), 2, itemDur)
	require.True(t, ok)
	require.Equal(t, anchor.Add(90*time.Second), d)

	_, ok = clock.Deadline(domain.ServerTime{}, 0, itemDur)
	require.False(t, ok)

	_, ok = clock.Deadline(domain.ResolvedAt(anchor), -1, itemDur)
	require.False(t, ok)
}

func TestExpired(t *testing.T) {
	itemDur := 30 * time.Second

	require.False(t, clock.Expired(anchor.Add(29*time.Second), domain.ResolvedAt(anchor), 0, itemDur))
	require.True(t, clock.Expired(anchor.Add(30*time.Second), domain.ResolvedAt(anchor), 0, itemDur))

	// Without a resolved anchor nothing ever expires.
	require.False(t, clock.Expired(anchor.Add(time.Hour), domain.ServerTime{}, 0, itemDur))
}
