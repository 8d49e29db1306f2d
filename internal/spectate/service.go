// Package spectate derives what non-participants see: the single lead player
// whose state currently represents the match. Derivation is read-only and
// recomputed in full from the latest snapshot on every delivery, never
// accumulated from deltas.
package spectate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/arena/internal/clock"
	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/event"
	"github.com/victornm/arena/internal/store"
)

// publishInterval coalesces projection updates: score updates arrive in
// bursts during a race and spectator views only need the latest.
const publishInterval = 200 * time.Millisecond

type Config struct {
	EventBus *event.Bus
	Store    store.Store
	Redis    redis.UniversalClient
	Prefix   string

	ItemDuration time.Duration
}

type Service struct {
	eb      *event.Bus
	store   store.Store
	redis   redis.UniversalClient
	prefix  string
	itemDur time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		eb:      c.EventBus,
		store:   c.Store,
		redis:   c.Redis,
		prefix:  c.Prefix,
		itemDur: c.ItemDuration,
	}
	if s.itemDur <= 0 {
		s.itemDur = clock.DefaultItemDuration
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.republish(ctx, e.(domain.EventScoreUpdated).Session)
	})
	s.eb.Subscribe(domain.EventNameMatchStarted, func(ctx context.Context, e event.Event) error {
		return s.republish(ctx, e.(domain.EventMatchStarted).Session)
	})

	return s
}

// Projection is the spectator-facing view of a session.
type Projection struct {
	SessionCode    string
	State          domain.SessionState
	PlayerCount    int
	SpectatorCount int

	LeadUserID      string
	LeadDisplayName string
	LeadScore       int
	LeadItemIndex   int
	LeadCode        string

	// ItemRemainingMS is the time left on the lead's current item, -1 while
	// the round anchor is unresolved.
	ItemRemainingMS int64

	WinnerDeclared bool
	WinnerID       string
}

// Project derives the spectator view from a snapshot. Pure: it never mutates
// match state, and identical inputs give identical projections everywhere.
func Project(ss *domain.Session, now time.Time, itemDur time.Duration) Projection {
	p := Projection{
		SessionCode:     ss.Code,
		State:           ss.State,
		PlayerCount:     len(ss.ActivePlayers()),
		SpectatorCount:  len(ss.Spectators),
		ItemRemainingMS: -1,
		WinnerDeclared:  ss.WinnerDeclared,
		WinnerID:        ss.WinnerID,
	}

	lead := domain.LeadPlayer(ss.Players)
	if lead == nil {
		return p
	}

	p.LeadUserID = lead.UserID
	p.LeadDisplayName = lead.DisplayName
	p.LeadScore = lead.Score
	p.LeadItemIndex = lead.ItemIndex
	p.LeadCode = lead.Code

	if rem, ok := clock.Remaining(now, ss.StartAnchor, itemDur); ok {
		p.ItemRemainingMS = rem.Milliseconds()
	}

	return p
}

type GetRequest struct {
	Code string
}

// Get computes the projection for the latest stored snapshot, with remaining
// time anchored to the store's server clock rather than any local countdown.
func (s *Service) Get(ctx context.Context, req GetRequest) (*Projection, error) {
	b, err := s.store.Read(ctx, domain.SessionPath(req.Code))
	if err != nil {
		return nil, err
	}
	ss, err := domain.DecodeSession(b)
	if err != nil {
		return nil, err
	}

	now, err := s.store.ServerTime(ctx)
	if err != nil {
		return nil, err
	}

	p := Project(ss, now, s.itemDur)
	return &p, nil
}

// republish recomputes the projection after a relevant update and fans it out
// on the event bus, throttled per session so bursts coalesce. SetNX keeps
// multiple engine instances from all publishing the same burst.
func (s *Service) republish(ctx context.Context, ss domain.Session) error {
	ok, err := s.redis.SetNX(ctx, s.throttleKey(ss.Code), 1, publishInterval).Result()
	if err != nil {
		return fmt.Errorf("projection throttle: %w", err)
	}
	if !ok {
		return nil
	}

	now, err := s.store.ServerTime(ctx)
	if err != nil {
		return err
	}

	p := Project(&ss, now, s.itemDur)
	s.eb.Publish(ctx, domain.EventProjectionUpdated{
		SessionCode: p.SessionCode,
		LeadUserID:  p.LeadUserID,
		ItemIndex:   p.LeadItemIndex,
	})

	return nil
}

func (s *Service) throttleKey(code string) string {
	return fmt.Sprintf("%s:%s:projection", s.prefix, code)
}
