package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/errors"
	"github.com/victornm/arena/internal/event"
	"github.com/victornm/arena/internal/session"
	"github.com/victornm/arena/internal/store"
)

func TestService_Create(t *testing.T) {
	t.Run("pre-admits the host as the sole active player", func(t *testing.T) {
		s, _ := makeService(t, withCodes("ABC123"))

		ss, err := s.Create(context.Background(), session.CreateRequest{
			HostID:      "host",
			DisplayName: "Hosty",
			MaxPlayers:  4,
		})
		require.NoError(t, err)

		require.Equal(t, "ABC123", ss.Code)
		require.Equal(t, domain.StateIdle, ss.State)
		require.Equal(t, "host", ss.HostID)
		require.Equal(t, 4, ss.MaxPlayers)
		require.Len(t, ss.Players, 1)
		require.Equal(t, domain.StatusActive, ss.Players["host"].Status)
	})

	t.Run("regenerates on a taken code", func(t *testing.T) {
		s, st := makeService(t, withCodes("AAAAAA", "BBBBBB"))
		seedSession(t, st, &domain.Session{Code: "AAAAAA", State: domain.StateIdle, HostID: "other"})

		ss, err := s.Create(context.Background(), session.CreateRequest{HostID: "host", MaxPlayers: 2})
		require.NoError(t, err)
		require.Equal(t, "BBBBBB", ss.Code)

		// The colliding session was not overwritten.
		prev, err := s.Get(context.Background(), "AAAAAA")
		require.NoError(t, err)
		require.Equal(t, "other", prev.HostID)
	})

	t.Run("rejects invalid arguments", func(t *testing.T) {
		s, _ := makeService(t)

		_, err := s.Create(context.Background(), session.CreateRequest{HostID: "", MaxPlayers: 4})
		require.True(t, errors.Is(err, errors.CodeInvalidArgument))

		_, err = s.Create(context.Background(), session.CreateRequest{HostID: "host", MaxPlayers: 1})
		require.True(t, errors.Is(err, errors.CodeInvalidArgument))
	})
}

func TestService_Start(t *testing.T) {
	items := []string{"q1", "q2", "q3"}

	tests := map[string]struct {
		arrange func(ss *domain.Session) session.StartRequest
		assert  func(t *testing.T, ss *domain.Session, err error)
	}{
		"host starts an idle session with enough players": {
			arrange: func(ss *domain.Session) session.StartRequest {
				return session.StartRequest{Code: ss.Code, CallerID: "host", MatchKind: domain.KindKnowledgeRace, ItemIDs: items}
			},
			assert: func(t *testing.T, ss *domain.Session, err error) {
				require.NoError(t, err)
				require.Equal(t, domain.StateActive, ss.State)
				require.Equal(t, items, ss.ItemIDs)
				require.True(t, ss.StartAnchor.IsResolved())
				require.False(t, ss.WinnerDeclared)
				require.Equal(t, 3, ss.WinCondition, "win score is capped at the item count")
			},
		},

		"starting resets per-round member state": {
			arrange: func(ss *domain.Session) session.StartRequest {
				ss.Players["p2"].Score = 7
				ss.Players["p2"].ItemIndex = 5
				return session.StartRequest{Code: ss.Code, CallerID: "host", MatchKind: domain.KindKnowledgeRace, ItemIDs: items}
			},
			assert: func(t *testing.T, ss *domain.Session, err error) {
				require.NoError(t, err)
				require.Equal(t, 0, ss.Players["p2"].Score)
				require.Equal(t, 0, ss.Players["p2"].ItemIndex)
				require.False(t, ss.Players["p2"].LastScoreAt.IsResolved())
			},
		},

		"only the host can start": {
			arrange: func(ss *domain.Session) session.StartRequest {
				return session.StartRequest{Code: ss.Code, CallerID: "p2", MatchKind: domain.KindKnowledgeRace, ItemIDs: items}
			},
			assert: func(t *testing.T, _ *domain.Session, err error) {
				require.True(t, errors.Is(err, errors.CodePermissionDenied))
			},
		},

		"an active session cannot start again": {
			arrange: func(ss *domain.Session) session.StartRequest {
				ss.State = domain.StateActive
				return session.StartRequest{Code: ss.Code, CallerID: "host", MatchKind: domain.KindKnowledgeRace, ItemIDs: items}
			},
			assert: func(t *testing.T, _ *domain.Session, err error) {
				require.True(t, errors.Is(err, errors.CodeFailedPrecondition))
			},
		},

		"a single player is not a match": {
			arrange: func(ss *domain.Session) session.StartRequest {
				delete(ss.Players, "p2")
				return session.StartRequest{Code: ss.Code, CallerID: "host", MatchKind: domain.KindKnowledgeRace, ItemIDs: items}
			},
			assert: func(t *testing.T, _ *domain.Session, err error) {
				require.True(t, errors.Is(err, errors.CodeFailedPrecondition))
			},
		},

		"unknown match kind is rejected": {
			arrange: func(ss *domain.Session) session.StartRequest {
				return session.StartRequest{Code: ss.Code, CallerID: "host", MatchKind: "speed-run", ItemIDs: items}
			},
			assert: func(t *testing.T, _ *domain.Session, err error) {
				require.True(t, errors.Is(err, errors.CodeInvalidArgument))
			},
		},

		"empty item set is rejected": {
			arrange: func(ss *domain.Session) session.StartRequest {
				return session.StartRequest{Code: ss.Code, CallerID: "host", MatchKind: domain.KindKnowledgeRace}
			},
			assert: func(t *testing.T, _ *domain.Session, err error) {
				require.True(t, errors.Is(err, errors.CodeInvalidArgument))
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, st := makeService(t)
			ss := twoPlayerSession("ROOM01")
			req := tt.arrange(ss)
			seedSession(t, st, ss)

			started, err := s.Start(context.Background(), req)
			tt.assert(t, started, err)
		})
	}
}

func TestService_Reset(t *testing.T) {
	t.Run("recycles a concluded session and reactivates members", func(t *testing.T) {
		s, st := makeService(t)

		ss := twoPlayerSession("ROOM01")
		ss.State = domain.StateConcluded
		ss.MatchKind = domain.KindKnowledgeRace
		ss.ItemIDs = []string{"q1"}
		ss.WinnerID = "p2"
		ss.WinnerDeclared = true
		ss.StartAnchor = domain.ResolvedAt(time.Now())
		ss.Players["p2"].Status = domain.StatusResigned
		ss.Players["p2"].Score = 3
		seedSession(t, st, ss)

		got, err := s.Reset(context.Background(), session.ResetRequest{Code: "ROOM01", CallerID: "host"})
		require.NoError(t, err)

		require.Equal(t, domain.StateIdle, got.State)
		require.Empty(t, got.ItemIDs)
		require.Empty(t, got.WinnerID)
		require.False(t, got.WinnerDeclared)
		require.False(t, got.StartAnchor.IsResolved())
		require.Equal(t, domain.StatusActive, got.Players["p2"].Status)
		require.Equal(t, 0, got.Players["p2"].Score)
	})

	t.Run("only the host can reset", func(t *testing.T) {
		s, st := makeService(t)
		seedSession(t, st, twoPlayerSession("ROOM01"))

		_, err := s.Reset(context.Background(), session.ResetRequest{Code: "ROOM01", CallerID: "p2"})
		require.True(t, errors.Is(err, errors.CodePermissionDenied))
	})
}

func TestService_Get(t *testing.T) {
	s, _ := makeService(t)

	_, err := s.Get(context.Background(), "NOSUCH")
	require.True(t, errors.Is(err, errors.CodeNotFound))
}

func twoPlayerSession(code string) *domain.Session {
	return &domain.Session{
		Code:       code,
		State:      domain.StateIdle,
		HostID:     "host",
		MaxPlayers: 4,
		Players: map[string]*domain.Member{
			"host": {UserID: "host", Status: domain.StatusActive},
			"p2":   {UserID: "p2", Status: domain.StatusActive},
		},
	}
}

func seedSession(t *testing.T, st store.Store, ss *domain.Session) {
	t.Helper()

	b, err := domain.EncodeSession(ss)
	require.NoError(t, err)
	require.NoError(t, st.Set(context.Background(), domain.SessionPath(ss.Code), b))
}

func makeService(t *testing.T, opts ...options) (*session.Service, store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	st := store.NewClient(store.Config{Redis: rc, Prefix: "test"})

	c := session.Config{
		Store:    st,
		EventBus: event.NewBus(),
	}
	for _, opt := range opts {
		opt(&c)
	}

	return session.NewService(c), st
}

type options func(c *session.Config)

func withCodes(codes ...string) options {
	i := 0
	return func(c *session.Config) {
		c.GenerateCode = func() (string, error) {
			code := codes[i%len(codes)]
			i++
			return code, nil
		}
	}
}
