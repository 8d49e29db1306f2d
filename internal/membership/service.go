// Package membership admits and removes session members under the capacity
// bound. Admission and removal are single atomic read-modify-writes over the
// session document: two users racing for the last slot, or two players
// leaving in the same instant, serialize through the store's transaction and
// converge to a correct count and exactly one forfeit win.
package membership

import (
	"context"
	"time"

	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/errors"
	"github.com/victornm/arena/internal/event"
	"github.com/victornm/arena/internal/store"
	"github.com/victornm/arena/internal/telemetry"
)

type Config struct {
	Store    store.Store
	EventBus *event.Bus
}

type Service struct {
	store store.Store
	eb    *event.Bus
}

func NewService(c Config) *Service {
	return &Service{
		store: c.Store,
		eb:    c.EventBus,
	}
}

// Reasons for a rejected admission. ReasonFull is an expected outcome, not a
// transport failure: callers present "room full", not a generic error.
const (
	ReasonFull = "full"
)

type AdmitRequest struct {
	Code        string
	UserID      string
	DisplayName string
	AvatarURL   string
	Role        domain.Role
}

type AdmitResponse struct {
	Admitted bool
	Reason   string
	Session  *domain.Session
}

// Admit adds a user to a session. Players are capacity-bound and admitted
// through an atomic count-check-insert; spectators are admitted
// unconditionally. A user holds at most one role: joining as spectator
// departs any live player record, joining as player clears the spectator
// entry, in the same update.
func (s *Service) Admit(ctx context.Context, req AdmitRequest) (*AdmitResponse, error) {
	if req.Role != domain.RolePlayer && req.Role != domain.RoleSpectator {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown role %q", req.Role))
	}

	errFull := errors.New(errors.CodeResourceExhausted)

	var (
		admitted *domain.Session
		forfeit  *forfeitResult
	)
	_, err := s.store.AtomicUpdate(ctx, domain.SessionPath(req.Code), func(cur []byte, now time.Time) ([]byte, error) {
		forfeit = nil

		ss, err := decodeExisting(cur, req.Code)
		if err != nil {
			return nil, err
		}

		if req.Role == domain.RoleSpectator {
			admitSpectator(ss, req, now)
			// Stepping down from player to spectator mid-round is leaving the
			// match; the forfeit rule applies like any other departure.
			forfeit = creditForfeitIfLastStanding(ss)
		} else {
			if err := admitPlayer(ss, req, errFull); err != nil {
				return nil, err
			}
		}

		admitted = ss
		return domain.EncodeSession(ss)
	})
	if errors.Is(err, errors.CodeResourceExhausted) {
		telemetry.AdmissionsRejected.Inc()
		return &AdmitResponse{Admitted: false, Reason: ReasonFull}, nil
	}
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventMemberAdmitted{Session: *admitted, UserID: req.UserID, Role: req.Role})
	s.publishForfeit(ctx, admitted, forfeit)

	return &AdmitResponse{Admitted: true, Session: admitted}, nil
}

func admitSpectator(ss *domain.Session, req AdmitRequest, now time.Time) {
	if m := ss.Player(req.UserID); m != nil && !m.Status.Terminal() {
		m.Status = domain.StatusDeparted
	}

	if ss.Spectators == nil {
		ss.Spectators = make(map[string]*domain.Spectator)
	}
	ss.Spectators[req.UserID] = &domain.Spectator{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
		JoinedAt:    now.UnixMilli(),
	}
}

func admitPlayer(ss *domain.Session, req AdmitRequest, errFull error) error {
	if m := ss.Player(req.UserID); m != nil {
		if !m.Status.Terminal() {
			// Rejoin: refresh identity, keep round progress, no count change.
			m.DisplayName = req.DisplayName
			m.AvatarURL = req.AvatarURL
			delete(ss.Spectators, req.UserID)
			return nil
		}
		if ss.State == domain.StateActive {
			return errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("user %s left the active round and cannot rejoin as player", req.UserID))
		}
		// Terminal record from a previous round: re-admission below, against
		// capacity like a fresh join.
	}

	if len(ss.ActivePlayers()) >= ss.MaxPlayers {
		return errFull
	}

	if ss.Players == nil {
		ss.Players = make(map[string]*domain.Member)
	}
	ss.Players[req.UserID] = &domain.Member{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
		Status:      domain.StatusActive,
	}
	delete(ss.Spectators, req.UserID)
	return nil
}

type RemoveRequest struct {
	Code   string
	UserID string
	// Voluntary marks a resignation; involuntary removals (disconnects,
	// kicks) are recorded as departed.
	Voluntary bool
}

type RemoveResponse struct {
	// Session is nil when the removal emptied the room and the session was
	// torn down.
	Session *domain.Session
	// ForfeitWinnerID is set when this removal left a sole active player who
	// was credited the win.
	ForfeitWinnerID string
}

// Remove takes a member out of the session. The forfeit-by-attrition check
// runs inside the same atomic update as the removal: when the session is
// active and exactly one active player remains afterward, that player is
// credited the win and the session concludes. A session emptied of players
// and spectators is deleted in the same step.
func (s *Service) Remove(ctx context.Context, req RemoveRequest) (*RemoveResponse, error) {
	var (
		removed *domain.Session
		forfeit *forfeitResult
	)
	_, err := s.store.AtomicUpdate(ctx, domain.SessionPath(req.Code), func(cur []byte, _ time.Time) ([]byte, error) {
		removed, forfeit = nil, nil

		ss, err := decodeExisting(cur, req.Code)
		if err != nil {
			return nil, err
		}

		if m := ss.Player(req.UserID); m != nil && !m.Status.Terminal() {
			if req.Voluntary {
				m.Status = domain.StatusResigned
			} else {
				m.Status = domain.StatusDeparted
			}
			forfeit = creditForfeitIfLastStanding(ss)
		}
		delete(ss.Spectators, req.UserID)

		if len(ss.ActivePlayers()) == 0 && len(ss.Spectators) == 0 {
			// Nobody left to observe it: tear the session down. Readers
			// tolerate the document disappearing mid-read.
			return nil, nil
		}

		removed = ss
		return domain.EncodeSession(ss)
	})
	if err != nil {
		return nil, err
	}

	resp := &RemoveResponse{Session: removed}
	if forfeit != nil {
		resp.ForfeitWinnerID = forfeit.winnerID
	}

	if removed != nil {
		s.eb.Publish(ctx, domain.EventMemberRemoved{Session: *removed, UserID: req.UserID, Voluntary: req.Voluntary})
		s.publishForfeit(ctx, removed, forfeit)
	}

	return resp, nil
}

type forfeitResult struct {
	winnerID string
}

// creditForfeitIfLastStanding applies the forfeit-by-attrition rule to the
// in-transaction session value. The winner latch guards it: once a winner is
// declared for the round, later evaluations are no-ops.
func creditForfeitIfLastStanding(ss *domain.Session) *forfeitResult {
	if ss.State != domain.StateActive || ss.WinnerDeclared {
		return nil
	}

	active := ss.ActivePlayers()
	if len(active) != 1 {
		return nil
	}

	winner := active[0]
	ss.WinnerID = winner.UserID
	ss.WinnerDeclared = true
	ss.State = domain.StateConcluded

	return &forfeitResult{winnerID: winner.UserID}
}

func (s *Service) publishForfeit(ctx context.Context, ss *domain.Session, f *forfeitResult) {
	if f == nil {
		return
	}

	telemetry.WinnersDeclared.Inc()
	s.eb.Publish(ctx, domain.EventWinnerDeclared{
		Session:  *ss,
		WinnerID: f.winnerID,
		Forfeit:  true,
	})
}

func decodeExisting(cur []byte, code string) (*domain.Session, error) {
	if cur == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", code))
	}
	return domain.DecodeSession(cur)
}
