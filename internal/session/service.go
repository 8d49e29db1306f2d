package session

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/errors"
	"github.com/victornm/arena/internal/event"
	"github.com/victornm/arena/internal/store"
	"github.com/victornm/arena/internal/telemetry"
)

const (
	codeLength  = 6
	codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// The code space is small enough that collisions are a real possibility
	// at scale, so creation regenerates and retries instead of failing on the
	// first taken code.
	maxCodeRetries = 10

	// MinPlayers is the floor for starting a competitive round.
	MinPlayers = 2

	// Knowledge races end at 10 correct answers, or the item count when the
	// round has fewer items than that.
	raceWinScore = 10
)

type Config struct {
	Store    store.Store
	EventBus *event.Bus

	// GenerateCode overrides session code generation, for tests.
	GenerateCode func() (string, error)
}

// Service owns the session lifecycle: creation, the idle -> active ->
// concluded -> idle transitions, and recycling for consecutive rounds.
type Service struct {
	store   store.Store
	eb      *event.Bus
	genCode func() (string, error)
}

func NewService(c Config) *Service {
	s := &Service{
		store:   c.Store,
		eb:      c.EventBus,
		genCode: c.GenerateCode,
	}
	if s.genCode == nil {
		s.genCode = generateCode
	}

	return s
}

func generateCode() (string, error) {
	max := big.NewInt(int64(len(codeCharset)))

	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[n.Int64()]
	}

	return string(code), nil
}

type CreateRequest struct {
	HostID      string
	DisplayName string
	AvatarURL   string
	MaxPlayers  int
}

// Create allocates a new idle session with the host pre-admitted as the sole
// active player. Code collisions are resolved by regenerating; after
// maxCodeRetries taken codes the creation fails.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Session, error) {
	if req.HostID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("host id is required"))
	}
	if req.MaxPlayers < MinPlayers {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("max players must be at least %d, got %d", MinPlayers, req.MaxPlayers))
	}

	errTaken := errors.New(errors.CodeAlreadyExists)

	for i := 0; i < maxCodeRetries; i++ {
		code, err := s.genCode()
		if err != nil {
			return nil, errors.Internal(err)
		}

		var created *domain.Session
		_, err = s.store.AtomicUpdate(ctx, domain.SessionPath(code), func(cur []byte, now time.Time) ([]byte, error) {
			if cur != nil {
				return nil, errTaken
			}

			created = &domain.Session{
				Code:       code,
				State:      domain.StateIdle,
				HostID:     req.HostID,
				MaxPlayers: req.MaxPlayers,
				CreatedAt:  now.UnixMilli(),
				Players: map[string]*domain.Member{
					req.HostID: {
						UserID:      req.HostID,
						DisplayName: req.DisplayName,
						AvatarURL:   req.AvatarURL,
						Status:      domain.StatusActive,
					},
				},
			}
			return domain.EncodeSession(created)
		})
		if errors.Is(err, errors.CodeAlreadyExists) {
			continue
		}
		if err != nil {
			return nil, err
		}

		return created, nil
	}

	return nil, errors.New(errors.CodeInternal,
		errors.WithMessagef("could not allocate a unique session code after %d attempts", maxCodeRetries))
}

type StartRequest struct {
	Code      string
	CallerID  string
	MatchKind domain.MatchKind
	ItemIDs   []string
}

// Start transitions idle -> active: freezes the item set, anchors the round
// start to a server-resolved instant, and resets every member's per-round
// fields, all in one atomic update.
func (s *Service) Start(ctx context.Context, req StartRequest) (*domain.Session, error) {
	if req.MatchKind != domain.KindSkillCheck && req.MatchKind != domain.KindKnowledgeRace {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown match kind %q", req.MatchKind))
	}
	if len(req.ItemIDs) == 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("item set is empty"))
	}

	var started *domain.Session
	_, err := s.store.AtomicUpdate(ctx, domain.SessionPath(req.Code), func(cur []byte, now time.Time) ([]byte, error) {
		ss, err := decodeExisting(cur, req.Code)
		if err != nil {
			return nil, err
		}

		if ss.HostID != req.CallerID {
			return nil, errors.New(errors.CodePermissionDenied,
				errors.WithMessagef("only the host can start the match: session=%s", req.Code))
		}
		if ss.State != domain.StateIdle {
			return nil, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("session %s is %s, not idle", req.Code, ss.State))
		}
		if n := len(ss.ActivePlayers()); n < MinPlayers {
			return nil, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("need at least %d players to start, have %d", MinPlayers, n))
		}

		ss.State = domain.StateActive
		ss.MatchKind = req.MatchKind
		ss.ItemIDs = req.ItemIDs
		ss.StartAnchor = domain.ResolvedAt(now)
		ss.WinnerID = ""
		ss.WinnerDeclared = false
		ss.WinCondition = 0
		if req.MatchKind == domain.KindKnowledgeRace {
			ss.WinCondition = min(raceWinScore, len(req.ItemIDs))
		}

		for _, m := range ss.Players {
			resetRoundFields(m)
		}

		started = ss
		return domain.EncodeSession(ss)
	})
	if err != nil {
		return nil, err
	}

	telemetry.MatchesStarted.Inc()
	s.eb.Publish(ctx, domain.EventMatchStarted{Session: *started})

	return started, nil
}

type ResetRequest struct {
	Code     string
	CallerID string
}

// Reset recycles a session for another round: concluded (or abandoned
// active) -> idle, round state cleared, membership preserved. Members who
// resigned or departed during the previous round come back as active - the
// terminal statuses bind only for the round they happened in.
func (s *Service) Reset(ctx context.Context, req ResetRequest) (*domain.Session, error) {
	var reset *domain.Session
	_, err := s.store.AtomicUpdate(ctx, domain.SessionPath(req.Code), func(cur []byte, _ time.Time) ([]byte, error) {
		ss, err := decodeExisting(cur, req.Code)
		if err != nil {
			return nil, err
		}

		if ss.HostID != req.CallerID {
			return nil, errors.New(errors.CodePermissionDenied,
				errors.WithMessagef("only the host can reset the session: session=%s", req.Code))
		}

		ss.State = domain.StateIdle
		ss.MatchKind = ""
		ss.ItemIDs = nil
		ss.WinCondition = 0
		ss.StartAnchor = domain.ServerTime{}
		ss.WinnerID = ""
		ss.WinnerDeclared = false

		for _, m := range ss.Players {
			resetRoundFields(m)
			m.Status = domain.StatusActive
			m.Code = ""
			m.Flags = nil
		}

		reset = ss
		return domain.EncodeSession(ss)
	})
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventSessionReset{Session: *reset})

	return reset, nil
}

// Get reads the latest session snapshot.
func (s *Service) Get(ctx context.Context, code string) (*domain.Session, error) {
	b, err := s.store.Read(ctx, domain.SessionPath(code))
	if err != nil {
		return nil, err
	}

	return domain.DecodeSession(b)
}

func resetRoundFields(m *domain.Member) {
	m.Score = 0
	m.LastScoreAt = domain.ServerTime{}
	m.ItemIndex = 0
	m.Answers = nil
}

// decodeExisting maps an absent document to NotFound; a session may vanish
// mid-operation when the last member leaves, and callers surface that rather
// than resurrecting it.
func decodeExisting(cur []byte, code string) (*domain.Session, error) {
	if cur == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", code))
	}
	return domain.DecodeSession(cur)
}
