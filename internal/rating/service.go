package rating

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/event"
)

// maxConcurrentApplies bounds the fan-out when a concluded match updates
// every participant's profile.
const maxConcurrentApplies = 8

type Config struct {
	DB       *pgxpool.Pool
	EventBus *event.Bus
}

type Service struct {
	db *pgxpool.Pool
	eb *event.Bus
}

func NewService(c Config) *Service {
	s := &Service{
		db: c.DB,
		eb: c.EventBus,
	}

	s.eb.Subscribe(domain.EventNameWinnerDeclared, func(ctx context.Context, e event.Event) error {
		return s.ApplyMatch(ctx, e.(domain.EventWinnerDeclared).Session)
	})

	return s
}

// GetProfile reads a user's rating profile, defaulting an absent profile to
// the starting rating.
func (s *Service) GetProfile(ctx context.Context, userID string) (*domain.RatingProfile, error) {
	const stmt = `
SELECT rating, rank_label, matches_played, wins
FROM rating_profiles
WHERE user_id = $1;`

	p := domain.RatingProfile{UserID: userID}
	err := s.db.QueryRow(ctx, stmt, userID).Scan(&p.Rating, &p.RankLabel, &p.MatchesPlayed, &p.Wins)
	if stderrors.Is(err, pgx.ErrNoRows) {
		p.Rating = domain.DefaultRating
		p.RankLabel = RankLabel(p.Rating)
		return &p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}

	return &p, nil
}

type ApplyRequest struct {
	UserID string
	Won    bool
	Delta  int
}

// Apply records a match outcome on the profile: new rating, derived label,
// match and win counters. The write is a single upsert so a profile can
// never end up with an updated rating but a stale match count.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (*domain.RatingProfile, error) {
	cur, err := s.GetProfile(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	newRating := cur.Rating + req.Delta
	label := RankLabel(newRating)
	winInc := 0
	if req.Won {
		winInc = 1
	}

	const stmt = `
INSERT INTO rating_profiles (user_id, rating, rank_label, matches_played, wins, update_time)
VALUES ($1, $2, $3, 1, $4, now())
ON CONFLICT (user_id) DO UPDATE SET
	rating = EXCLUDED.rating,
	rank_label = EXCLUDED.rank_label,
	matches_played = rating_profiles.matches_played + 1,
	wins = rating_profiles.wins + $4,
	update_time = now();`

	if _, err := s.db.Exec(ctx, stmt, req.UserID, newRating, label, winInc); err != nil {
		return nil, fmt.Errorf("apply rating %s: %w", req.UserID, err)
	}

	applied := &domain.RatingProfile{
		UserID:        req.UserID,
		Rating:        newRating,
		RankLabel:     label,
		MatchesPlayed: cur.MatchesPlayed + 1,
		Wins:          cur.Wins + winInc,
	}

	s.eb.Publish(ctx, domain.EventRatingApplied{
		UserID:    req.UserID,
		Delta:     req.Delta,
		NewRating: newRating,
		RankLabel: label,
	})

	return applied, nil
}

type ComputeAndApplyRequest struct {
	UserID       string
	FinishRank   int
	TotalPlayers int
	Won          bool
}

// ComputeAndApply derives the delta for a finish position and records it.
func (s *Service) ComputeAndApply(ctx context.Context, req ComputeAndApplyRequest) (*domain.RatingProfile, error) {
	cur, err := s.GetProfile(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	delta, err := ComputeDelta(cur.Rating, req.FinishRank, req.TotalPlayers)
	if err != nil {
		return nil, err
	}

	return s.Apply(ctx, ApplyRequest{UserID: req.UserID, Won: req.Won, Delta: delta})
}

// ApplyMatch updates every participant's profile once after a concluded
// match. The winner latch upstream guarantees this runs once per round.
func (s *Service) ApplyMatch(ctx context.Context, ss domain.Session) error {
	standings := finalStandings(&ss)
	if len(standings) < 2 {
		// A forfeit can conclude a session that no longer has two ranked
		// members; there is no meaningful ranking to rate.
		return nil
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrentApplies)

	for i, m := range standings {
		rank := i + 1
		m := m
		eg.Go(func() error {
			_, err := s.ComputeAndApply(ctx, ComputeAndApplyRequest{
				UserID:       m.UserID,
				FinishRank:   rank,
				TotalPlayers: len(standings),
				Won:          m.UserID == ss.WinnerID,
			})
			if err != nil {
				return fmt.Errorf("rate %s: %w", m.UserID, err)
			}
			return nil
		})
	}

	return eg.Wait()
}

// finalStandings orders all players for post-match rating: the declared
// winner first, then remaining active players in rank order, then members
// who resigned or departed, by the same score ordering.
func finalStandings(ss *domain.Session) []*domain.Member {
	ranked := domain.RankPlayers(ss.Players)

	var terminal []*domain.Member
	for _, m := range ss.Players {
		if m.Status.Terminal() {
			terminal = append(terminal, m)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		if terminal[i].Score != terminal[j].Score {
			return terminal[i].Score > terminal[j].Score
		}
		return terminal[i].UserID < terminal[j].UserID
	})

	standings := append(ranked, terminal...)

	// The latched winner outranks everyone regardless of raw score, e.g. a
	// forfeit win against a leader who resigned.
	for i, m := range standings {
		if m.UserID == ss.WinnerID && i > 0 {
			copy(standings[1:i+1], standings[:i])
			standings[0] = m
			break
		}
	}

	return standings
}
