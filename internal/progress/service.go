// Package progress tracks in-match state: answer records, live rank order,
// code submissions and the winner latch.
package progress

import (
	"context"
	"strings"
	"time"

	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/errors"
	"github.com/victornm/arena/internal/event"
	"github.com/victornm/arena/internal/exec"
	"github.com/victornm/arena/internal/store"
	"github.com/victornm/arena/internal/telemetry"
)

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	Runner   exec.Runner
}

type Service struct {
	store  store.Store
	eb     *event.Bus
	runner exec.Runner
}

func NewService(c Config) *Service {
	return &Service{
		store:  c.Store,
		eb:     c.EventBus,
		runner: c.Runner,
	}
}

type RecordAnswerRequest struct {
	Code   string
	UserID string
	ItemID string
	// SelectedOption is the chosen option index, or domain.NoAnswer when the
	// item timed out unanswered.
	SelectedOption int
	// Correct is judged by the caller against the item catalog; the catalog
	// itself is outside the engine.
	Correct bool
}

type RecordAnswerResponse struct {
	Session *domain.Session
	Score   int
}

// RecordAnswer writes the answer record for (user, item) at most once.
// Retried network calls hit the duplicate guard and change nothing. A correct
// answer increments the score and sets the tie-break instant in the same
// atomic update, so no observer ever sees the score bump without its ordering
// key. A declared winner, if the answer produced one, is latched in the same
// update too.
func (s *Service) RecordAnswer(ctx context.Context, req RecordAnswerRequest) (*RecordAnswerResponse, error) {
	var (
		updated *domain.Session
		score   int
		winner  *winnerResult
	)
	_, err := s.store.AtomicUpdate(ctx, domain.SessionPath(req.Code), func(cur []byte, now time.Time) ([]byte, error) {
		winner = nil

		ss, err := decodeExisting(cur, req.Code)
		if err != nil {
			return nil, err
		}

		m, err := activeMember(ss, req.UserID)
		if err != nil {
			return nil, err
		}
		if !containsItem(ss.ItemIDs, req.ItemID) {
			return nil, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("item %s is not part of this round", req.ItemID))
		}
		if _, dup := m.Answers[req.ItemID]; dup {
			return nil, errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("answer already recorded: user=%s item=%s", req.UserID, req.ItemID))
		}

		if m.Answers == nil {
			m.Answers = make(map[string]*domain.AnswerRecord)
		}
		m.Answers[req.ItemID] = &domain.AnswerRecord{
			ItemID:         req.ItemID,
			SelectedOption: req.SelectedOption,
			Correct:        req.Correct,
			AnsweredAt:     domain.ResolvedAt(now),
		}
		m.ItemIndex++
		if req.Correct {
			m.Score++
			m.LastScoreAt = domain.ResolvedAt(now)
		}

		winner = declareRaceWinner(ss)

		updated = ss
		score = m.Score
		return domain.EncodeSession(ss)
	})
	if err != nil {
		return nil, err
	}

	telemetry.AnswersRecorded.Inc()
	s.eb.Publish(ctx, domain.EventScoreUpdated{Session: *updated, UserID: req.UserID})
	s.publishWinner(ctx, updated, winner)

	return &RecordAnswerResponse{Session: updated, Score: score}, nil
}

type RecordSubmissionRequest struct {
	Code   string
	UserID string
	Source string
	Stdin  string
	// ExpectedOutput is what an accepted run must print, compared with
	// surrounding whitespace trimmed.
	ExpectedOutput string
}

type RecordSubmissionResponse struct {
	Result *exec.Result
	// Won is set when this submission was the one that decided the match.
	Won bool
}

// RecordSubmission mirrors the source to the member and runs it through the
// execution collaborator. The first accepted submission with matching output
// wins a skill-check round. Collaborator failures surface as Unavailable,
// never as a wrong answer.
func (s *Service) RecordSubmission(ctx context.Context, req RecordSubmissionRequest) (*RecordSubmissionResponse, error) {
	if _, err := s.MirrorCode(ctx, MirrorCodeRequest{Code: req.Code, UserID: req.UserID, Source: req.Source}); err != nil {
		return nil, err
	}

	res, err := s.runner.Run(ctx, exec.Submission{Source: req.Source, Stdin: req.Stdin})
	if err != nil {
		return nil, err
	}

	accepted := res.Classification == exec.Accepted &&
		strings.TrimSpace(res.Stdout) == strings.TrimSpace(req.ExpectedOutput)
	if res.Classification == exec.Accepted && !accepted {
		res.Classification = exec.WrongOutput
	}
	if !accepted {
		return &RecordSubmissionResponse{Result: res}, nil
	}

	var (
		updated *domain.Session
		winner  *winnerResult
	)
	_, err = s.store.AtomicUpdate(ctx, domain.SessionPath(req.Code), func(cur []byte, now time.Time) ([]byte, error) {
		winner = nil

		ss, err := decodeExisting(cur, req.Code)
		if err != nil {
			return nil, err
		}

		m, err := activeMember(ss, req.UserID)
		if err != nil {
			return nil, err
		}
		if ss.MatchKind != domain.KindSkillCheck {
			return nil, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("session %s is not a skill-check round", req.Code))
		}

		// First accepted submission takes the latch; a slower rival's
		// accepted run lands here after WinnerDeclared and changes nothing.
		if !ss.WinnerDeclared {
			m.Score++
			m.LastScoreAt = domain.ResolvedAt(now)
			ss.WinnerID = m.UserID
			ss.WinnerDeclared = true
			ss.State = domain.StateConcluded
			winner = &winnerResult{winnerID: m.UserID}
		}

		updated = ss
		return domain.EncodeSession(ss)
	})
	if err != nil {
		return nil, err
	}

	s.publishWinner(ctx, updated, winner)

	return &RecordSubmissionResponse{Result: res, Won: winner != nil}, nil
}

type MirrorCodeRequest struct {
	Code   string
	UserID string
	Source string
}

// MirrorCode updates the member's live source mirror for spectator views.
func (s *Service) MirrorCode(ctx context.Context, req MirrorCodeRequest) (*domain.Session, error) {
	var updated *domain.Session
	_, err := s.store.AtomicUpdate(ctx, domain.SessionPath(req.Code), func(cur []byte, _ time.Time) ([]byte, error) {
		ss, err := decodeExisting(cur, req.Code)
		if err != nil {
			return nil, err
		}

		m, err := activeMember(ss, req.UserID)
		if err != nil {
			return nil, err
		}
		m.Code = req.Source

		updated = ss
		return domain.EncodeSession(ss)
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

type FlagRequest struct {
	Code   string
	UserID string
	Kind   string
}

// Flag appends a suspicious-activity marker to the member, e.g. a detected
// paste into the editor.
func (s *Service) Flag(ctx context.Context, req FlagRequest) error {
	_, err := s.store.AtomicUpdate(ctx, domain.SessionPath(req.Code), func(cur []byte, _ time.Time) ([]byte, error) {
		ss, err := decodeExisting(cur, req.Code)
		if err != nil {
			return nil, err
		}

		m := ss.Player(req.UserID)
		if m == nil {
			return nil, errors.New(errors.CodeNotFound,
				errors.WithMessagef("player not found: session=%s user=%s", req.Code, req.UserID))
		}
		m.Flags = append(m.Flags, req.Kind)

		return domain.EncodeSession(ss)
	})
	return err
}

// RankEntry is one row of the live standings.
type RankEntry struct {
	Position    int
	UserID      string
	DisplayName string
	Score       int
	LastScoreAt domain.ServerTime
	ItemIndex   int
}

// Rank returns the active players ordered by score descending, earlier
// tie-break instant first. The order is a pure function of the snapshot:
// every observer computing it independently gets the same result.
func (s *Service) Rank(ctx context.Context, code string) ([]RankEntry, error) {
	b, err := s.store.Read(ctx, domain.SessionPath(code))
	if err != nil {
		return nil, err
	}
	ss, err := domain.DecodeSession(b)
	if err != nil {
		return nil, err
	}

	ranked := domain.RankPlayers(ss.Players)
	out := make([]RankEntry, 0, len(ranked))
	for i, m := range ranked {
		out = append(out, RankEntry{
			Position:    i + 1,
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			Score:       m.Score,
			LastScoreAt: m.LastScoreAt,
			ItemIndex:   m.ItemIndex,
		})
	}

	return out, nil
}

type Winner struct {
	Declared bool
	UserID   string
}

// CheckWinner re-evaluates the win condition against the latest snapshot and
// latches the result. Safe to call on every update: once a winner is declared
// for the round, the call is a no-op.
func (s *Service) CheckWinner(ctx context.Context, code string) (*Winner, error) {
	var (
		updated *domain.Session
		winner  *winnerResult
	)
	_, err := s.store.AtomicUpdate(ctx, domain.SessionPath(code), func(cur []byte, _ time.Time) ([]byte, error) {
		winner = nil

		ss, err := decodeExisting(cur, code)
		if err != nil {
			return nil, err
		}

		winner = declareRaceWinner(ss)
		updated = ss
		return domain.EncodeSession(ss)
	})
	if err != nil {
		return nil, err
	}

	s.publishWinner(ctx, updated, winner)

	return &Winner{Declared: updated.WinnerDeclared, UserID: updated.WinnerID}, nil
}

// GetWinner reads the declared winner, if any, without evaluating.
func (s *Service) GetWinner(ctx context.Context, code string) (*Winner, error) {
	b, err := s.store.Read(ctx, domain.SessionPath(code))
	if err != nil {
		return nil, err
	}
	ss, err := domain.DecodeSession(b)
	if err != nil {
		return nil, err
	}

	return &Winner{Declared: ss.WinnerDeclared, UserID: ss.WinnerID}, nil
}

type winnerResult struct {
	winnerID string
}

// declareRaceWinner applies the knowledge-race win condition to the
// in-transaction session value: the current leader wins once they exhausted
// the item set with at least one correct answer, or reached the win score.
// The latch makes re-evaluation on unrelated updates a no-op.
func declareRaceWinner(ss *domain.Session) *winnerResult {
	if ss.State != domain.StateActive || ss.WinnerDeclared || ss.MatchKind != domain.KindKnowledgeRace {
		return nil
	}

	ranked := domain.RankPlayers(ss.Players)
	if len(ranked) == 0 {
		return nil
	}

	lead := ranked[0]
	finished := lead.Finished(len(ss.ItemIDs)) && lead.Score > 0
	reachedTarget := ss.WinCondition > 0 && lead.Score >= ss.WinCondition
	if !finished && !reachedTarget {
		return nil
	}

	ss.WinnerID = lead.UserID
	ss.WinnerDeclared = true
	ss.State = domain.StateConcluded

	return &winnerResult{winnerID: lead.UserID}
}

func (s *Service) publishWinner(ctx context.Context, ss *domain.Session, w *winnerResult) {
	if w == nil {
		return
	}

	telemetry.WinnersDeclared.Inc()
	s.eb.Publish(ctx, domain.EventWinnerDeclared{
		Session:  *ss,
		WinnerID: w.winnerID,
	})
}

func activeMember(ss *domain.Session, userID string) (*domain.Member, error) {
	if ss.State != domain.StateActive {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session %s is %s, not active", ss.Code, ss.State))
	}

	m := ss.Player(userID)
	if m == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("player not found: session=%s user=%s", ss.Code, userID))
	}
	if m.Status.Terminal() {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("player %s already left the round", userID))
	}

	return m, nil
}

func containsItem(items []string, id string) bool {
	for _, it := range items {
		if it == id {
			return true
		}
	}
	return false
}

func decodeExisting(cur []byte, code string) (*domain.Session, error) {
	if cur == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", code))
	}
	return domain.DecodeSession(cur)
}
