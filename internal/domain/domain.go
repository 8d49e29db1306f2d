package domain

import (
	"sort"
)

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateActive    SessionState = "active"
	StateConcluded SessionState = "concluded"
)

// MatchKind selects how a round is won.
type MatchKind string

const (
	// KindSkillCheck is won by the first accepted code submission.
	KindSkillCheck MatchKind = "skill-check"
	// KindKnowledgeRace is won by answering items correctly fastest.
	KindKnowledgeRace MatchKind = "knowledge-race"
)

// Role of a member within a session. A user holds at most one role at a time.
type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// MemberStatus tracks a player's participation in the current round.
// Resigned and departed are terminal for the round: a member never
// transitions back to active until the session is reset.
type MemberStatus string

const (
	StatusActive   MemberStatus = "active"
	StatusResigned MemberStatus = "resigned"
	StatusDeparted MemberStatus = "departed"
)

func (s MemberStatus) Terminal() bool {
	return s == StatusResigned || s == StatusDeparted
}

// Session is one room/match instance, stored as a single document so that
// membership and score updates can be expressed as one atomic read-modify-write.
type Session struct {
	Code       string       `json:"code"`
	State      SessionState `json:"state"`
	HostID     string       `json:"host_id"`
	MaxPlayers int          `json:"max_players"`
	CreatedAt  int64        `json:"created_at"`

	MatchKind    MatchKind  `json:"match_kind,omitempty"`
	ItemIDs      []string   `json:"item_ids,omitempty"`
	WinCondition int        `json:"win_condition,omitempty"`
	StartAnchor  ServerTime `json:"start_anchor"`

	// Winner is latched: once declared for a round it is final until reset.
	WinnerID       string `json:"winner_id,omitempty"`
	WinnerDeclared bool   `json:"winner_declared"`

	Players    map[string]*Member    `json:"players,omitempty"`
	Spectators map[string]*Spectator `json:"spectators,omitempty"`
}

// Member is a user attached to a session as a player.
type Member struct {
	UserID      string       `json:"user_id"`
	DisplayName string       `json:"display_name"`
	AvatarURL   string       `json:"avatar_url,omitempty"`
	Status      MemberStatus `json:"status"`

	Score       int        `json:"score"`
	LastScoreAt ServerTime `json:"last_score_at"`
	ItemIndex   int        `json:"item_index"`

	// Code is the live source mirror for skill-check rounds.
	Code    string                   `json:"code,omitempty"`
	Answers map[string]*AnswerRecord `json:"answers,omitempty"`
	Flags   []string                 `json:"flags,omitempty"`
}

// Spectator observes a session without competing.
type Spectator struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	JoinedAt    int64  `json:"joined_at"`
}

// NoAnswer is the sentinel option for an item the member let time out.
const NoAnswer = -1

// AnswerRecord is written at most once per (member, item).
type AnswerRecord struct {
	ItemID         string     `json:"item_id"`
	SelectedOption int        `json:"selected_option"`
	Correct        bool       `json:"correct"`
	AnsweredAt     ServerTime `json:"answered_at"`
}

// RatingProfile is the per-user skill rating, read before and written after
// each concluded match.
type RatingProfile struct {
	UserID        string
	Rating        int
	RankLabel     string
	MatchesPlayed int
	Wins          int
}

// DefaultRating is assumed for users without a profile.
const DefaultRating = 1200

// ActivePlayers returns the members still competing in the current round.
func (s *Session) ActivePlayers() []*Member {
	var out []*Member
	for _, m := range s.Players {
		if m.Status == StatusActive {
			out = append(out, m)
		}
	}
	return out
}

// Player returns the player record for a user, nil if absent.
func (s *Session) Player(userID string) *Member {
	if s.Players == nil {
		return nil
	}
	return s.Players[userID]
}

// Finished reports whether the member has run out of items.
func (m *Member) Finished(totalItems int) bool {
	return totalItems > 0 && m.ItemIndex >= totalItems
}

// Less orders two server-resolved instants for tie-breaking: a resolved
// instant always sorts before an unresolved one, earlier instants first.
func scoreTimeLess(a, b ServerTime) bool {
	switch {
	case a.IsResolved() && b.IsResolved():
		return a.At().Before(b.At())
	case a.IsResolved():
		return true
	default:
		return false
	}
}

// RankPlayers orders the active players of a session: score descending, then
// earlier LastScoreAt (a member who reached the score first wins the tie),
// then user ID for a stable total order. The result is a pure function of the
// stored fields, so every observer computing it from the same snapshot gets
// the same order.
func RankPlayers(players map[string]*Member) []*Member {
	var ranked []*Member
	for _, m := range players {
		if m.Status == StatusActive {
			ranked = append(ranked, m)
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.LastScoreAt.Equal(b.LastScoreAt) {
			return scoreTimeLess(a.LastScoreAt, b.LastScoreAt)
		}
		return a.UserID < b.UserID
	})

	return ranked
}

// LeadPlayer selects the player a spectator view should mirror. Ordering is
// the rank order with item index (further progressed first) as an extra
// tie-break for display; it never feeds back into winner determination.
func LeadPlayer(players map[string]*Member) *Member {
	var lead *Member
	for _, m := range players {
		if m.Status != StatusActive {
			continue
		}
		if lead == nil || leadLess(m, lead) {
			lead = m
		}
	}
	return lead
}

func leadLess(a, b *Member) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.LastScoreAt.Equal(b.LastScoreAt) {
		return scoreTimeLess(a.LastScoreAt, b.LastScoreAt)
	}
	if a.ItemIndex != b.ItemIndex {
		return a.ItemIndex > b.ItemIndex
	}
	return a.UserID < b.UserID
}
