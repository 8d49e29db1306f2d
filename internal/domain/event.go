package domain

const (
	EventNameMemberAdmitted    = "member.admitted"
	EventNameMemberRemoved     = "member.removed"
	EventNameMatchStarted      = "match.started"
	EventNameScoreUpdated      = "score.updated"
	EventNameWinnerDeclared    = "winner.declared"
	EventNameSessionReset      = "session.reset"
	EventNameProjectionUpdated = "projection.updated"
	EventNameRatingApplied     = "rating.applied"
)

type EventMemberAdmitted struct {
	Session Session
	UserID  string
	Role    Role
}

func (EventMemberAdmitted) Name() string { return EventNameMemberAdmitted }

type EventMemberRemoved struct {
	Session   Session
	UserID    string
	Voluntary bool
}

func (EventMemberRemoved) Name() string { return EventNameMemberRemoved }

type EventMatchStarted struct {
	Session Session
}

func (EventMatchStarted) Name() string { return EventNameMatchStarted }

type EventScoreUpdated struct {
	Session Session
	UserID  string
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventWinnerDeclared struct {
	Session  Session
	WinnerID string
	// Forfeit is set when the win was credited by attrition rather than by
	// finishing the round.
	Forfeit bool
}

func (EventWinnerDeclared) Name() string { return EventNameWinnerDeclared }

type EventSessionReset struct {
	Session Session
}

func (EventSessionReset) Name() string { return EventNameSessionReset }

type EventProjectionUpdated struct {
	SessionCode string
	LeadUserID  string
	ItemIndex   int
}

func (EventProjectionUpdated) Name() string { return EventNameProjectionUpdated }

type EventRatingApplied struct {
	UserID    string
	Delta     int
	NewRating int
	RankLabel string
}

func (EventRatingApplied) Name() string { return EventNameRatingApplied }
