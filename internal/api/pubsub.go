package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/arena/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	WinnerNotice struct {
		SessionCode string `json:"session_code"`
		WinnerID    string `json:"winner_id"`
		Forfeit     bool   `json:"forfeit"`
	}

	ProjectionNotice struct {
		SessionCode string `json:"session_code"`
		LeadUserID  string `json:"lead_user_id"`
		ItemIndex   int    `json:"item_index"`
	}

	RatingNotice struct {
		UserID    string `json:"user_id"`
		Delta     int    `json:"delta"`
		NewRating int    `json:"new_rating"`
		RankLabel string `json:"rank_label"`
	}
)

// publishWinnerDeclared fans the outcome out to every member of the
// concluded session, players and spectators alike.
func (a *API) publishWinnerDeclared(ctx context.Context, e domain.EventWinnerDeclared) error {
	data := WinnerNotice{
		SessionCode: e.Session.Code,
		WinnerID:    e.WinnerID,
		Forfeit:     e.Forfeit,
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for userID := range e.Session.Players {
		userID := userID
		eg.Go(func() error {
			return a.publishNotification(ctx, userID, e.Name(), data)
		})
	}
	for userID := range e.Session.Spectators {
		userID := userID
		eg.Go(func() error {
			return a.publishNotification(ctx, userID, e.Name(), data)
		})
	}

	return eg.Wait()
}

// publishProjectionUpdated pushes the refreshed spectator view to the
// session channel; spectator clients subscribe by code, not by user.
func (a *API) publishProjectionUpdated(ctx context.Context, e domain.EventProjectionUpdated) error {
	data := ProjectionNotice{
		SessionCode: e.SessionCode,
		LeadUserID:  e.LeadUserID,
		ItemIndex:   e.ItemIndex,
	}

	n := Notification{Event: e.Name(), Data: data}
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", e.Name(), err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:session:%s", a.prefix, e.SessionCode), b).Err()
}

func (a *API) publishRatingApplied(ctx context.Context, e domain.EventRatingApplied) error {
	return a.publishNotification(ctx, e.UserID, e.Name(), RatingNotice{
		UserID:    e.UserID,
		Delta:     e.Delta,
		NewRating: e.NewRating,
		RankLabel: e.RankLabel,
	})
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%s", a.prefix, user), b).Err()
}
