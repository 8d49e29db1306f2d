package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/errors"
	"github.com/victornm/arena/internal/event"
	"github.com/victornm/arena/internal/membership"
	"github.com/victornm/arena/internal/progress"
	"github.com/victornm/arena/internal/rating"
	"github.com/victornm/arena/internal/session"
	"github.com/victornm/arena/internal/spectate"
)

type Config struct {
	Router   *gin.Engine
	EventBus *event.Bus

	Session    *session.Service
	Membership *membership.Service
	Progress   *progress.Service
	Spectate   *spectate.Service
	Rating     *rating.Service

	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// API exposes the engine operations over HTTP. Expected business conditions
// (room full, not host, already started) come back as typed results with
// their mapped status codes, not as opaque 500s.
type API struct {
	ses *session.Service
	mem *membership.Service
	prg *progress.Service
	spc *spectate.Service
	rat *rating.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		ses:    c.Session,
		mem:    c.Membership,
		prg:    c.Progress,
		spc:    c.Spectate,
		rat:    c.Rating,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	r := c.Router
	r.POST("/sessions", a.createSession)
	r.GET("/sessions/:code", a.getSession)
	r.POST("/sessions/:code/members", a.admitMember)
	r.DELETE("/sessions/:code/members/:user", a.removeMember)
	r.POST("/sessions/:code/start", a.startMatch)
	r.POST("/sessions/:code/reset", a.resetSession)
	r.POST("/sessions/:code/answers", a.recordAnswer)
	r.POST("/sessions/:code/submissions", a.recordSubmission)
	r.POST("/sessions/:code/code", a.mirrorCode)
	r.POST("/sessions/:code/flags", a.flag)
	r.GET("/sessions/:code/rank", a.getRank)
	r.GET("/sessions/:code/winner", a.getWinner)
	r.POST("/sessions/:code/winner", a.checkWinner)
	r.GET("/sessions/:code/projection", a.getProjection)
	r.GET("/ratings/:user", a.getRating)
	r.POST("/ratings/:user/apply", a.applyRating)

	c.EventBus.Subscribe(domain.EventNameWinnerDeclared, func(ctx context.Context, e event.Event) error {
		return a.publishWinnerDeclared(ctx, e.(domain.EventWinnerDeclared))
	})
	c.EventBus.Subscribe(domain.EventNameProjectionUpdated, func(ctx context.Context, e event.Event) error {
		return a.publishProjectionUpdated(ctx, e.(domain.EventProjectionUpdated))
	})
	c.EventBus.Subscribe(domain.EventNameRatingApplied, func(ctx context.Context, e event.Event) error {
		return a.publishRatingApplied(ctx, e.(domain.EventRatingApplied))
	})

	return a
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), gin.H{
		"code":    e.Code,
		"message": e.Message,
	})
}

type createSessionRequest struct {
	HostID      string `json:"host_id" binding:"required"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	MaxPlayers  int    `json:"max_players" binding:"required"`
}

func (a *API) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ss, err := a.ses.Create(c.Request.Context(), session.CreateRequest{
		HostID:      req.HostID,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
		MaxPlayers:  req.MaxPlayers,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": ss})
}

func (a *API) getSession(c *gin.Context) {
	ss, err := a.ses.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": ss})
}

type admitMemberRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Role        string `json:"role" binding:"required"`
}

func (a *API) admitMember(c *gin.Context) {
	var req admitMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	resp, err := a.mem.Admit(c.Request.Context(), membership.AdmitRequest{
		Code:        c.Param("code"),
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
		Role:        domain.Role(req.Role),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"admitted": resp.Admitted,
		"reason":   resp.Reason,
	})
}

func (a *API) removeMember(c *gin.Context) {
	voluntary := c.Query("voluntary") == "true"

	resp, err := a.mem.Remove(c.Request.Context(), membership.RemoveRequest{
		Code:      c.Param("code"),
		UserID:    c.Param("user"),
		Voluntary: voluntary,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deleted":           resp.Session == nil,
		"forfeit_winner_id": resp.ForfeitWinnerID,
	})
}

type startMatchRequest struct {
	CallerID  string   `json:"caller_id" binding:"required"`
	MatchKind string   `json:"match_kind" binding:"required"`
	ItemIDs   []string `json:"item_ids" binding:"required"`
}

func (a *API) startMatch(c *gin.Context) {
	var req startMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ss, err := a.ses.Start(c.Request.Context(), session.StartRequest{
		Code:      c.Param("code"),
		CallerID:  req.CallerID,
		MatchKind: domain.MatchKind(req.MatchKind),
		ItemIDs:   req.ItemIDs,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": ss})
}

type resetSessionRequest struct {
	CallerID string `json:"caller_id" binding:"required"`
}

func (a *API) resetSession(c *gin.Context) {
	var req resetSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ss, err := a.ses.Reset(c.Request.Context(), session.ResetRequest{
		Code:     c.Param("code"),
		CallerID: req.CallerID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": ss})
}

type recordAnswerRequest struct {
	UserID         string `json:"user_id" binding:"required"`
	ItemID         string `json:"item_id" binding:"required"`
	SelectedOption *int   `json:"selected_option" binding:"required"`
	Correct        bool   `json:"correct"`
}

func (a *API) recordAnswer(c *gin.Context) {
	var req recordAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	resp, err := a.prg.RecordAnswer(c.Request.Context(), progress.RecordAnswerRequest{
		Code:           c.Param("code"),
		UserID:         req.UserID,
		ItemID:         req.ItemID,
		SelectedOption: *req.SelectedOption,
		Correct:        req.Correct,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"score": resp.Score})
}

type recordSubmissionRequest struct {
	UserID         string `json:"user_id" binding:"required"`
	Source         string `json:"source" binding:"required"`
	Stdin          string `json:"stdin"`
	ExpectedOutput string `json:"expected_output"`
}

func (a *API) recordSubmission(c *gin.Context) {
	var req recordSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	resp, err := a.prg.RecordSubmission(c.Request.Context(), progress.RecordSubmissionRequest{
		Code:           c.Param("code"),
		UserID:         req.UserID,
		Source:         req.Source,
		Stdin:          req.Stdin,
		ExpectedOutput: req.ExpectedOutput,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"classification": resp.Result.Classification,
		"stdout":         resp.Result.Stdout,
		"stderr":         resp.Result.Stderr,
		"time_ms":        resp.Result.TimeMS,
		"memory_kb":      resp.Result.MemoryKB,
		"won":            resp.Won,
	})
}

type mirrorCodeRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Source string `json:"source"`
}

func (a *API) mirrorCode(c *gin.Context) {
	var req mirrorCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if _, err := a.prg.MirrorCode(c.Request.Context(), progress.MirrorCodeRequest{
		Code:   c.Param("code"),
		UserID: req.UserID,
		Source: req.Source,
	}); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type flagRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Kind   string `json:"kind" binding:"required"`
}

func (a *API) flag(c *gin.Context) {
	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if err := a.prg.Flag(c.Request.Context(), progress.FlagRequest{
		Code:   c.Param("code"),
		UserID: req.UserID,
		Kind:   req.Kind,
	}); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) getRank(c *gin.Context) {
	entries, err := a.prg.Rank(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rank": entries})
}

func (a *API) getWinner(c *gin.Context) {
	w, err := a.prg.GetWinner(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"declared": w.Declared, "winner_id": w.UserID})
}

func (a *API) checkWinner(c *gin.Context) {
	w, err := a.prg.CheckWinner(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"declared": w.Declared, "winner_id": w.UserID})
}

func (a *API) getProjection(c *gin.Context) {
	p, err := a.spc.Get(c.Request.Context(), spectate.GetRequest{Code: c.Param("code")})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"projection": p})
}

func (a *API) getRating(c *gin.Context) {
	p, err := a.rat.GetProfile(c.Request.Context(), c.Param("user"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"profile": p})
}

type applyRatingRequest struct {
	FinishRank   int  `json:"finish_rank" binding:"required"`
	TotalPlayers int  `json:"total_players" binding:"required"`
	Won          bool `json:"won"`
}

func (a *API) applyRating(c *gin.Context) {
	var req applyRatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	p, err := a.rat.ComputeAndApply(c.Request.Context(), rating.ComputeAndApplyRequest{
		UserID:       c.Param("user"),
		FinishRank:   req.FinishRank,
		TotalPlayers: req.TotalPlayers,
		Won:          req.Won,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"profile": p})
}
