package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/arena/internal/api"
	"github.com/victornm/arena/internal/event"
	"github.com/victornm/arena/internal/exec"
	"github.com/victornm/arena/internal/membership"
	"github.com/victornm/arena/internal/progress"
	"github.com/victornm/arena/internal/rating"
	"github.com/victornm/arena/internal/session"
	"github.com/victornm/arena/internal/spectate"
	"github.com/victornm/arena/internal/store"
	"github.com/victornm/arena/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Store struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Rating struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Judge0 struct {
		BaseURL    string
		APIKey     string
		APIHost    string
		LanguageID int
	}

	Match struct {
		ItemDurationMS int
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			store  redis.UniversalClient
			pubsub redis.UniversalClient
		}

		store    store.Store
		postgres *pgxpool.Pool
		runner   exec.Runner
	}

	service struct {
		session    *session.Service
		membership *membership.Service
		progress   *progress.Service
		spectate   *spectate.Service
		rating     *rating.Service
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	s.infra.store = store.NewClient(store.Config{
		Redis:  s.infra.redis.store,
		Prefix: s.c.Redis.Store.Prefix,
	})

	s.infra.runner = exec.NewJudge0(exec.Judge0Config{
		BaseURL:    s.c.Judge0.BaseURL,
		APIKey:     s.c.Judge0.APIKey,
		APIHost:    s.c.Judge0.APIHost,
		LanguageID: s.c.Judge0.LanguageID,
	})

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.store, err = connect(s.c.Redis.Store.Addrs, s.c.Redis.Store.Pass)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := s.c.Postgres.Rating
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", p.User, p.Pass, p.Addr, p.Name))
	if err != nil {
		return fmt.Errorf("rating: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return fmt.Errorf("rating: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("rating: %w", err)
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() {
	s.service.session = session.NewService(session.Config{
		Store:    s.infra.store,
		EventBus: s.eb,
	})

	s.service.membership = membership.NewService(membership.Config{
		Store:    s.infra.store,
		EventBus: s.eb,
	})

	s.service.progress = progress.NewService(progress.Config{
		Store:    s.infra.store,
		EventBus: s.eb,
		Runner:   s.infra.runner,
	})

	s.service.spectate = spectate.NewService(spectate.Config{
		EventBus:     s.eb,
		Store:        s.infra.store,
		Redis:        s.infra.redis.store,
		Prefix:       s.c.Redis.Store.Prefix,
		ItemDuration: time.Duration(s.c.Match.ItemDurationMS) * time.Millisecond,
	})

	s.service.rating = rating.NewService(rating.Config{
		DB:       s.infra.postgres,
		EventBus: s.eb,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Session:      s.service.session,
		Membership:   s.service.membership,
		Progress:     s.service.progress,
		Spectate:     s.service.spectate,
		Rating:       s.service.rating,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.infra.postgres.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}
