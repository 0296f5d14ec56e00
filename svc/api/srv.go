package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"clipd/cfg"
	"clipd/metrics"
	"clipd/svc/db"
	"clipd/svc/lim"
	"clipd/svc/svc"
	"clipd/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

type Server struct {
	router     *chi.Mux
	cfg        *cfg.Cfg
	db         *db.SQLite
	rdb        *db.Redis
	httpServer *http.Server
}

func NewServer(c *cfg.Cfg, clipSvc *svc.Clip, userSvc *svc.User, l *lim.Limiter, sqlDB *db.SQLite, rdb *db.Redis) *Server {
	r := chi.NewRouter()
	mw := NewMw(l, c)
	s := &Server{
		router: r,
		cfg:    c,
		db:     sqlDB,
		rdb:    rdb,
		httpServer: &http.Server{
			Addr:           ":" + c.Port,
			Handler:        r,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 256 * 1024,
		},
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
			metrics.RequestDuration.
				WithLabelValues(req.Method, req.URL.Path, strconv.Itoa(status)).
				Observe(dur.Seconds())
		}))
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.CORS)
		r.Use(mw.JSONContentType)
		r.Use(mw.ErrorRate)
		// Preflight requests are answered by the CORS middleware; the
		// handler below is never reached.
		r.Options("/*", func(http.ResponseWriter, *http.Request) {})
		hdl := &Hdl{clip: clipSvc, user: userSvc, cfg: c}
		r.With(mw.RateLimitEndpoint("create_clip")).Post("/clip", hdl.CreateClip)
		r.With(mw.RateLimitEndpoint("get_clip")).Get("/clip", hdl.GetClip)
		r.With(mw.RateLimitEndpoint("user_clips")).Get("/user/clips", hdl.UserClips)
		r.With(mw.RateLimitEndpoint("create_user")).Post("/user", hdl.CreateUser)
		r.With(mw.RateLimitEndpoint("login")).Post("/login", hdl.Login)
		r.With(mw.RateLimitEndpoint("get_user")).Get("/user", hdl.GetUser)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
