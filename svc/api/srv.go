package api

import (
	"bettergist/cfg"
	"bettergist/svc/lim"
	"bettergist/svc/svc"
	"bettergist/svc/util"
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

type Server struct {
	router     *chi.Mux
	cfg        *cfg.Cfg
	store      Pinger
	rdb        Pinger
	httpServer *http.Server
}

// NewServer builds the router. rdb may be nil when Redis is not configured.
func NewServer(c *cfg.Cfg, s *svc.Snippets, rl *lim.ReadLimiter, store Pinger, rdb Pinger) *Server {
	r := chi.NewRouter()
	mw := NewMw(rl, c)
	srv := &Server{router: r, cfg: c, store: store, rdb: rdb}
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", srv.Health)
		r.Get("/ready", srv.Ready)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	if !c.IsProduction() {
		r.Mount("/debug", middleware.Profiler())
	}

	view := NewView(s, c)
	hdl := NewHdl(s, c)
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		if c.TrustProxyHeaders {
			r.Use(middleware.RealIP)
		}
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.AnomalyDetection)

		r.Route("/api", func(r chi.Router) {
			r.Use(mw.CORS)
			r.Use(mw.JSONContentType)
			r.Post("/snippets", hdl.CreateSnippet)
			r.With(mw.ReadLimit).Get("/snippets/{id}", hdl.GetSnippet)
			r.With(mw.ReadLimit).Get("/challenge", hdl.GetChallenge)
			r.With(mw.ReadLimit).Get("/stats", hdl.GetStats)
			r.NotFound(func(w http.ResponseWriter, r *http.Request) {
				writeErr(w, errNoRoute, util.GetRequestID(r.Context()))
			})
		})
		r.Group(func(r chi.Router) {
			r.Use(mw.ReadLimit)
			r.Get("/", view.Index)
			r.Get("/snippet/{id}", view.Snippet)
			r.Get("/{id}", view.Snippet)
		})
	})
	r.NotFound(mw.Recoverer(mw.RequestID(http.HandlerFunc(view.NotFound))).ServeHTTP)
	srv.httpServer = &http.Server{
		Addr:           ":" + c.Port,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 256 * 1024,
	}
	return srv
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Str("base_url", s.cfg.BaseURL).Msg("starting server")
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
