package server

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/pickletv/internal/auth"
	"github.com/dukerupert/pickletv/internal/config"
	"github.com/dukerupert/pickletv/internal/content"
	"github.com/dukerupert/pickletv/internal/email"
	"github.com/dukerupert/pickletv/internal/handler"
	"github.com/dukerupert/pickletv/internal/middleware"
	"github.com/dukerupert/pickletv/internal/shopify"
	"github.com/dukerupert/pickletv/internal/store"
	ws "github.com/dukerupert/pickletv/internal/websocket"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	streamLimit   = 30
	webhookLimit  = 60
	perIPInterval = time.Minute
)

type Server struct {
	cfg         *config.Config
	authH       *handler.AuthHandler
	contentH    *handler.ContentHandler
	shopifyH    *handler.ShopifyHandler
	infoH       *handler.InfoHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

// New wires stores, services, and handlers. authOpts are passed through to
// the auth service.
func New(cfg *config.Config, db *sql.DB, sender email.Sender, assets content.Store, logger *slog.Logger, authOpts ...auth.Option) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))
	limiter := middleware.NewRateLimiter()

	userStore := store.NewUserStore(db)
	magicLinkStore := store.NewMagicLinkStore(db)

	authCfg := auth.Config{
		BaseURL:    cfg.MagicLink.BaseURL,
		Expiry:     cfg.MagicLink.Expiry,
		Lookback:   cfg.MagicLink.StatusLookback,
		EmailLimit: cfg.RateLimit.PerEmail,
		IPLimit:    cfg.RateLimit.PerIP,
		Window:     cfg.RateLimit.Window,
	}
	opts := append([]auth.Option{auth.WithStatusListener(hub.Notify)}, authOpts...)
	authSvc := auth.NewService(magicLinkStore, limiter, sender, authCfg, logger.With("component", "auth"), opts...)

	streamer := ws.NewStreamer(hub, authSvc.Status, cfg.MagicLink.PollInterval, cfg.MagicLink.Expiry)
	shopifySvc := shopify.NewService(userStore, cfg.Shopify.WebhookSecret, logger.With("component", "shopify"))

	return &Server{
		cfg:         cfg,
		authH:       handler.NewAuthHandler(authSvc, streamer, logger.With("component", "auth_handler")),
		contentH:    handler.NewContentHandler(assets, logger.With("component", "content")),
		shopifyH:    handler.NewShopifyHandler(shopifySvc, logger.With("component", "shopify_handler")),
		infoH:       handler.NewInfoHandler(db, cfg.AppName, cfg.Environment, cfg.PrivacyContact, logger.With("component", "info")),
		rateLimiter: limiter,
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.ClientIP(s.cfg.TrustProxyHeaders))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(s.logger.With("component", "http")))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.infoH.Health)
	r.Get("/readiness", s.infoH.Readiness)
	r.Get("/privacy", s.infoH.Privacy)
	r.Post("/user", s.infoH.User)
	r.Handle("/metrics", promhttp.Handler())

	streamKey := func(r *http.Request) string {
		return "stream:" + middleware.RealIP(r)
	}
	r.Route("/auth", func(r chi.Router) {
		r.Post("/magic-link", s.authH.MagicLink)
		r.Get("/verify", s.authH.Verify)
		r.Get("/status", s.authH.Status)
		r.With(middleware.RateLimit(s.rateLimiter, streamKey, streamLimit, perIPInterval)).
			Get("/status/stream", s.authH.StatusStream)
		r.Post("/logout", s.authH.Logout)
	})

	r.Get("/content", s.contentH.List)
	r.Get("/content/{filename}", s.contentH.Download)

	r.With(httprate.LimitByIP(webhookLimit, perIPInterval)).
		Post("/shopify/webhooks/customers/create", s.shopifyH.CustomerCreate)

	return r
}
