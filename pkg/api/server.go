package api

import (
	"log/slog"
	"net/http"
	"time"
)

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr          string
	Handlers      *Handlers
	Authenticator *Authenticator
	Logger        *slog.Logger
	// GlobalRPS and GlobalBurst bound per-IP request rates. Zero
	// values fall back to defaults.
	GlobalRPS   int
	GlobalBurst int
}

// NewServer assembles the mux and middleware chain into an http.Server.
func NewServer(cfg ServerConfig) *http.Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.GlobalRPS <= 0 {
		cfg.GlobalRPS = 50
	}
	if cfg.GlobalBurst <= 0 {
		cfg.GlobalBurst = 100
	}

	mux := http.NewServeMux()
	cfg.Handlers.Register(mux)

	var handler http.Handler = mux
	if cfg.Authenticator != nil {
		handler = cfg.Authenticator.Middleware(handler)
	}
	handler = NewGlobalRateLimiter(cfg.GlobalRPS, cfg.GlobalBurst).Middleware(handler)
	handler = Logging(cfg.Logger)(handler)
	handler = RequestID(handler)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
