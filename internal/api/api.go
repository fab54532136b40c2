// Package api provides the HTTP server for EvaluBot.
//
// It exposes the streamer and teaching chat endpoints, dashboard sessions,
// transcript and summary retrieval, and the Twilio WhatsApp webhook. Run wires
// the store, dialogue engines, summary aggregator and messaging channel.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/EvaluBot/internal/flow"
	"github.com/BTreeMap/EvaluBot/internal/genai"
	"github.com/BTreeMap/EvaluBot/internal/models"
	"github.com/BTreeMap/EvaluBot/internal/scheduler"
	"github.com/BTreeMap/EvaluBot/internal/store"
	"github.com/BTreeMap/EvaluBot/internal/summary"
	"github.com/BTreeMap/EvaluBot/internal/twiliowhatsapp"
	"github.com/BTreeMap/EvaluBot/internal/util"
	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	// DefaultServerAddress is the listen address when none is configured.
	DefaultServerAddress = ":8080"
	// ModeRandom assigns each new conversation a random allowed mode.
	ModeRandom = "random"

	shutdownTimeout = 30 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string
	JWTSecret      string
	TokenTTL       time.Duration
	RedisURL       string
	MongoURI       string
	MongoDatabase  string
	Mode           string
	SummaryCron    string
	WhatsApp       twiliowhatsapp.Sender
	WebhookChecker twiliowhatsapp.WebhookValidator
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithJWTSecret sets the HS256 secret for dashboard access tokens.
func WithJWTSecret(secret string) Option {
	return func(o *Opts) { o.JWTSecret = secret }
}

// WithTokenTTL sets the dashboard access token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TokenTTL = ttl }
}

// WithRedisURL stores conversation state in Redis instead of memory.
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.RedisURL = url }
}

// WithMongo stores summaries in MongoDB.
func WithMongo(uri, database string) Option {
	return func(o *Opts) {
		o.MongoURI = uri
		o.MongoDatabase = database
	}
}

// WithMode sets the mode assignment policy: a mode name or "random".
func WithMode(mode string) Option {
	return func(o *Opts) { o.Mode = mode }
}

// WithSummaryCron regenerates summaries of recently active subjects on a cron schedule.
func WithSummaryCron(expr string) Option {
	return func(o *Opts) { o.SummaryCron = expr }
}

// WithWhatsApp enables the Twilio webhook. checker may be nil.
func WithWhatsApp(sender twiliowhatsapp.Sender, checker twiliowhatsapp.WebhookValidator) Option {
	return func(o *Opts) {
		o.WhatsApp = sender
		o.WebhookChecker = checker
	}
}

// Server holds all dependencies for the API handlers.
type Server struct {
	st         store.Store
	streamer   *flow.Engine
	teaching   *flow.Engine
	summaries  *summary.Aggregator
	refresher  *summary.Refresher
	tokens     *tokenIssuer
	wa         twiliowhatsapp.Sender
	waChecker  twiliowhatsapp.WebhookValidator
	addr       string
	router     *mux.Router
	startedAt  time.Time
	jwtDefault bool
}

// NewServer creates a Server. summaries may be nil when no text-completion
// client is configured; summary generation then fails with 503.
func NewServer(st store.Store, streamer, teaching *flow.Engine, summaries *summary.Aggregator, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultServerAddress
	}
	secret := cfg.JWTSecret
	jwtDefault := false
	if secret == "" {
		// Tokens then only survive until restart.
		generated, err := util.GenerateSecureHex(32)
		if err != nil {
			slog.Error("Server: failed to generate JWT secret", "error", err)
		}
		secret = generated
		jwtDefault = true
	}
	s := &Server{
		st:         st,
		streamer:   streamer,
		teaching:   teaching,
		summaries:  summaries,
		tokens:     newTokenIssuer(secret, cfg.TokenTTL),
		wa:         cfg.WhatsApp,
		waChecker:  cfg.WebhookChecker,
		addr:       addr,
		startedAt:  time.Now(),
		jwtDefault: jwtDefault,
	}
	if summaries != nil && cfg.SummaryCron != "" {
		s.refresher = summary.NewRefresher(summaries)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/chat", s.chatHandler).Methods(http.MethodPost, http.MethodOptions)
	a.HandleFunc("/teach/chat", s.teachChatHandler).Methods(http.MethodPost, http.MethodOptions)
	a.HandleFunc("/create-session", s.createSessionHandler).Methods(http.MethodPost, http.MethodOptions)
	a.HandleFunc("/verify-dashboard-access", s.verifyDashboardAccessHandler).Methods(http.MethodGet, http.MethodOptions)
	a.HandleFunc("/save-chat-message", s.saveChatMessageHandler).Methods(http.MethodPost, http.MethodOptions)
	a.HandleFunc("/twilio/webhook", s.twilioWebhookHandler).Methods(http.MethodPost)

	dash := a.NewRoute().Subrouter()
	dash.Use(s.requireDashboard)
	dash.HandleFunc("/get-chat-messages", s.getChatMessagesHandler).Methods(http.MethodGet, http.MethodOptions)
	dash.HandleFunc("/get-chat-summaries", s.getChatSummariesHandler).Methods(http.MethodGet, http.MethodOptions)
	dash.HandleFunc("/summaries/{subject}/generate", s.generateSummariesHandler).Methods(http.MethodPost, http.MethodOptions)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("EvaluBot API running", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server forced to shutdown: %w", err)
	}
	return nil
}

// Run builds every module from the given options and serves until SIGINT or SIGTERM.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, waOpts []twiliowhatsapp.Option, apiOpts []Option) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	st, err := createStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	if cfg.MongoURI != "" {
		client, err := store.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return err
		}
		defer disconnectMongo(client)
		dbName := cfg.MongoDatabase
		if dbName == "" {
			dbName = store.DefaultMongoDatabase
		}
		st = &store.SummaryOverlay{Store: st, Summaries: store.NewMongoSummaryRepo(client.Database(dbName))}
		slog.Info("Summaries stored in MongoDB", "database", dbName)
	}

	var gaClient genai.ClientInterface
	if c, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Warn("Text-completion client not configured; conversations use manual mode and summaries are disabled", "error", err)
	} else {
		gaClient = c
	}

	states, closeStates, err := createStateStore(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer closeStates()

	assigner, err := modeAssigner(cfg.Mode)
	if err != nil {
		return err
	}
	engineOpts := []flow.EngineOption{flow.WithModeAssigner(assigner)}
	if gaClient != nil {
		engineOpts = append(engineOpts, flow.WithGenAI(gaClient))
	}

	streamerDomain, err := flow.DefaultDomain(flow.DomainStreamer)
	if err != nil {
		return err
	}
	teachingDomain, err := flow.DefaultDomain(flow.DomainTeaching)
	if err != nil {
		return err
	}
	streamer := flow.NewEngine(streamerDomain, states, engineOpts...)
	teaching := flow.NewEngine(teachingDomain, states, engineOpts...)

	var agg *summary.Aggregator
	if gaClient != nil {
		agg = summary.NewAggregator(st, st, gaClient)
	}

	if cfg.WhatsApp == nil {
		if wa, err := twiliowhatsapp.NewClient(waOpts...); err != nil {
			slog.Info("WhatsApp channel disabled", "reason", err)
		} else {
			apiOpts = append(apiOpts, WithWhatsApp(wa, wa))
		}
	}

	srv := NewServer(st, streamer, teaching, agg, apiOpts...)
	if srv.jwtDefault {
		slog.Warn("JWT secret not set; dashboard tokens will not survive a restart")
	}

	if cfg.SummaryCron != "" {
		if srv.refresher == nil {
			slog.Warn("Summary refresh schedule ignored; no text-completion client configured", "cron", cfg.SummaryCron)
		} else {
			sched := scheduler.NewScheduler()
			defer sched.Stop()
			if err := sched.AddJob("summary-refresh", cfg.SummaryCron, func() { srv.refresher.Refresh(ctx) }); err != nil {
				return err
			}
		}
	}
	return srv.ListenAndServe(ctx)
}

// createStore picks the backend from the configured DSN.
func createStore(opts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Info("Using in-memory store")
		return store.NewInMemoryStore(), nil
	case store.DetectDSNType(cfg.DSN) == "postgres":
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(opts...)
	default:
		slog.Info("Using SQLite store", "path", cfg.DSN)
		return store.NewSQLiteStore(opts...)
	}
}

func createStateStore(ctx context.Context, redisURL string) (flow.StateStore, func(), error) {
	if redisURL == "" {
		return flow.NewMemoryStateStore(nil), func() {}, nil
	}
	rs, err := flow.NewRedisStateStoreFromURL(ctx, redisURL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Conversation state stored in Redis")
	return rs, func() {
		if err := rs.Close(); err != nil {
			slog.Warn("Failed to close Redis client", "error", err)
		}
	}, nil
}

func disconnectMongo(client *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		slog.Warn("Failed to disconnect MongoDB", "error", err)
	}
}

// modeAssigner maps the configured policy to a flow.ModeAssigner.
func modeAssigner(policy string) (flow.ModeAssigner, error) {
	policy = strings.TrimSpace(policy)
	if policy == "" || strings.EqualFold(policy, ModeRandom) {
		return flow.NewRandomMode(nil, nil), nil
	}
	m, err := models.ParseMode(policy)
	if err != nil {
		return nil, fmt.Errorf("invalid mode policy %q: %w", policy, err)
	}
	return flow.FixedMode(m), nil
}
