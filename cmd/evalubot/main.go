package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/EvaluBot/internal/api"
	"github.com/BTreeMap/EvaluBot/internal/genai"
	"github.com/BTreeMap/EvaluBot/internal/lockfile"
	"github.com/BTreeMap/EvaluBot/internal/store"
	"github.com/BTreeMap/EvaluBot/internal/twiliowhatsapp"
	"github.com/BTreeMap/EvaluBot/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for EvaluBot state data
	DefaultStateDir = "/var/lib/evalubot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "evalubot.db"
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	initializeLogger(config.Debug)

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := acquireStateLock(flags)
	if err != nil {
		slog.Error("Another EvaluBot instance is using this state directory", "error", err)
		os.Exit(1)
	}

	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags, config)
	waOpts := buildWhatsAppOptions(config)
	apiOpts := buildAPIOptions(flags, config)

	slog.Info("Bootstrapping EvaluBot with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "genai", len(genaiOpts), "whatsapp", len(waOpts), "api", len(apiOpts))
	runErr := api.Run(storeOpts, genaiOpts, waOpts, apiOpts)
	if err := lock.Release(); err != nil {
		slog.Warn("Failed to release state directory lock", "error", err)
	}
	if runErr != nil {
		slog.Error("EvaluBot failed to run", "error", runErr)
		os.Exit(1)
	}
	slog.Info("EvaluBot exited successfully")
}

// acquireStateLock locks the directory of a SQLite database. Other DSNs need no lock.
func acquireStateLock(flags Flags) (*lockfile.Lock, error) {
	if *flags.dbDSN == "" || store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil, nil
	}
	return lockfile.Acquire(filepath.Dir(*flags.dbDSN))
}

// Config holds environment configuration
type Config struct {
	DatabaseURL      string
	StateDir         string
	OpenAIKey        string
	OpenAIModel      string
	OpenAIBaseURL    string
	APIAddr          string
	Mode             string
	RedisURL         string
	MongoURI         string
	MongoDatabase    string
	JWTSecret        string
	TokenTTL         time.Duration
	SummaryCron      string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioWebhookURL string
	Debug            bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	openaiKey   *string
	openaiModel *string
	apiAddr     *string
	mode        *string
	redisURL    *string
	mongoURI    *string
}

// initializeLogger sets up structured logging; debug output is opt-in.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		StateDir:         os.Getenv("EVALUBOT_STATE_DIR"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		APIAddr:          os.Getenv("API_ADDR"),
		Mode:             os.Getenv("EVALUBOT_MODE"),
		RedisURL:         os.Getenv("REDIS_URL"),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDatabase:    os.Getenv("MONGO_DATABASE"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		TokenTTL:         util.ParseDurationEnv("EVALUBOT_TOKEN_TTL", api.DefaultAccessTokenTTL),
		SummaryCron:      os.Getenv("EVALUBOT_SUMMARY_CRON"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),
		Debug:            util.ParseBoolEnv("EVALUBOT_DEBUG", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"EVALUBOT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"EVALUBOT_MODE", config.Mode,
		"REDIS_URL_SET", config.RedisURL != "",
		"MONGO_URI_SET", config.MongoURI != "",
		"JWT_SECRET_SET", config.JWTSecret != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		stateDir:    fs.String("state-dir", config.StateDir, "state directory for EvaluBot data (overrides $EVALUBOT_STATE_DIR)"),
		dbDSN:       fs.String("db-dsn", config.DatabaseURL, "database DSN: PostgreSQL URL, SQLite path, or empty for in-memory (overrides $DATABASE_URL)"),
		openaiKey:   fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel: fs.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		apiAddr:     fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		mode:        fs.String("mode", config.Mode, "dialogue mode policy: manual, adaptive, hybrid or random (overrides $EVALUBOT_MODE)"),
		redisURL:    fs.String("redis-url", config.RedisURL, "Redis URL for conversation state (overrides $REDIS_URL)"),
		mongoURI:    fs.String("mongo-uri", config.MongoURI, "MongoDB URI for summaries (overrides $MONGO_URI)"),
	}

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"mode", *flags.mode)

	// Follow an overridden state directory when the DSN is still the default SQLite path
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags, nil
}

// ensureDirectoriesExist creates the directory for a file-based database.
func ensureDirectoriesExist(flags Flags) error {
	if *flags.dbDSN == "" || store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags, config Config) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	if config.OpenAIBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(config.OpenAIBaseURL))
	}
	return genaiOpts
}

// buildWhatsAppOptions constructs Twilio configuration options
func buildWhatsAppOptions(config Config) []twiliowhatsapp.Option {
	var waOpts []twiliowhatsapp.Option
	if config.TwilioAccountSID != "" {
		waOpts = append(waOpts, twiliowhatsapp.WithAccountSID(config.TwilioAccountSID))
	}
	if config.TwilioAuthToken != "" {
		waOpts = append(waOpts, twiliowhatsapp.WithAuthToken(config.TwilioAuthToken))
	}
	if config.TwilioFrom != "" {
		waOpts = append(waOpts, twiliowhatsapp.WithFromWhats(config.TwilioFrom))
	}
	if config.TwilioWebhookURL != "" {
		waOpts = append(waOpts, twiliowhatsapp.WithWebhookURL(config.TwilioWebhookURL))
	}
	return waOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, config Config) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.mode != "" {
		apiOpts = append(apiOpts, api.WithMode(*flags.mode))
	}
	if *flags.redisURL != "" {
		apiOpts = append(apiOpts, api.WithRedisURL(*flags.redisURL))
	}
	if *flags.mongoURI != "" {
		apiOpts = append(apiOpts, api.WithMongo(*flags.mongoURI, config.MongoDatabase))
	}
	if config.JWTSecret != "" {
		apiOpts = append(apiOpts, api.WithJWTSecret(config.JWTSecret))
	}
	if config.SummaryCron != "" {
		apiOpts = append(apiOpts, api.WithSummaryCron(config.SummaryCron))
	}
	apiOpts = append(apiOpts, api.WithTokenTTL(config.TokenTTL))
	return apiOpts
}
