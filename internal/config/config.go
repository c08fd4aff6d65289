// Package config parses and validates all application configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] to subcommands.
// Server exits if any field tagged "required" is missing.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration sourced from environment variables.
// Field defaults match .env.example.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseURL          string        `env:"DATABASE_URL,required"`
	DBMaxConns           int32         `env:"DB_MAX_CONNS"            envDefault:"25"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME"   envDefault:"5m"`
	DBStatementTimeoutMS int           `env:"DB_STATEMENT_TIMEOUT_MS" envDefault:"14000"`
	// DBQueryExecMode: "simple_protocol" (PgBouncer-compatible) or "extended_protocol".
	DBQueryExecMode string `env:"DB_QUERY_EXEC_MODE" envDefault:"simple_protocol"`

	// ── Server ───────────────────────────────────────────────────────────────────
	ListenAddr             string `env:"LISTEN_ADDR"              envDefault:":8080"`
	AppEnv                 string `env:"APP_ENV"                  envDefault:"development"`
	ExternalURL            string `env:"EXTERNAL_URL"             envDefault:"http://localhost:8080"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"60"`

	// ── Auth — JWT ───────────────────────────────────────────────────────────────
	JWTSecret string `env:"JWT_SECRET,required"`

	// ── Storage ──────────────────────────────────────────────────────────────────
	// AudioDir is the root directory for uploaded audio artifacts.
	AudioDir    string `env:"AUDIO_DIR"     envDefault:"./data/audio"`
	MaxUploadMB int64  `env:"MAX_UPLOAD_MB" envDefault:"250"`

	// ── Transcription engine ─────────────────────────────────────────────────────
	// Any Whisper-compatible /v1/audio/transcriptions endpoint works here.
	TranscriberURL    string `env:"TRANSCRIBER_URL"     envDefault:"http://localhost:8178"`
	TranscriberAPIKey string `env:"TRANSCRIBER_API_KEY"`
	TranscriberModel  string `env:"TRANSCRIBER_MODEL"   envDefault:"whisper-1"`

	// ── Summarization engine ─────────────────────────────────────────────────────
	SummarizerURL    string `env:"SUMMARIZER_URL"     envDefault:"https://generativelanguage.googleapis.com"`
	SummarizerAPIKey string `env:"SUMMARIZER_API_KEY"`
	SummarizerModel  string `env:"SUMMARIZER_MODEL"   envDefault:"gemini-2.0-flash"`

	// ── Job queue ────────────────────────────────────────────────────────────────
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"2s"`
	// JobTimeout bounds one engine call. Transcribing a long recording can
	// legitimately take many minutes.
	JobTimeout    time.Duration `env:"JOB_TIMEOUT"     envDefault:"20m"`
	JobMaxRetries int           `env:"JOB_MAX_RETRIES" envDefault:"3"`
	// StaleThreshold must stay above JobTimeout so a live worker always
	// finalizes its own job before the recovery pass can requeue it.
	StaleCheckInterval time.Duration `env:"STALE_CHECK_INTERVAL" envDefault:"1m"`
	StaleThreshold     time.Duration `env:"STALE_THRESHOLD"      envDefault:"30m"`
	// JobsRecentWindow controls how long terminal jobs stay visible in the
	// polling client's job list.
	JobsRecentWindow time.Duration `env:"JOBS_RECENT_WINDOW" envDefault:"1h"`

	// ── Rate limiting ────────────────────────────────────────────────────────────
	RateLimitEvictTTL time.Duration `env:"RATE_LIMIT_EVICT_TTL" envDefault:"15m"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses and returns Config from environment variables.
// Returns an error if any required field is missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
