// Package config reads the bridge's environment once at startup.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"linebot-bridge/internal/integrations/llm"
)

const (
	ProviderBedrock   = "bedrock"
	ProviderAnthropic = "anthropic"

	defaultHTTPTimeout = 5 * time.Second

	// maxRetentionSeconds is the largest retention a time.Duration can hold.
	maxRetentionSeconds = math.MaxInt64 / int64(time.Second)
)

type Config struct {
	ModelProvider string
	BedrockRegion string
	ModelID       string
	// AnthropicKeyParam is the SSM parameter holding the first-party API key.
	AnthropicKeyParam string

	LineAccessToken      string
	LineAccessTokenParam string

	HTTPTimeout time.Duration

	HistoryEnabled bool
	TableName      string
	TTLAttrName    string
	Retention      time.Duration

	// MaxTokens is 0 when unset so the pipeline picks the mode default.
	MaxTokens          int
	MaxHistoryTurns    int
	PersistBeforeReply bool

	LogLevel slog.Level
}

// Load builds a Config from getenv. All problems are reported together.
func Load(getenv func(string) string) (Config, error) {
	r := reader{getenv: getenv}

	cfg := Config{
		ModelProvider:        strings.ToLower(r.str("MODEL_PROVIDER", ProviderBedrock)),
		LineAccessToken:      r.str("LINE_ACCESS_TOKEN", ""),
		LineAccessTokenParam: r.str("LINE_ACCESS_TOKEN_PARAM", ""),
		HTTPTimeout:          r.seconds("HTTP_TIMEOUT", defaultHTTPTimeout),
		HistoryEnabled:       r.boolean("HISTORY_ENABLED", true),
		MaxTokens:            r.integer("MAX_TOKENS", 0),
		MaxHistoryTurns:      r.integer("MAX_HISTORY_TURNS", 0),
		PersistBeforeReply:   r.boolean("PERSIST_BEFORE_REPLY", false),
		LogLevel:             r.level("LOG_LEVEL", slog.LevelInfo),
	}

	switch cfg.ModelProvider {
	case ProviderBedrock:
		cfg.BedrockRegion = r.required("BEDROCK_REGION")
		cfg.ModelID = r.str("BEDROCK_MODEL_ID", llm.DefaultBedrockModel)
	case ProviderAnthropic:
		cfg.AnthropicKeyParam = r.required("ANTHROPIC_API_KEY_PARAM")
		cfg.ModelID = r.str("ANTHROPIC_MODEL_ID", llm.DefaultAnthropicModel)
	default:
		r.fail("MODEL_PROVIDER", fmt.Errorf("unsupported provider %q", cfg.ModelProvider))
	}

	if cfg.LineAccessToken == "" && cfg.LineAccessTokenParam == "" {
		r.fail("LINE_ACCESS_TOKEN", errors.New("one of LINE_ACCESS_TOKEN or LINE_ACCESS_TOKEN_PARAM must be set"))
	}

	if cfg.HistoryEnabled {
		cfg.TableName = r.required("DDB_TABLE_NAME")
		cfg.TTLAttrName = r.required("TTL_ATTR_NAME")
		if keep := r.required("TTL_KEEP_SECONDS"); keep != "" {
			n, err := strconv.ParseInt(keep, 10, 64)
			switch {
			case err != nil:
				r.fail("TTL_KEEP_SECONDS", err)
			case n <= 0:
				r.fail("TTL_KEEP_SECONDS", errors.New("must be positive"))
			case n > maxRetentionSeconds:
				r.fail("TTL_KEEP_SECONDS", fmt.Errorf("must not exceed %d", maxRetentionSeconds))
			default:
				cfg.Retention = time.Duration(n) * time.Second
			}
		}
	}

	if cfg.MaxTokens < 0 {
		r.fail("MAX_TOKENS", errors.New("must not be negative"))
	}
	if cfg.MaxHistoryTurns < 0 {
		r.fail("MAX_HISTORY_TURNS", errors.New("must not be negative"))
	}

	if len(r.errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(r.errs...))
	}
	return cfg, nil
}

type reader struct {
	getenv func(string) string
	errs   []error
}

func (r *reader) fail(key string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) required(key string) string {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		r.fail(key, errors.New("required environment variable is not set"))
	}
	return v
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

// seconds parses a float number of seconds, e.g. "2.5".
func (r *reader) seconds(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 || math.IsNaN(f) || f > float64(math.MaxInt64)/float64(time.Second) {
		r.fail(key, fmt.Errorf("invalid seconds value %q", v))
		return def
	}
	return time.Duration(f * float64(time.Second))
}

func (r *reader) level(key string, def slog.Level) slog.Level {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		r.fail(key, err)
		return def
	}
	return lvl
}
