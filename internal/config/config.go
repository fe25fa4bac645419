package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pawnsight/coach/internal/coach"
	"github.com/pawnsight/coach/internal/session"
)

type AppConfig struct {
	StockfishPath   string
	EngineThreads   int
	EngineHashMB    int
	MultiPV         int
	NodesPerPV      int
	QuickNodesPerPV int
	FloorNodes      int
	EnginePoolSize  int

	RedisURL   string
	SessionTTL time.Duration

	AIAPIKey      string
	AIAPIEndpoint string
	AIModelName   string
	LLMTimeout    time.Duration
	LLMTotal      time.Duration
	UseLLM        bool
	Thresholds    coach.Thresholds

	TuningFile string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		MultiPV:    5,
		SessionTTL: session.DefaultTTL,
		LLMTimeout: coach.DefaultRequestTimeout,
		LLMTotal:   coach.DefaultTotalTimeout,
		UseLLM:     true,
		Thresholds: coach.DefaultThresholds(),
	}

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))

	if v := strings.TrimSpace(os.Getenv("ENGINE_THREADS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineThreads = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_HASH_MB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineHashMB = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MULTIPV")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MultiPV = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("NODES_PER_PV")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.NodesPerPV = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("QUICK_NODES_PER_PV")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QuickNodesPerPV = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("FLOOR_NODES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FloorNodes = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_POOL_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EnginePoolSize = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("SESSION_TTL_HOURS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SessionTTL = time.Duration(n) * time.Hour
		}
	}

	cfg.AIAPIKey = strings.TrimSpace(os.Getenv("AI_API_KEY"))
	cfg.AIAPIEndpoint = strings.TrimSpace(os.Getenv("AI_API_ENDPOINT"))
	cfg.AIModelName = strings.TrimSpace(os.Getenv("AI_MODEL_NAME"))

	if v := strings.TrimSpace(os.Getenv("LLM_TIMEOUT_SECONDS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.LLMTimeout = time.Duration(f * float64(time.Second))
		}
	}
	if v := strings.TrimSpace(os.Getenv("LLM_TOTAL_TIMEOUT_SECONDS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.LLMTotal = time.Duration(f * float64(time.Second))
		}
	}
	if v := strings.TrimSpace(os.Getenv("USE_LLM")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.UseLLM = b
		}
	}

	cfg.TuningFile = strings.TrimSpace(os.Getenv("COACH_TUNING_FILE"))
	if cfg.TuningFile != "" {
		if err := cfg.applyTuning(cfg.TuningFile); err != nil {
			return nil, err
		}
	}

	if cfg.StockfishPath == "" {
		return nil, errors.New("STOCKFISH_PATH is required")
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("severity thresholds: %w", err)
	}
	return cfg, nil
}

// tuning is the optional YAML overlay for severity cutoffs and strength
// presets.
type tuning struct {
	Thresholds *coach.Thresholds              `yaml:"thresholds"`
	Levels     map[string]session.LevelParams `yaml:"levels"`
}

func (c *AppConfig) applyTuning(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tuning file: %w", err)
	}
	var t tuning
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	if t.Thresholds != nil {
		c.Thresholds = *t.Thresholds
	}
	if len(t.Levels) > 0 {
		session.OverrideLevels(t.Levels)
	}
	return nil
}
