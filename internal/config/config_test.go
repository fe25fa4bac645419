package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pawnsight/coach/internal/session"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STOCKFISH_PATH", "/usr/bin/stockfish")
	for _, key := range []string{
		"ENGINE_THREADS", "ENGINE_HASH_MB", "MULTIPV", "NODES_PER_PV",
		"QUICK_NODES_PER_PV", "FLOOR_NODES", "ENGINE_POOL_SIZE",
		"REDIS_URL", "SESSION_TTL_HOURS", "AI_API_KEY", "AI_API_ENDPOINT",
		"AI_MODEL_NAME", "LLM_TIMEOUT_SECONDS", "LLM_TOTAL_TIMEOUT_SECONDS",
		"USE_LLM", "COACH_TUNING_FILE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadRequiresEnginePath(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STOCKFISH_PATH", "")
	if _, err := Load(); err == nil {
		t.Fatalf("missing engine path must be rejected")
	}
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MultiPV != 5 {
		t.Errorf("multipv default = %d", cfg.MultiPV)
	}
	if cfg.SessionTTL != session.DefaultTTL {
		t.Errorf("ttl default = %v", cfg.SessionTTL)
	}
	if !cfg.UseLLM {
		t.Errorf("llm should default on")
	}
	if cfg.Thresholds.Mistake != 1.50 {
		t.Errorf("thresholds default = %+v", cfg.Thresholds)
	}
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MULTIPV", "3")
	t.Setenv("NODES_PER_PV", "200000")
	t.Setenv("SESSION_TTL_HOURS", "6")
	t.Setenv("LLM_TIMEOUT_SECONDS", "2.5")
	t.Setenv("USE_LLM", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MultiPV != 3 || cfg.NodesPerPV != 200000 {
		t.Errorf("engine overrides lost: %+v", cfg)
	}
	if cfg.SessionTTL != 6*time.Hour {
		t.Errorf("ttl = %v", cfg.SessionTTL)
	}
	if cfg.LLMTimeout != 2500*time.Millisecond {
		t.Errorf("llm timeout = %v", cfg.LLMTimeout)
	}
	if cfg.UseLLM {
		t.Errorf("USE_LLM=false not applied")
	}
}

func TestLoadTuningFile(t *testing.T) {
	setBaseEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	body := `thresholds:
  best: 0.03
  good: 0.15
  inaccuracy: 0.40
  mistake: 1.00
levels:
  club:
    skill_level: 10
    move_time_ms: 900
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COACH_TUNING_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Thresholds.Best != 0.03 || cfg.Thresholds.Mistake != 1.00 {
		t.Errorf("tuned thresholds = %+v", cfg.Thresholds)
	}
	if got := session.LevelFor("club"); got.SkillLevel != 10 || got.MoveTimeMillis != 900 {
		t.Errorf("tuned level = %+v", got)
	}
}

func TestLoadRejectsBadTuning(t *testing.T) {
	setBaseEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	body := `thresholds:
  best: 0.50
  good: 0.20
  inaccuracy: 0.10
  mistake: 0.05
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COACH_TUNING_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatalf("non-monotonic tuned thresholds must be rejected")
	}

	t.Setenv("COACH_TUNING_FILE", filepath.Join(dir, "missing.yaml"))
	_, err := Load()
	if err == nil || errors.Is(err, os.ErrExist) {
		t.Fatalf("missing tuning file must surface an error, got %v", err)
	}
}
