package session

import (
	"time"

	"github.com/pawnsight/coach/internal/domain"
)

type GameMode string

const (
	// ModePlay has the engine answer every human move as the opponent.
	ModePlay GameMode = "play"
	// ModeTraining analyzes human moves for both sides; the engine never
	// moves on its own.
	ModeTraining GameMode = "training"
)

func (m GameMode) Valid() bool { return m == ModePlay || m == ModeTraining }

// LevelParams map a named strength to engine settings for play mode.
type LevelParams struct {
	SkillLevel     int `json:"skill_level" yaml:"skill_level"`
	MoveTimeMillis int `json:"move_time_ms" yaml:"move_time_ms"`
}

var levelPresets = map[string]LevelParams{
	"beginner":     {SkillLevel: 3, MoveTimeMillis: 500},
	"intermediate": {SkillLevel: 8, MoveTimeMillis: 800},
	"advanced":     {SkillLevel: 13, MoveTimeMillis: 1200},
	"expert":       {SkillLevel: 18, MoveTimeMillis: 2000},
}

// LevelFor resolves a named level; unknown names get the intermediate
// preset.
func LevelFor(name string) LevelParams {
	if p, ok := levelPresets[name]; ok {
		return p
	}
	return levelPresets["intermediate"]
}

// OverrideLevels replaces or adds presets, for tuning-file overrides
// applied once at startup.
func OverrideLevels(presets map[string]LevelParams) {
	for name, p := range presets {
		if p.SkillLevel < 0 || p.SkillLevel > 20 || p.MoveTimeMillis <= 0 {
			continue
		}
		levelPresets[name] = p
	}
}

// Levels lists the known preset names.
func Levels() []string {
	return []string{"beginner", "intermediate", "advanced", "expert"}
}

// Session is the stored state of one live game. It is serialized as JSON
// in the shared store.
type Session struct {
	ID        string                `json:"id"`
	Level     string                `json:"level"`
	Mode      GameMode              `json:"mode"`
	Engine    LevelParams           `json:"engine"`
	FEN       string                `json:"fen"`
	Moves     []string              `json:"moves"`
	History   []domain.MoveFeedback `json:"history"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Clone returns a copy whose slices are independent of the original.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Moves = append([]string(nil), s.Moves...)
	out.History = append([]domain.MoveFeedback(nil), s.History...)
	return &out
}

// Snapshot is the read-only view handed to callers.
type Snapshot struct {
	ID         string                `json:"id"`
	Level      string                `json:"level"`
	Mode       GameMode              `json:"mode"`
	FEN        string                `json:"fen"`
	Turn       string                `json:"turn"`
	Moves      []string              `json:"moves"`
	History    []domain.MoveFeedback `json:"history"`
	IsGameOver bool                  `json:"is_game_over"`
	Outcome    string                `json:"outcome,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}
