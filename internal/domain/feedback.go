// Package domain holds the records shared between live sessions, coaching,
// and batch analysis.
package domain

import "time"

// Severity grades a move by its centipawn loss. Ordering matters: each
// constant is strictly worse than the one before it.
type Severity string

const (
	SeverityBest       Severity = "best"
	SeverityGood       Severity = "good"
	SeverityInaccuracy Severity = "inaccuracy"
	SeverityMistake    Severity = "mistake"
	SeverityBlunder    Severity = "blunder"
)

// Rank returns the severity's position in the best-to-blunder order.
func (s Severity) Rank() int {
	switch s {
	case SeverityBest:
		return 0
	case SeverityGood:
		return 1
	case SeverityInaccuracy:
		return 2
	case SeverityMistake:
		return 3
	case SeverityBlunder:
		return 4
	}
	return -1
}

func (s Severity) IsCritical() bool {
	return s == SeverityMistake || s == SeverityBlunder
}

// Author tells whose move a feedback record describes.
type Author string

const (
	AuthorHuman  Author = "human"
	AuthorEngine Author = "engine"
)

// Provenance of coaching text.
const (
	SourceRules = "rules"
	SourceLLM   = "llm"
)

// PVEntry is one engine line attached to a feedback record.
type PVEntry struct {
	MoveSAN string   `json:"move_san"`
	MoveUCI string   `json:"move_uci"`
	CP      int      `json:"cp"`
	Mate    int      `json:"mate,omitempty"`
	LineSAN []string `json:"line_san"`
}

// Drill is a practice position derived from a weak move.
type Drill struct {
	FEN         string   `json:"fen"`
	SideToMove  string   `json:"side_to_move"`
	Objective   string   `json:"objective"`
	BestLineSAN []string `json:"best_line_san"`
	AltTrapsSAN []string `json:"alt_traps_san"`
}

// MoveFeedback is the per-ply record produced for every analyzed move.
// CPBefore/CPAfter/CPLoss are in pawns from the mover's perspective and nil
// when the engine could not score the position or a mate was on the board.
type MoveFeedback struct {
	MoveNo    int      `json:"move_no"`
	Side      string   `json:"side"`
	Author    Author   `json:"author"`
	SAN       string   `json:"san"`
	UCI       string   `json:"uci"`
	FENBefore string   `json:"fen_before"`
	FENAfter  string   `json:"fen_after"`
	CPBefore  *float64 `json:"cp_before"`
	CPAfter   *float64 `json:"cp_after"`
	CPLoss    *float64 `json:"cp_loss"`
	Severity  Severity `json:"severity"`

	BestMoveSAN string    `json:"best_move_san,omitempty"`
	BestMoveUCI string    `json:"best_move_uci,omitempty"`
	MultiPV     []PVEntry `json:"multipv,omitempty"`

	Basic    string   `json:"basic,omitempty"`
	Extended string   `json:"extended,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Drills   []Drill  `json:"drills,omitempty"`
	Source   string   `json:"source,omitempty"`
}

// SideStats aggregates one player's moves over a game.
type SideStats struct {
	Moves        int      `json:"moves"`
	ACPL         *float64 `json:"acpl"`
	BestMoveRate *float64 `json:"best_move_rate"`
	Mistakes     int      `json:"mistakes"`
	Blunders     int      `json:"blunders"`
}

// GameSummary is the batch-analysis rollup for a whole game.
type GameSummary struct {
	Moves             int       `json:"moves"`
	White             SideStats `json:"white"`
	Black             SideStats `json:"black"`
	Openings          []string  `json:"openings,omitempty"`
	CriticalPositions []int     `json:"critical_positions"`
	AnalyzedAt        time.Time `json:"analyzed_at"`
}
