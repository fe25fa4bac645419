package analysis

import "time"

// Score is one engine evaluation. CP is centipawns from the perspective of
// the side to move in the evaluated position (the raw UCI convention). A
// non-zero Mate means a forced mate in that many moves (negative when the
// side to move is getting mated); CP is meaningless in that case.
type Score struct {
	CP   int `json:"cp"`
	Mate int `json:"mate,omitempty"`
}

func (s Score) IsMate() bool { return s.Mate != 0 }

// WhiteCP converts the score to White's perspective. sideToMove is the
// mover of the evaluated position ("white" or "black").
func (s Score) WhiteCP(sideToMove string) int {
	if sideToMove == "black" {
		return -s.CP
	}
	return s.CP
}

// EvaluationLine is one MultiPV entry, best line first in the parent slice.
type EvaluationLine struct {
	MoveUCI string   `json:"move_uci"`
	MoveSAN string   `json:"move_san"`
	Score   Score    `json:"score"`
	LineSAN []string `json:"line_san"`
}

// PositionEvaluation is the normalized result of one engine analysis.
// When the engine fails, Lines is empty and Unavailable is set; callers get
// a marker, not a fabricated score and not an error to unwind through.
type PositionEvaluation struct {
	FEN         string           `json:"fen"`
	SideToMove  string           `json:"side_to_move"`
	Lines       []EvaluationLine `json:"lines"`
	Nodes       int64            `json:"nodes"`
	Depth       int              `json:"depth"`
	Elapsed     time.Duration    `json:"elapsed"`
	Unavailable bool             `json:"unavailable,omitempty"`
	Err         string           `json:"error,omitempty"`
}

// Best returns the top line, or nil when the evaluation is unavailable.
func (e *PositionEvaluation) Best() *EvaluationLine {
	if e == nil || len(e.Lines) == 0 {
		return nil
	}
	return &e.Lines[0]
}

// SkillParams select the engine's strength when it plays as an opponent.
type SkillParams struct {
	SkillLevel     int
	MoveTimeMillis int
}

type EngineReply struct {
	MoveUCI string
	MoveSAN string
}

// MoveComparison pairs the evaluation before a move with the evaluation
// after it. LossPawns is signed from the mover's perspective (positive is
// worse for the mover) and nil when either side of the pair carries a mate
// score, where a centipawn delta has no meaning.
type MoveComparison struct {
	MoveUCI     string              `json:"move_uci"`
	MoveSAN     string              `json:"move_san"`
	BestMoveUCI string              `json:"best_move_uci"`
	BestMoveSAN string              `json:"best_move_san"`
	Before      *PositionEvaluation `json:"before"`
	After       *PositionEvaluation `json:"after"`
	IsBest      bool                `json:"is_best"`
	LossPawns   *float64            `json:"loss_pawns"`
}
