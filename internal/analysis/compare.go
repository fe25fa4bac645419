package analysis

import (
	"context"
	"errors"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// ErrUnknownMove is returned when the move text decodes to no legal move in
// the given position.
var ErrUnknownMove = errors.New("move is not legal in this position")

// PositionEvaluator is the slice of Analyzer that move comparison needs.
// Defined here so callers can substitute deterministic evaluators in tests.
type PositionEvaluator interface {
	Evaluate(ctx context.Context, fen string) *PositionEvaluation
}

// CompareMove evaluates the position before and after the given move and
// reports the mover-relative centipawn loss. moveText may be SAN or UCI.
// The caller's position is never touched; the move is applied to a decoded
// copy built from fen.
func CompareMove(ctx context.Context, ev PositionEvaluator, fen, moveText string) (*MoveComparison, error) {
	game, err := gameFromFEN(fen)
	if err != nil {
		return nil, err
	}

	pos := game.Position()
	notationSAN := nchess.AlgebraicNotation{}
	notationUCI := nchess.UCINotation{}
	mv, err := notationSAN.Decode(pos, strings.TrimSpace(moveText))
	if err != nil {
		mv, err = notationUCI.Decode(pos, strings.ToLower(strings.TrimSpace(moveText)))
		if err != nil {
			return nil, ErrUnknownMove
		}
	}

	moveSAN := notationSAN.Encode(pos, mv)
	moveUCI := strings.ToLower(notationUCI.Encode(pos, mv))

	before := ev.Evaluate(ctx, fen)

	if err := game.Move(mv, nil); err != nil {
		return nil, ErrUnknownMove
	}
	after := ev.Evaluate(ctx, game.FEN())

	cmp := &MoveComparison{
		MoveUCI: moveUCI,
		MoveSAN: moveSAN,
		Before:  before,
		After:   after,
	}
	if best := before.Best(); best != nil {
		cmp.BestMoveUCI = best.MoveUCI
		cmp.BestMoveSAN = best.MoveSAN
		cmp.IsBest = best.MoveUCI == moveUCI
	}
	cmp.LossPawns = lossPawns(before, after)
	return cmp, nil
}

// lossPawns computes the signed loss from the mover's perspective, positive
// when the move made things worse for the mover. Nil when either evaluation
// is unavailable or carries a mate score.
func lossPawns(before, after *PositionEvaluation) *float64 {
	b, a := before.Best(), after.Best()
	if b == nil || a == nil {
		return nil
	}
	if b.Score.IsMate() || a.Score.IsMate() {
		return nil
	}

	whiteBefore := b.Score.WhiteCP(before.SideToMove)
	whiteAfter := a.Score.WhiteCP(after.SideToMove)

	loss := float64(whiteBefore-whiteAfter) / 100.0
	if before.SideToMove == "black" {
		loss = -loss
	}
	return &loss
}
