package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const fenAfterE4 = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"

// turnStub answers by side to move so it stays valid for any FEN spelling
// the board library produces.
type turnStub struct {
	whiteLine EvaluationLine
	blackLine EvaluationLine
	calls     []string
}

func (s *turnStub) Evaluate(_ context.Context, fen string) *PositionEvaluation {
	s.calls = append(s.calls, fen)
	eval := &PositionEvaluation{FEN: fen, SideToMove: sideToMoveFromFEN(fen)}
	if eval.SideToMove == "black" {
		eval.Lines = []EvaluationLine{s.blackLine}
	} else {
		eval.Lines = []EvaluationLine{s.whiteLine}
	}
	return eval
}

func TestCompareMoveBestMoveZeroishLoss(t *testing.T) {
	stub := &turnStub{
		whiteLine: EvaluationLine{MoveUCI: "e2e4", MoveSAN: "e4", Score: Score{CP: 30}},
		blackLine: EvaluationLine{MoveUCI: "e7e5", MoveSAN: "e5", Score: Score{CP: -20}},
	}

	cmp, err := CompareMove(context.Background(), stub, "startpos", "e4")
	if err != nil {
		t.Fatalf("CompareMove: %v", err)
	}
	if !cmp.IsBest {
		t.Errorf("played the engine's top choice, IsBest should be true")
	}
	if cmp.MoveUCI != "e2e4" || cmp.MoveSAN != "e4" {
		t.Errorf("move = %s/%s", cmp.MoveUCI, cmp.MoveSAN)
	}
	if cmp.BestMoveSAN != "e4" {
		t.Errorf("best move SAN = %s", cmp.BestMoveSAN)
	}
	if cmp.LossPawns == nil {
		t.Fatalf("loss should be computable for two cp scores")
	}
	// before: +30 for White; after: -20 for Black = +20 for White.
	if got := *cmp.LossPawns; got != 0.10 {
		t.Errorf("loss = %v, want 0.10", got)
	}
}

func TestCompareMoveBlackMoverSign(t *testing.T) {
	stub := &turnStub{
		// Black to move sees +10 for itself, so White is at -10.
		blackLine: EvaluationLine{MoveUCI: "e7e5", MoveSAN: "e5", Score: Score{CP: 10}},
		// After Black's reply White is at +30.
		whiteLine: EvaluationLine{MoveUCI: "g1f3", MoveSAN: "Nf3", Score: Score{CP: 30}},
	}

	cmp, err := CompareMove(context.Background(), stub, fenAfterE4, "c7c5")
	if err != nil {
		t.Fatalf("CompareMove: %v", err)
	}
	if cmp.IsBest {
		t.Errorf("c5 is not the stub's top choice")
	}
	if cmp.LossPawns == nil {
		t.Fatalf("loss should be computable")
	}
	// White went from -10 to +30, so Black lost 0.40 pawns.
	if got := *cmp.LossPawns; got != 0.40 {
		t.Errorf("loss = %v, want 0.40", got)
	}
}

func TestCompareMoveAcceptsSANAndUCI(t *testing.T) {
	stub := &turnStub{
		whiteLine: EvaluationLine{MoveUCI: "g1f3", MoveSAN: "Nf3", Score: Score{CP: 25}},
		blackLine: EvaluationLine{MoveUCI: "g8f6", MoveSAN: "Nf6", Score: Score{CP: -25}},
	}

	for _, input := range []string{"Nf3", "g1f3", "G1F3"} {
		cmp, err := CompareMove(context.Background(), stub, "startpos", input)
		if err != nil {
			t.Fatalf("CompareMove(%q): %v", input, err)
		}
		if cmp.MoveUCI != "g1f3" || cmp.MoveSAN != "Nf3" {
			t.Errorf("input %q normalized to %s/%s", input, cmp.MoveUCI, cmp.MoveSAN)
		}
	}
}

func TestCompareMoveRejectsIllegalMove(t *testing.T) {
	stub := &turnStub{}
	_, err := CompareMove(context.Background(), stub, "startpos", "e5")
	if !errors.Is(err, ErrUnknownMove) {
		t.Fatalf("err = %v, want ErrUnknownMove", err)
	}
	if len(stub.calls) != 0 {
		t.Errorf("no evaluation should run for an illegal move")
	}
}

func TestCompareMoveDoesNotAdvanceCallerPosition(t *testing.T) {
	stub := &turnStub{
		whiteLine: EvaluationLine{MoveUCI: "e2e4", MoveSAN: "e4", Score: Score{CP: 30}},
		blackLine: EvaluationLine{MoveUCI: "e7e5", MoveSAN: "e5", Score: Score{CP: -20}},
	}

	first, err := CompareMove(context.Background(), stub, "startpos", "e4")
	if err != nil {
		t.Fatalf("first compare: %v", err)
	}
	second, err := CompareMove(context.Background(), stub, "startpos", "e4")
	if err != nil {
		t.Fatalf("second compare: %v", err)
	}
	if first.Before.FEN != second.Before.FEN || first.MoveSAN != second.MoveSAN {
		t.Errorf("repeated comparison from the same position diverged")
	}
	if !strings.Contains(stub.calls[0], " w ") {
		t.Errorf("before-evaluation should see the original side to move, got %q", stub.calls[0])
	}
}

func TestLossPawnsNilOnMateScores(t *testing.T) {
	before := &PositionEvaluation{
		SideToMove: "white",
		Lines:      []EvaluationLine{{MoveUCI: "d1h5", Score: Score{Mate: 2}}},
	}
	after := &PositionEvaluation{
		SideToMove: "black",
		Lines:      []EvaluationLine{{MoveUCI: "g7g6", Score: Score{CP: -900}}},
	}
	if lossPawns(before, after) != nil {
		t.Errorf("mate on either side must yield nil loss")
	}
	if lossPawns(&PositionEvaluation{}, after) != nil {
		t.Errorf("unavailable evaluation must yield nil loss")
	}
}
