package pipeline

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/pawnsight/coach/internal/analysis"
	"github.com/pawnsight/coach/internal/coach"
	"github.com/pawnsight/coach/internal/domain"
)

const ruyLopezPGN = `[Event "Test"]
[Site "?"]
[White "Ana"]
[Black "Boris"]
[Result "*"]
[ECO "C70"]
[Opening "Ruy Lopez"]

1. e4 e5 2. Nf3 Nc6 3. Bb5 a6 4. Ba4 Nf6 5. O-O Be7 6. Re1 b5 7. Bb3 d6 *
`

// sideEval answers by side to move: White always at +cpWhite from the
// mover's seat, Black always at cpBlack.
type sideEval struct {
	cpWhite int
	cpBlack int
}

func (s sideEval) Evaluate(_ context.Context, fen string) *analysis.PositionEvaluation {
	eval := &analysis.PositionEvaluation{FEN: fen}
	if strings.Contains(fen, " b ") {
		eval.SideToMove = "black"
		eval.Lines = []analysis.EvaluationLine{{
			MoveUCI: "e7e5", MoveSAN: "e5",
			Score:   analysis.Score{CP: s.cpBlack},
			LineSAN: []string{"e5", "Nf3", "Nc6"},
		}}
	} else {
		eval.SideToMove = "white"
		eval.Lines = []analysis.EvaluationLine{{
			MoveUCI: "e2e4", MoveSAN: "e4",
			Score:   analysis.Score{CP: s.cpWhite},
			LineSAN: []string{"e4", "e5", "Nf3"},
		}}
	}
	return eval
}

func newTestRunner(ev analysis.PositionEvaluator) *Runner {
	resolver := coach.NewResolver(coach.Config{}, zap.NewNop())
	return NewRunner(ev, resolver, zap.NewNop())
}

func TestAnalyzeGameRuyLopez(t *testing.T) {
	r := newTestRunner(sideEval{cpWhite: 30, cpBlack: -20})

	result, err := r.AnalyzeGame(context.Background(), ruyLopezPGN, Options{Level: "intermediate"})
	if err != nil {
		t.Fatalf("AnalyzeGame: %v", err)
	}
	if len(result.Feedback) != 14 {
		t.Fatalf("feedback length = %d, want 14 plies", len(result.Feedback))
	}

	first := result.Feedback[0]
	if first.MoveNo != 1 || first.Side != "white" || first.SAN != "e4" || first.UCI != "e2e4" {
		t.Errorf("first ply = %+v", first)
	}
	if first.CPLoss == nil || *first.CPLoss != 0.10 {
		t.Errorf("first ply loss = %v, want 0.10", first.CPLoss)
	}
	if first.Source != domain.SourceRules || first.Basic == "" {
		t.Errorf("coaching missing on first ply: %+v", first)
	}

	second := result.Feedback[1]
	if second.MoveNo != 1 || second.Side != "black" || second.SAN != "e5" {
		t.Errorf("second ply = %+v", second)
	}
	seventh := result.Feedback[6]
	if seventh.MoveNo != 4 || seventh.Side != "white" || seventh.SAN != "Ba4" {
		t.Errorf("seventh ply = %+v", seventh)
	}
	last := result.Feedback[13]
	if last.MoveNo != 7 || last.Side != "black" || last.SAN != "d6" {
		t.Errorf("last ply = %+v", last)
	}

	sum := result.Summary
	if sum.Moves != 14 {
		t.Errorf("summary moves = %d", sum.Moves)
	}
	if sum.White.ACPL == nil || sum.Black.ACPL == nil {
		t.Fatalf("per-side ACPL must be set for a non-empty game")
	}
	if math.Abs(*sum.White.ACPL-0.10) > 1e-9 || math.Abs(*sum.Black.ACPL-0.10) > 1e-9 {
		t.Errorf("acpl = %v / %v, want 0.10 each", *sum.White.ACPL, *sum.Black.ACPL)
	}
	if *sum.White.BestMoveRate != 100.0 {
		t.Errorf("best move rate = %v", *sum.White.BestMoveRate)
	}
	if len(sum.CriticalPositions) != 0 {
		t.Errorf("no criticals expected, got %v", sum.CriticalPositions)
	}
	if len(sum.Openings) != 2 || sum.Openings[0] != "Ruy Lopez" || sum.Openings[1] != "C70" {
		t.Errorf("openings = %v", sum.Openings)
	}
}

func TestAnalyzeGameCriticalPositions(t *testing.T) {
	// Every ply drops 2.8 pawns for the mover.
	r := newTestRunner(sideEval{cpWhite: 300, cpBlack: -20})

	result, err := r.AnalyzeGame(context.Background(), ruyLopezPGN, Options{MaxPlies: 4})
	if err != nil {
		t.Fatalf("AnalyzeGame: %v", err)
	}
	if len(result.Feedback) != 4 {
		t.Fatalf("max plies ignored, got %d", len(result.Feedback))
	}
	for i, fb := range result.Feedback {
		if fb.Severity != domain.SeverityBlunder {
			t.Errorf("ply %d severity = %s", i+1, fb.Severity)
		}
	}
	want := []int{1, 2, 3, 4}
	if len(result.Summary.CriticalPositions) != len(want) {
		t.Fatalf("criticals = %v, want %v", result.Summary.CriticalPositions, want)
	}
	for i, v := range want {
		if result.Summary.CriticalPositions[i] != v {
			t.Errorf("criticals = %v, want %v", result.Summary.CriticalPositions, want)
		}
	}
	if result.Summary.White.Blunders != 2 || result.Summary.Black.Blunders != 2 {
		t.Errorf("blunder counts = %d / %d",
			result.Summary.White.Blunders, result.Summary.Black.Blunders)
	}
}

func TestAnalyzeGameRejectsEmptyPGN(t *testing.T) {
	r := newTestRunner(sideEval{cpWhite: 30, cpBlack: -20})
	if _, err := r.AnalyzeGame(context.Background(), "[Event \"x\"]\n\n*\n", Options{}); err == nil {
		t.Fatalf("moveless pgn must be rejected")
	}
}

func TestHeaderValue(t *testing.T) {
	if got := headerValue(ruyLopezPGN, "Opening"); got != "Ruy Lopez" {
		t.Errorf("Opening = %q", got)
	}
	if got := headerValue(ruyLopezPGN, "EventDate"); got != "" {
		t.Errorf("missing header should be empty, got %q", got)
	}
}

func TestOpeningTagsFallback(t *testing.T) {
	got := openingTags("[Event \"x\"]\n\n1. e4 *\n")
	if len(got) != 1 || got[0] != "Unknown" {
		t.Errorf("openings = %v", got)
	}
}

func TestAnalyzeFolderContinuesPastFailures(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "analysis")
	if err := os.WriteFile(filepath.Join(dir, "good.pgn"), []byte(ruyLopezPGN), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.pgn"), []byte("this is not a game\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newTestRunner(sideEval{cpWhite: 30, cpBlack: -20})
	report, err := r.AnalyzeFolder(context.Background(), dir, Options{OutputDir: outDir})
	if err != nil {
		t.Fatalf("AnalyzeFolder: %v", err)
	}
	if report.Analyzed != 1 || report.Failed != 1 {
		t.Fatalf("report = %d analyzed, %d failed", report.Analyzed, report.Failed)
	}

	var broken *GameArtifact
	for i := range report.Games {
		if report.Games[i].File == "broken.pgn" {
			broken = &report.Games[i]
		}
	}
	if broken == nil || broken.Err == "" || broken.Result != nil {
		t.Errorf("broken game needs an error artifact: %+v", broken)
	}

	if _, err := os.Stat(filepath.Join(outDir, "good_analysis.json")); err != nil {
		t.Errorf("missing analysis artifact: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "broken_error.json")); err != nil {
		t.Errorf("missing error artifact: %v", err)
	}
}

func TestAnalyzeFolderEmptyDir(t *testing.T) {
	r := newTestRunner(sideEval{})
	if _, err := r.AnalyzeFolder(context.Background(), t.TempDir(), Options{}); err == nil {
		t.Fatalf("folder with no pgn files must error")
	}
}
