package coach

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/pawnsight/coach/internal/domain"
)

func fl(v float64) *float64 { return &v }

func TestClassifyThresholdEdges(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		loss *float64
		want domain.Severity
	}{
		{fl(0), domain.SeverityBest},
		{fl(0.05), domain.SeverityBest},
		{fl(0.06), domain.SeverityGood},
		{fl(0.20), domain.SeverityGood},
		{fl(0.50), domain.SeverityInaccuracy},
		{fl(1.50), domain.SeverityMistake},
		{fl(1.51), domain.SeverityBlunder},
		{fl(-0.80), domain.SeverityBlunder}, // classified on magnitude
		{nil, domain.SeverityGood},
	}
	for _, tc := range cases {
		if got := Classify(th, tc.loss); got != tc.want {
			t.Errorf("Classify(%v) = %s, want %s", tc.loss, got, tc.want)
		}
	}
}

func TestClassifyMonotonic(t *testing.T) {
	th := DefaultThresholds()
	prev := -1
	for _, loss := range []float64{0, 0.04, 0.1, 0.3, 0.9, 2.0, 9.9} {
		rank := Classify(th, fl(loss)).Rank()
		if rank < prev {
			t.Fatalf("severity rank decreased at loss %v", loss)
		}
		prev = rank
	}
}

func TestThresholdsValidate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	bad := Thresholds{Best: 0.2, Good: 0.1, Inaccuracy: 0.5, Mistake: 1.5}
	if err := bad.Validate(); err == nil {
		t.Errorf("non-increasing thresholds must be rejected")
	}
}

func TestRuleBasicWordCapAndContent(t *testing.T) {
	th := DefaultThresholds()

	good := &domain.MoveFeedback{SAN: "e4", CPLoss: fl(0.02)}
	if got := RuleBasic(th, good); !strings.HasPrefix(got, "Solid move") {
		t.Errorf("good move text = %q", got)
	}

	bad := &domain.MoveFeedback{SAN: "h4", CPLoss: fl(1.2), BestMoveSAN: "Nf3"}
	got := RuleBasic(th, bad)
	if !strings.Contains(got, "Nf3") {
		t.Errorf("weak move text should name the better move, got %q", got)
	}
	if len(strings.Fields(got)) > 15 {
		t.Errorf("basic text exceeds 15 words: %q", got)
	}
}

func TestRuleExtendedWordCap(t *testing.T) {
	fb := &domain.MoveFeedback{
		SAN:         "h4",
		BestMoveSAN: "Nf3",
		CPLoss:      fl(0.9),
		MultiPV: []domain.PVEntry{{
			MoveSAN: "Nf3",
			LineSAN: []string{"Nf3", "Nc6", "Bb5", "a6", "Ba4", "Nf6", "O-O", "Be7", "Re1", "b5"},
		}},
	}
	got := RuleExtended(fb)
	if len(strings.Fields(got)) > 100 {
		t.Errorf("extended text exceeds 100 words")
	}
	if !strings.Contains(got, "h4") || !strings.Contains(got, "Nf3") {
		t.Errorf("extended text should mention played and best moves: %q", got)
	}
}

func TestTruncateWords(t *testing.T) {
	if got := truncateWords("one two three four", 2); got != "one two" {
		t.Errorf("truncateWords = %q", got)
	}
	if got := truncateWords("  padded text  ", 10); got != "padded text" {
		t.Errorf("truncateWords should trim, got %q", got)
	}
}

func TestMakeDrills(t *testing.T) {
	th := DefaultThresholds()

	solid := &domain.MoveFeedback{CPLoss: fl(0.01)}
	if drills := MakeDrills(th, solid); len(drills) != 0 {
		t.Errorf("solid moves produce no drills")
	}

	blunder := &domain.MoveFeedback{
		Side:      "white",
		FENBefore: "r1bqkbnr/pppp1ppp/2n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R w KQkq - 2 3",
		CPLoss:    fl(2.4),
		MultiPV: []domain.PVEntry{
			{LineSAN: []string{"Bb5", "a6", "Bxc6", "dxc6", "Nxe5", "Qd4", "Nf3", "Qxe4+", "Qe2", "Qxe2+", "Kxe2", "Bg4", "Rd1"}},
			{LineSAN: []string{"Bc4", "Bc5", "c3", "Nf6", "d3", "d6", "O-O", "a6", "Re1"}},
		},
	}
	drills := MakeDrills(th, blunder)
	if len(drills) != 1 {
		t.Fatalf("got %d drills, want 1", len(drills))
	}
	d := drills[0]
	if d.FEN != blunder.FENBefore || d.SideToMove != "white" {
		t.Errorf("drill position fields wrong: %+v", d)
	}
	if d.Objective != "Convert advantage: find forcing line" {
		t.Errorf("forcing line in PV should escalate the objective, got %q", d.Objective)
	}
	if len(d.BestLineSAN) != 12 || len(d.AltTrapsSAN) != 8 {
		t.Errorf("line caps wrong: best %d alt %d", len(d.BestLineSAN), len(d.AltTrapsSAN))
	}
}

func TestMakeDrillsQuietObjective(t *testing.T) {
	fb := &domain.MoveFeedback{
		Side:      "black",
		FENBefore: "startpos",
		CPLoss:    fl(0.6),
		MultiPV:   []domain.PVEntry{{LineSAN: []string{"d5", "c4", "e6"}}},
	}
	drills := MakeDrills(DefaultThresholds(), fb)
	if len(drills) != 1 || drills[0].Objective != "Find the best continuation" {
		t.Errorf("quiet line should keep the default objective: %+v", drills)
	}
}

func TestResolveRulesProvenanceWhenLLMDisabled(t *testing.T) {
	r := NewResolver(Config{}, zap.NewNop())
	fb := &domain.MoveFeedback{SAN: "e4", CPLoss: fl(0.01)}

	res := r.Resolve(context.Background(), fb, "intermediate", false)
	if res.Source != domain.SourceRules {
		t.Errorf("source = %q, want rules", res.Source)
	}
	if res.Basic == "" || res.Extended == "" {
		t.Errorf("rule texts must always be present")
	}
	if res.Tags == nil {
		t.Errorf("tags must be an empty slice, not nil")
	}
}

func TestResolveRulesProvenanceWithoutCredential(t *testing.T) {
	r := NewResolver(Config{Model: "gpt-4o-mini"}, zap.NewNop())
	fb := &domain.MoveFeedback{SAN: "h4", CPLoss: fl(1.0), BestMoveSAN: "Nf3"}

	for i := 0; i < 3; i++ {
		res := r.Resolve(context.Background(), fb, "beginner", true)
		if res.Source != domain.SourceRules {
			t.Fatalf("source = %q, want rules when no credential is set", res.Source)
		}
	}
}

func TestStripFences(t *testing.T) {
	want := "{\"basic\":\"x\"}"
	for _, in := range []string{
		"{\"basic\":\"x\"}",
		"```json\n{\"basic\":\"x\"}\n```",
		"```\n{\"basic\":\"x\"}\n```",
		"  ```json\n{\"basic\":\"x\"}\n```  ",
	} {
		if got := stripFences(in); got != want {
			t.Errorf("stripFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeDrills(t *testing.T) {
	fb := &domain.MoveFeedback{Side: "white", FENBefore: "some-fen"}
	drills := normalizeDrills(fb, []llmDrill{
		{Objective: "", BestLineSAN: []string{"Nf3"}},
		{Objective: "Punish the pin"},
		{Objective: "dropped, over the cap"},
	})
	if len(drills) != 2 {
		t.Fatalf("got %d drills, want 2", len(drills))
	}
	if drills[0].Objective != "Find the best continuation" {
		t.Errorf("empty objective should default, got %q", drills[0].Objective)
	}
	if drills[0].FEN != "some-fen" || drills[1].SideToMove != "white" {
		t.Errorf("position fields must come from the move, got %+v", drills)
	}
}
