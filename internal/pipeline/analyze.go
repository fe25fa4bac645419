// Package pipeline runs whole-game and folder batch analysis.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/pawnsight/coach/internal/analysis"
	"github.com/pawnsight/coach/internal/coach"
	"github.com/pawnsight/coach/internal/domain"
)

// LLM policy for batch runs.
const (
	LLMModeAll      = "all"
	LLMModeCritical = "critical"
)

type Options struct {
	Level    string
	MaxPlies int
	UseLLM   bool
	LLMMode  string
	// OutputDir makes AnalyzeFolder write one JSON artifact per game.
	OutputDir string
}

// Coach produces the coaching fields of a feedback record.
type Coach interface {
	Resolve(ctx context.Context, fb *domain.MoveFeedback, level string, useLLM bool) coach.Result
	Thresholds() coach.Thresholds
}

// Result is the full analysis of one game.
type Result struct {
	Feedback []domain.MoveFeedback `json:"moves"`
	Summary  domain.GameSummary    `json:"summary"`
}

type Runner struct {
	evaluator analysis.PositionEvaluator
	coach     Coach
	logger    *zap.Logger
}

func NewRunner(evaluator analysis.PositionEvaluator, c Coach, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{evaluator: evaluator, coach: c, logger: logger}
}

// AnalyzeGame replays a PGN and produces per-ply feedback plus a summary.
// With LLMMode "critical", only mistakes and blunders go to the model.
func (r *Runner) AnalyzeGame(ctx context.Context, pgnText string, opts Options) (*Result, error) {
	if opts.Level == "" {
		opts.Level = "intermediate"
	}
	if opts.LLMMode == "" {
		opts.LLMMode = LLMModeAll
	}

	pgnOpt, err := nchess.PGN(strings.NewReader(pgnText))
	if err != nil {
		return nil, fmt.Errorf("parse pgn: %w", err)
	}
	parsed := nchess.NewGame(pgnOpt)
	moves := parsed.Moves()
	if len(moves) == 0 {
		return nil, fmt.Errorf("pgn contains no moves")
	}

	notationSAN := nchess.AlgebraicNotation{}
	notationUCI := nchess.UCINotation{}
	replay := nchess.NewGame()
	feedback := make([]domain.MoveFeedback, 0, len(moves))

	for ply, mv := range moves {
		if opts.MaxPlies > 0 && ply >= opts.MaxPlies {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pos := replay.Position()
		side := "white"
		if pos.Turn() == nchess.Black {
			side = "black"
		}
		san := notationSAN.Encode(pos, mv)
		uciStr := strings.ToLower(notationUCI.Encode(pos, mv))
		fenBefore := replay.FEN()

		cmp, err := analysis.CompareMove(ctx, r.evaluator, fenBefore, uciStr)
		if err != nil {
			return nil, fmt.Errorf("ply %d (%s): %w", ply+1, san, err)
		}
		if err := replay.Move(mv, nil); err != nil {
			return nil, fmt.Errorf("ply %d (%s): replay: %w", ply+1, san, err)
		}

		fb := domain.MoveFeedback{
			MoveNo:      ply/2 + 1,
			Side:        side,
			Author:      domain.AuthorHuman,
			SAN:         san,
			UCI:         uciStr,
			FENBefore:   fenBefore,
			FENAfter:    replay.FEN(),
			CPBefore:    moverPawns(cmp.Before, false),
			CPAfter:     moverPawns(cmp.After, true),
			CPLoss:      cmp.LossPawns,
			Severity:    coach.Classify(r.coach.Thresholds(), cmp.LossPawns),
			BestMoveSAN: cmp.BestMoveSAN,
			BestMoveUCI: cmp.BestMoveUCI,
			MultiPV:     pvEntries(cmp.Before),
		}

		useLLM := opts.UseLLM && (opts.LLMMode == LLMModeAll || fb.Severity.IsCritical())
		coaching := r.coach.Resolve(ctx, &fb, opts.Level, useLLM)
		fb.Basic = coaching.Basic
		fb.Extended = coaching.Extended
		fb.Tags = coaching.Tags
		fb.Drills = coaching.Drills
		fb.Source = coaching.Source

		feedback = append(feedback, fb)
	}

	return &Result{
		Feedback: feedback,
		Summary:  summarize(feedback, openingTags(pgnText)),
	}, nil
}

func summarize(feedback []domain.MoveFeedback, openings []string) domain.GameSummary {
	summary := domain.GameSummary{
		Moves:             len(feedback),
		White:             sideStats(feedback, "white"),
		Black:             sideStats(feedback, "black"),
		Openings:          openings,
		CriticalPositions: []int{},
		AnalyzedAt:        time.Now().UTC(),
	}
	for i, fb := range feedback {
		if fb.Severity.IsCritical() {
			summary.CriticalPositions = append(summary.CriticalPositions, i+1)
		}
	}
	return summary
}

func sideStats(feedback []domain.MoveFeedback, side string) domain.SideStats {
	stats := domain.SideStats{}
	var lossSum float64
	var bestCount int
	for _, fb := range feedback {
		if fb.Side != side {
			continue
		}
		stats.Moves++
		if fb.CPLoss != nil {
			if *fb.CPLoss < 0 {
				lossSum -= *fb.CPLoss
			} else {
				lossSum += *fb.CPLoss
			}
		}
		switch fb.Severity {
		case domain.SeverityBest, domain.SeverityGood:
			bestCount++
		case domain.SeverityMistake:
			stats.Mistakes++
		case domain.SeverityBlunder:
			stats.Blunders++
		}
	}
	if stats.Moves > 0 {
		acpl := lossSum / float64(stats.Moves)
		rate := float64(bestCount) * 100.0 / float64(stats.Moves)
		stats.ACPL = &acpl
		stats.BestMoveRate = &rate
	}
	return stats
}

// openingTags pulls opening metadata out of the PGN header section.
func openingTags(pgnText string) []string {
	var tags []string
	for _, key := range []string{"Opening", "Variation", "ECO"} {
		if v := headerValue(pgnText, key); v != "" && v != "?" {
			tags = append(tags, v)
		}
	}
	if len(tags) == 0 {
		tags = []string{"Unknown"}
	}
	return tags
}

func headerValue(pgnText, key string) string {
	for _, line := range strings.Split(pgnText, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "["+key+" \"") {
			continue
		}
		rest := strings.TrimPrefix(line, "["+key+" \"")
		if end := strings.Index(rest, "\""); end >= 0 {
			return rest[:end]
		}
	}
	return ""
}

func moverPawns(ev *analysis.PositionEvaluation, invert bool) *float64 {
	best := ev.Best()
	if best == nil || best.Score.IsMate() {
		return nil
	}
	v := float64(best.Score.CP) / 100.0
	if invert {
		v = -v
	}
	return &v
}

func pvEntries(ev *analysis.PositionEvaluation) []domain.PVEntry {
	if ev == nil || len(ev.Lines) == 0 {
		return nil
	}
	out := make([]domain.PVEntry, 0, len(ev.Lines))
	for _, line := range ev.Lines {
		out = append(out, domain.PVEntry{
			MoveSAN: line.MoveSAN,
			MoveUCI: line.MoveUCI,
			CP:      line.Score.CP,
			Mate:    line.Score.Mate,
			LineSAN: append([]string(nil), line.LineSAN...),
		})
	}
	return out
}
