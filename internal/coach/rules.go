package coach

import (
	"fmt"
	"strings"

	"github.com/pawnsight/coach/internal/domain"
)

const (
	basicWordLimit    = 15
	extendedWordLimit = 100

	drillBestLinePlies = 12
	drillAltLinePlies  = 8
)

// RuleBasic is the deterministic one-liner, capped at 15 words.
func RuleBasic(t Thresholds, fb *domain.MoveFeedback) string {
	sev := Classify(t, fb.CPLoss)
	if sev == domain.SeverityBest || sev == domain.SeverityGood {
		return truncateWords("Solid move. Keep building your plan.", basicWordLimit)
	}
	if fb.BestMoveSAN != "" {
		return truncateWords(fmt.Sprintf("Better was %s. Consider the threats.", fb.BestMoveSAN), basicWordLimit)
	}
	return truncateWords("Missed stronger option. Improve piece activity.", basicWordLimit)
}

// RuleExtended is the deterministic long-form text, capped at 100 words.
func RuleExtended(fb *domain.MoveFeedback) string {
	var bestLine []string
	if len(fb.MultiPV) > 0 {
		bestLine = fb.MultiPV[0].LineSAN
	}
	if len(bestLine) > 8 {
		bestLine = bestLine[:8]
	}

	loss := 0.0
	if fb.CPLoss != nil {
		loss = *fb.CPLoss
	}
	why := "This improves piece activity and reduces tactical weaknesses."
	if loss >= 0.5 {
		why = "This line protects against threats and gains a positional edge."
	}

	text := fmt.Sprintf("You played %s. Engine prefers %s. Evaluation worsened by %.2f pawns. Main line: %s. %s",
		fb.SAN, fb.BestMoveSAN, loss, strings.Join(bestLine, " "), why)
	return truncateWords(text, extendedWordLimit)
}

// MakeDrills synthesizes practice positions for inaccuracies and worse.
// The objective escalates to a forcing-line task when the main line carries
// check or mate markers.
func MakeDrills(t Thresholds, fb *domain.MoveFeedback) []domain.Drill {
	sev := Classify(t, fb.CPLoss)
	if sev == domain.SeverityBest || sev == domain.SeverityGood {
		return nil
	}

	var bestLine, altLine []string
	if len(fb.MultiPV) > 0 {
		bestLine = fb.MultiPV[0].LineSAN
	}
	if len(fb.MultiPV) > 1 {
		altLine = fb.MultiPV[1].LineSAN
	}

	objective := "Find the best continuation"
	joined := strings.Join(bestLine, " ")
	if len(bestLine) > 0 && (strings.Contains(joined, "#") || strings.Contains(joined, "+")) {
		objective = "Convert advantage: find forcing line"
	}

	return []domain.Drill{{
		FEN:         fb.FENBefore,
		SideToMove:  fb.Side,
		Objective:   objective,
		BestLineSAN: capPlies(bestLine, drillBestLinePlies),
		AltTrapsSAN: capPlies(altLine, drillAltLinePlies),
	}}
}

func capPlies(line []string, n int) []string {
	if len(line) > n {
		line = line[:n]
	}
	return append([]string(nil), line...)
}

func truncateWords(text string, maxWords int) string {
	words := strings.Fields(strings.TrimSpace(text))
	if len(words) <= maxWords {
		return strings.TrimSpace(text)
	}
	return strings.Join(words[:maxWords], " ")
}
