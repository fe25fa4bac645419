package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/pawnsight/coach/internal/domain"
)

const (
	DefaultRequestTimeout = 8 * time.Second
	DefaultTotalTimeout   = 12 * time.Second
)

type Config struct {
	APIKey         string
	Endpoint       string
	Model          string
	RequestTimeout time.Duration
	TotalTimeout   time.Duration
	Thresholds     Thresholds
}

// Result is resolved coaching for one move. Source is "llm" only when the
// model call succeeded end to end; every failure path yields rule output.
type Result struct {
	Basic    string
	Extended string
	Tags     []string
	Drills   []domain.Drill
	Source   string
}

// Resolver produces coaching text for a move, preferring the configured
// LLM and falling back to deterministic rules.
type Resolver struct {
	cfg        Config
	client     openai.Client
	haveClient bool
	logger     *zap.Logger

	missingKeyOnce sync.Once
}

func NewResolver(cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = DefaultTotalTimeout
	}
	if cfg.TotalTimeout < cfg.RequestTimeout {
		cfg.TotalTimeout = cfg.RequestTimeout
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}

	r := &Resolver{cfg: cfg, logger: logger}
	if cfg.APIKey != "" {
		opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
		if cfg.Endpoint != "" {
			opts = append(opts, option.WithBaseURL(cfg.Endpoint))
		}
		r.client = openai.NewClient(opts...)
		r.haveClient = true
	}
	return r
}

func (r *Resolver) Thresholds() Thresholds { return r.cfg.Thresholds }

// Resolve always computes the rule-based result first, so the LLM path can
// fail at any point without leaving the move uncoached.
func (r *Resolver) Resolve(ctx context.Context, fb *domain.MoveFeedback, level string, useLLM bool) Result {
	fallback := Result{
		Basic:    RuleBasic(r.cfg.Thresholds, fb),
		Extended: RuleExtended(fb),
		Tags:     []string{},
		Drills:   MakeDrills(r.cfg.Thresholds, fb),
		Source:   domain.SourceRules,
	}

	if !useLLM {
		return fallback
	}
	if !r.haveClient {
		r.missingKeyOnce.Do(func() {
			r.logger.Warn("LLM credential not set, using rule-based coaching")
		})
		return fallback
	}

	result, err := r.callLLM(ctx, fb, level, fallback)
	if err != nil {
		r.logger.Warn("LLM coaching failed, falling back to rules",
			zap.String("san", fb.SAN),
			zap.Error(err))
		return fallback
	}
	return result
}

type llmDrill struct {
	Objective   string   `json:"objective"`
	BestLineSAN []string `json:"best_line_san"`
	AltTrapsSAN []string `json:"alt_traps_san"`
}

type llmPayload struct {
	Basic    string     `json:"basic"`
	Extended string     `json:"extended"`
	Tags     []string   `json:"tags"`
	Drills   []llmDrill `json:"drills"`
}

func (r *Resolver) callLLM(ctx context.Context, fb *domain.MoveFeedback, level string, fallback Result) (Result, error) {
	totalCtx, cancelTotal := context.WithTimeout(ctx, r.cfg.TotalTimeout)
	defer cancelTotal()
	reqCtx, cancelReq := context.WithTimeout(totalCtx, r.cfg.RequestTimeout)
	defer cancelReq()

	prompt, err := buildPrompt(fb, level)
	if err != nil {
		return Result{}, err
	}

	completion, err := r.client.Chat.Completions.New(reqCtx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(r.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a concise chess coach that outputs strict JSON."),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Result{}, fmt.Errorf("chat completion: empty response")
	}

	var payload llmPayload
	content := stripFences(completion.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return Result{}, fmt.Errorf("decode coaching JSON: %w", err)
	}

	result := Result{
		Basic:    truncateWords(firstNonEmpty(payload.Basic, fallback.Basic), basicWordLimit),
		Extended: truncateWords(firstNonEmpty(payload.Extended, fallback.Extended), extendedWordLimit),
		Tags:     payload.Tags,
		Drills:   normalizeDrills(fb, payload.Drills),
		Source:   domain.SourceLLM,
	}
	if result.Tags == nil {
		result.Tags = []string{}
	}
	if len(result.Drills) == 0 {
		result.Drills = fallback.Drills
	}
	return result, nil
}

func buildPrompt(fb *domain.MoveFeedback, level string) (string, error) {
	structured, err := json.Marshal(map[string]any{
		"san":           fb.SAN,
		"best_move_san": fb.BestMoveSAN,
		"cp_loss":       fb.CPLoss,
		"side":          fb.Side,
		"multipv":       fb.MultiPV,
	})
	if err != nil {
		return "", fmt.Errorf("encode move data: %w", err)
	}

	return fmt.Sprintf("You are a concise chess coach. Given a move and engine data, "+
		"return JSON with: basic (<=15 words), extended (<=100 words), "+
		"tags (array), and drills (array of {objective, best_line_san}). "+
		"Player level: %s. Ground advice in PV; do not contradict engine.\n\n"+
		"Data:\n%s\n\n"+
		"Return only a JSON object with keys: basic, extended, tags, drills.",
		level, structured), nil
}

// normalizeDrills keeps at most two model drills and pins position fields
// to the move being coached; the model never chooses the FEN.
func normalizeDrills(fb *domain.MoveFeedback, drills []llmDrill) []domain.Drill {
	if len(drills) > 2 {
		drills = drills[:2]
	}
	out := make([]domain.Drill, 0, len(drills))
	for _, d := range drills {
		objective := d.Objective
		if objective == "" {
			objective = "Find the best continuation"
		}
		out = append(out, domain.Drill{
			FEN:         fb.FENBefore,
			SideToMove:  fb.Side,
			Objective:   objective,
			BestLineSAN: capPlies(d.BestLineSAN, drillBestLinePlies),
			AltTrapsSAN: capPlies(d.AltTrapsSAN, drillAltLinePlies),
		})
	}
	return out
}

// stripFences tolerates models that wrap JSON in markdown code fences.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```json") {
		content = content[len("```json"):]
	} else if strings.HasPrefix(content, "```") {
		content = content[len("```"):]
	}
	if strings.HasSuffix(content, "```") {
		content = content[:len(content)-len("```")]
	}
	return strings.TrimSpace(content)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
