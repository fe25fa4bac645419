package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/pawnsight/coach/internal/uci"
)

const (
	DefaultMultiPV           = 5
	DefaultNodesPerLine      = 1_000_000
	DefaultQuickNodesPerLine = 50_000
	DefaultFloorNodes        = 500_000

	lineSANPlies = 10
)

type Config struct {
	BinaryPath        string
	Threads           int
	HashMB            int
	MultiPV           int
	NodesPerLine      int
	QuickNodesPerLine int
	FloorNodes        int
	PoolSize          int
}

func (c *Config) applyDefaults() {
	if c.HashMB <= 0 {
		c.HashMB = 256
	}
	if c.MultiPV <= 0 {
		c.MultiPV = DefaultMultiPV
	}
	if c.NodesPerLine <= 0 {
		c.NodesPerLine = DefaultNodesPerLine
	}
	if c.QuickNodesPerLine <= 0 {
		c.QuickNodesPerLine = DefaultQuickNodesPerLine
	}
	if c.FloorNodes <= 0 {
		c.FloorNodes = DefaultFloorNodes
	}
}

// Analyzer owns a session pool and normalizes raw engine output into typed
// evaluation records. Full-strength analysis and strength-limited opponent
// searches run on separate pool buckets.
type Analyzer struct {
	cfg    Config
	pool   *uci.Pool
	logger *zap.Logger
}

func NewAnalyzer(cfg Config, logger *zap.Logger) (*Analyzer, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := uci.NewPool(uci.PoolConfig{
		BinaryPath:     cfg.BinaryPath,
		PerKeyCapacity: cfg.PoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create engine pool: %w", err)
	}

	return &Analyzer{cfg: cfg, pool: pool, logger: logger}, nil
}

func (a *Analyzer) Close() error {
	return a.pool.Close()
}

// Evaluate runs the full-budget MultiPV analysis:
// nodes = max(nodesPerLine * multiPV, floorNodes).
func (a *Analyzer) Evaluate(ctx context.Context, fen string) *PositionEvaluation {
	return a.evaluate(ctx, fen, a.cfg.NodesPerLine)
}

// EvaluateQuick runs a reduced-budget pass for fast previews.
func (a *Analyzer) EvaluateQuick(ctx context.Context, fen string) *PositionEvaluation {
	return a.evaluate(ctx, fen, a.cfg.QuickNodesPerLine)
}

func (a *Analyzer) evaluate(ctx context.Context, fen string, nodesPerLine int) *PositionEvaluation {
	eval := &PositionEvaluation{
		FEN:        fen,
		SideToMove: sideToMoveFromFEN(fen),
	}

	opt := uci.Options{
		Threads:    a.cfg.Threads,
		HashMB:     a.cfg.HashMB,
		MultiPV:    a.cfg.MultiPV,
		SkillLevel: 20,
	}

	started := time.Now()
	resp, err := a.search(ctx, opt, uci.SearchRequest{
		FEN:    fen,
		Limits: uci.Limits{Nodes: nodeBudget(nodesPerLine, a.cfg.MultiPV, a.cfg.FloorNodes)},
	})
	eval.Elapsed = time.Since(started)
	if err != nil {
		a.logger.Warn("engine evaluation failed",
			zap.String("fen", fen),
			zap.Error(err))
		eval.Unavailable = true
		eval.Err = err.Error()
		return eval
	}

	eval.Nodes = resp.Nodes
	eval.Depth = resp.Depth
	eval.Lines = normalizeLines(fen, resp.Candidates)
	if len(eval.Lines) == 0 {
		eval.Unavailable = true
		eval.Err = "engine returned no principal variations"
	}
	return eval
}

// BestReply asks a strength-limited engine for a single move, for play-mode
// sessions where the engine is the opponent.
func (a *Analyzer) BestReply(ctx context.Context, fen string, params SkillParams) (EngineReply, error) {
	moveTime := params.MoveTimeMillis
	if moveTime <= 0 {
		moveTime = 800
	}
	opt := uci.Options{
		Threads:    a.cfg.Threads,
		HashMB:     a.cfg.HashMB,
		MultiPV:    1,
		SkillLevel: params.SkillLevel,
	}

	resp, err := a.search(ctx, opt, uci.SearchRequest{
		FEN:    fen,
		Limits: uci.Limits{MoveTimeMillis: moveTime},
	})
	if err != nil {
		return EngineReply{}, fmt.Errorf("engine reply: %w", err)
	}
	if resp.BestMove == "" || resp.BestMove == "(none)" {
		return EngineReply{}, fmt.Errorf("engine reply: no legal move for %q", fen)
	}

	reply := EngineReply{MoveUCI: strings.ToLower(resp.BestMove)}
	if san, ok := sanForUCI(fen, reply.MoveUCI); ok {
		reply.MoveSAN = san
	}
	return reply, nil
}

func (a *Analyzer) search(ctx context.Context, opt uci.Options, req uci.SearchRequest) (uci.SearchResponse, error) {
	session, err := a.pool.Acquire(ctx, opt)
	if err != nil {
		return uci.SearchResponse{}, fmt.Errorf("acquire session: %w", err)
	}

	resp, err := session.Search(ctx, req)
	a.pool.Release(session, err)
	if err != nil {
		return uci.SearchResponse{}, fmt.Errorf("search: %w", err)
	}
	return resp, nil
}

func nodeBudget(nodesPerLine, multiPV, floor int) int {
	budget := nodesPerLine * multiPV
	if budget < floor {
		budget = floor
	}
	return budget
}

// normalizeLines converts raw candidates to SAN against the analyzed
// position. Candidates whose first move cannot be decoded are skipped.
func normalizeLines(fen string, candidates []uci.Candidate) []EvaluationLine {
	lines := make([]EvaluationLine, 0, len(candidates))
	for _, c := range candidates {
		sanMoves := sanLine(fen, c.Principal, lineSANPlies)
		if len(sanMoves) == 0 {
			continue
		}
		lines = append(lines, EvaluationLine{
			MoveUCI: strings.ToLower(c.MoveUCI),
			MoveSAN: sanMoves[0],
			Score:   Score{CP: c.CP, Mate: c.Mate},
			LineSAN: sanMoves,
		})
	}
	return lines
}

// sanLine replays a UCI principal variation from fen and returns it in SAN,
// truncated to maxPlies. Replay stops at the first undecodable move.
func sanLine(fen string, pv []string, maxPlies int) []string {
	game, err := gameFromFEN(fen)
	if err != nil {
		return nil
	}

	notationUCI := nchess.UCINotation{}
	notationSAN := nchess.AlgebraicNotation{}
	out := make([]string, 0, maxPlies)
	for _, mvText := range pv {
		if len(out) >= maxPlies {
			break
		}
		pos := game.Position()
		mv, err := notationUCI.Decode(pos, strings.ToLower(mvText))
		if err != nil {
			break
		}
		san := notationSAN.Encode(pos, mv)
		if err := game.Move(mv, nil); err != nil {
			break
		}
		out = append(out, san)
	}
	return out
}

func sanForUCI(fen, uciMove string) (string, bool) {
	moves := sanLine(fen, []string{uciMove}, 1)
	if len(moves) == 0 {
		return "", false
	}
	return moves[0], true
}

func gameFromFEN(fen string) (*nchess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	return nchess.NewGame(opt), nil
}

func sideToMoveFromFEN(fen string) string {
	game, err := gameFromFEN(fen)
	if err != nil {
		return ""
	}
	if game.Position().Turn() == nchess.Black {
		return "black"
	}
	return "white"
}
