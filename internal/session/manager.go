package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pawnsight/coach/internal/analysis"
	"github.com/pawnsight/coach/internal/coach"
	"github.com/pawnsight/coach/internal/domain"
)

// Engine is what the manager needs from the analysis layer.
type Engine interface {
	Evaluate(ctx context.Context, fen string) *analysis.PositionEvaluation
	EvaluateQuick(ctx context.Context, fen string) *analysis.PositionEvaluation
	BestReply(ctx context.Context, fen string, params analysis.SkillParams) (analysis.EngineReply, error)
}

// CoachResolver produces the coaching fields of a feedback record.
type CoachResolver interface {
	Resolve(ctx context.Context, fb *domain.MoveFeedback, level string, useLLM bool) coach.Result
	Thresholds() coach.Thresholds
}

type ManagerConfig struct {
	UseLLM bool
}

// Manager runs live sessions. ApplyMove is serialized per session id within
// this process; across processes the store is last-write-wins.
type Manager struct {
	store    Store
	engine   Engine
	resolver CoachResolver
	cfg      ManagerConfig
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store Store, engine Engine, resolver CoachResolver, cfg ManagerConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		engine:   engine,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// MoveResult is the outcome of one human move. EngineMove is nil in
// training mode, when the game ended, or when the engine failed to reply.
type MoveResult struct {
	Feedback   *domain.MoveFeedback
	EngineMove *domain.MoveFeedback
	Snapshot   *Snapshot
}

func (m *Manager) Create(ctx context.Context, level string, mode GameMode, startFEN string) (*Session, error) {
	if mode == "" {
		mode = ModeTraining
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown game mode %q", mode)
	}
	game, err := gameFromFEN(startFEN)
	if err != nil {
		return nil, fmt.Errorf("invalid start position: %w", err)
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		Level:     level,
		Mode:      mode,
		Engine:    LevelFor(level),
		FEN:       game.FEN(),
		Moves:     []string{},
		History:   []domain.MoveFeedback{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	m.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("mode", string(mode)),
		zap.String("level", level))
	return sess, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) Snapshot(ctx context.Context, id string) (*Snapshot, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	game, err := gameFromFEN(sess.FEN)
	if err != nil {
		return nil, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	return snapshotOf(sess, game), nil
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
	return m.store.Delete(ctx, id)
}

// ApplyMove validates and analyzes one human move. Illegal moves change
// nothing: the session is only saved after the move and its feedback are
// fully built.
func (m *Manager) ApplyMove(ctx context.Context, id, moveText string) (*MoveResult, error) {
	return m.applyMove(ctx, id, moveText, nil)
}

// StreamMove is ApplyMove with a fast preview: a reduced-budget feedback
// record is passed to onPartial before the full analysis runs.
func (m *Manager) StreamMove(ctx context.Context, id, moveText string, onPartial func(domain.MoveFeedback)) (*MoveResult, error) {
	return m.applyMove(ctx, id, moveText, onPartial)
}

func (m *Manager) applyMove(ctx context.Context, id, moveText string, onPartial func(domain.MoveFeedback)) (*MoveResult, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	game, err := gameFromFEN(sess.FEN)
	if err != nil {
		return nil, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	if game.Outcome() != nchess.NoOutcome {
		return nil, ErrGameOver
	}

	pos := game.Position()
	mv, san, uciStr, err := decodeMove(pos, moveText)
	if err != nil {
		return nil, err
	}

	fenBefore := sess.FEN
	side := colorString(pos.Turn())
	moveNo := len(sess.Moves)/2 + 1

	if onPartial != nil {
		if partial := m.quickFeedback(ctx, sess, fenBefore, moveText, moveNo, side); partial != nil {
			onPartial(*partial)
		}
	}

	cmp, err := analysis.CompareMove(ctx, evalFunc(m.engine.Evaluate), fenBefore, moveText)
	if err != nil {
		if errors.Is(err, analysis.ErrUnknownMove) {
			return nil, ErrIllegalMove
		}
		return nil, err
	}

	if err := game.Move(mv, nil); err != nil {
		return nil, ErrIllegalMove
	}
	fenAfter := game.FEN()

	fb := m.buildFeedback(cmp, moveNo, side, san, uciStr, fenBefore, fenAfter)
	coaching := m.resolver.Resolve(ctx, fb, sess.Level, m.cfg.UseLLM)
	fb.Basic = coaching.Basic
	fb.Extended = coaching.Extended
	fb.Tags = coaching.Tags
	fb.Drills = coaching.Drills
	fb.Source = coaching.Source

	sess.Moves = append(sess.Moves, uciStr)
	sess.History = append(sess.History, *fb)
	sess.FEN = fenAfter

	var engineFb *domain.MoveFeedback
	if sess.Mode == ModePlay && game.Outcome() == nchess.NoOutcome {
		engineFb = m.engineReply(ctx, sess, game)
	}

	sess.UpdatedAt = time.Now().UTC()
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}

	return &MoveResult{
		Feedback:   fb,
		EngineMove: engineFb,
		Snapshot:   snapshotOf(sess, game),
	}, nil
}

// engineReply plays the opponent's move in place. A failed reply leaves the
// session waiting for the engine's turn rather than failing the human move.
func (m *Manager) engineReply(ctx context.Context, sess *Session, game *nchess.Game) *domain.MoveFeedback {
	fenBefore := game.FEN()
	reply, err := m.engine.BestReply(ctx, fenBefore, analysis.SkillParams{
		SkillLevel:     sess.Engine.SkillLevel,
		MoveTimeMillis: sess.Engine.MoveTimeMillis,
	})
	if err != nil {
		m.logger.Warn("engine reply unavailable",
			zap.String("session_id", sess.ID),
			zap.Error(err))
		return nil
	}

	pos := game.Position()
	mv, san, uciStr, err := decodeMove(pos, reply.MoveUCI)
	if err != nil {
		m.logger.Warn("engine reply was not a legal move",
			zap.String("session_id", sess.ID),
			zap.String("move", reply.MoveUCI))
		return nil
	}
	side := colorString(pos.Turn())
	moveNo := len(sess.Moves)/2 + 1
	if err := game.Move(mv, nil); err != nil {
		return nil
	}

	fb := &domain.MoveFeedback{
		MoveNo:    moveNo,
		Side:      side,
		Author:    domain.AuthorEngine,
		SAN:       san,
		UCI:       uciStr,
		FENBefore: fenBefore,
		FENAfter:  game.FEN(),
	}
	sess.Moves = append(sess.Moves, uciStr)
	sess.History = append(sess.History, *fb)
	sess.FEN = game.FEN()
	return fb
}

func (m *Manager) quickFeedback(ctx context.Context, sess *Session, fen, moveText string, moveNo int, side string) *domain.MoveFeedback {
	cmp, err := analysis.CompareMove(ctx, evalFunc(m.engine.EvaluateQuick), fen, moveText)
	if err != nil {
		m.logger.Warn("quick analysis failed",
			zap.String("session_id", sess.ID),
			zap.Error(err))
		return nil
	}

	fb := m.buildFeedback(cmp, moveNo, side, cmp.MoveSAN, cmp.MoveUCI, fen, cmp.After.FEN)
	coaching := m.resolver.Resolve(ctx, fb, sess.Level, false)
	fb.Basic = coaching.Basic
	fb.Source = coaching.Source
	return fb
}

func (m *Manager) buildFeedback(cmp *analysis.MoveComparison, moveNo int, side, san, uciStr, fenBefore, fenAfter string) *domain.MoveFeedback {
	fb := &domain.MoveFeedback{
		MoveNo:      moveNo,
		Side:        side,
		Author:      domain.AuthorHuman,
		SAN:         san,
		UCI:         uciStr,
		FENBefore:   fenBefore,
		FENAfter:    fenAfter,
		CPBefore:    moverPawns(cmp.Before, false),
		CPAfter:     moverPawns(cmp.After, true),
		CPLoss:      cmp.LossPawns,
		Severity:    coach.Classify(m.resolver.Thresholds(), cmp.LossPawns),
		BestMoveSAN: cmp.BestMoveSAN,
		BestMoveUCI: cmp.BestMoveUCI,
		MultiPV:     pvEntries(cmp.Before),
	}
	return fb
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// moverPawns converts the top-line score to pawns from the perspective of
// the player who was to move in fenBefore. The after-evaluation belongs to
// the opponent, so its sign flips.
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

type evalFunc func(ctx context.Context, fen string) *analysis.PositionEvaluation

func (f evalFunc) Evaluate(ctx context.Context, fen string) *analysis.PositionEvaluation {
	return f(ctx, fen)
}

func decodeMove(pos *nchess.Position, moveText string) (*nchess.Move, string, string, error) {
	notationSAN := nchess.AlgebraicNotation{}
	notationUCI := nchess.UCINotation{}
	mv, err := notationSAN.Decode(pos, strings.TrimSpace(moveText))
	if err != nil {
		mv, err = notationUCI.Decode(pos, strings.ToLower(strings.TrimSpace(moveText)))
		if err != nil {
			return nil, "", "", ErrIllegalMove
		}
	}
	san := notationSAN.Encode(pos, mv)
	uciStr := strings.ToLower(notationUCI.Encode(pos, mv))
	return mv, san, uciStr, nil
}

func colorString(c nchess.Color) string {
	if c == nchess.Black {
		return "black"
	}
	return "white"
}

func snapshotOf(sess *Session, game *nchess.Game) *Snapshot {
	snap := &Snapshot{
		ID:         sess.ID,
		Level:      sess.Level,
		Mode:       sess.Mode,
		FEN:        sess.FEN,
		Turn:       colorString(game.Position().Turn()),
		Moves:      append([]string(nil), sess.Moves...),
		History:    append([]domain.MoveFeedback(nil), sess.History...),
		IsGameOver: game.Outcome() != nchess.NoOutcome,
		CreatedAt:  sess.CreatedAt,
		UpdatedAt:  sess.UpdatedAt,
	}
	if outcome := game.Outcome(); outcome != nchess.NoOutcome {
		snap.Outcome = outcome.String()
	}
	return snap
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
