package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pawnsight/coach/internal/config"
	"github.com/pawnsight/coach/internal/obslog"
	"github.com/pawnsight/coach/internal/session"
)

var (
	playLevel string
	playMode  string
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Start an interactive coached session",
	Long: `Play runs a live session on stdin. Every move you enter (SAN or UCI)
is analyzed and coached; in play mode the engine answers at the chosen
strength, in training mode you move for both sides.

Commands inside the session: fen, moves, quit.`,
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)
	playCmd.Flags().StringVar(&playLevel, "level", "intermediate",
		"engine strength: "+strings.Join(session.Levels(), ", "))
	playCmd.Flags().StringVar(&playMode, "mode", string(session.ModePlay), "play or training")
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	analyzer, resolver, err := buildEngineAndCoach(cfg)
	if err != nil {
		return err
	}
	defer analyzer.Close()

	logger := obslog.L().Named("session")
	var store session.Store = session.NewMemStore()
	if cfg.RedisURL != "" {
		redisStore, err := session.NewRedisStoreFromURL(cfg.RedisURL, cfg.SessionTTL, logger)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		store = redisStore
	}

	manager := session.NewManager(store, analyzer, resolver,
		session.ManagerConfig{UseLLM: cfg.UseLLM}, logger)

	ctx := cmd.Context()
	sess, err := manager.Create(ctx, playLevel, session.GameMode(playMode), "")
	if err != nil {
		return err
	}
	fmt.Printf("Session %s (%s, %s). You are White. Enter moves in SAN or UCI.\n",
		sess.ID, playMode, playLevel)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "quit", "exit":
			return manager.Delete(ctx, sess.ID)
		case "fen":
			snap, err := manager.Snapshot(ctx, sess.ID)
			if err != nil {
				return err
			}
			fmt.Println(snap.FEN)
			continue
		case "moves":
			snap, err := manager.Snapshot(ctx, sess.ID)
			if err != nil {
				return err
			}
			fmt.Println(strings.Join(snap.Moves, " "))
			continue
		}

		res, err := manager.ApplyMove(ctx, sess.ID, input)
		if errors.Is(err, session.ErrIllegalMove) {
			fmt.Printf("Illegal move: %s\n", input)
			continue
		}
		if errors.Is(err, session.ErrGameOver) {
			fmt.Println("Game is over.")
			return manager.Delete(ctx, sess.ID)
		}
		if err != nil {
			return err
		}

		fb := res.Feedback
		fmt.Printf("%s (%s): %s\n", fb.SAN, fb.Severity, fb.Basic)
		if fb.Extended != "" {
			fmt.Println(fb.Extended)
		}
		if res.EngineMove != nil {
			fmt.Printf("Engine plays %s\n", res.EngineMove.SAN)
		}
		if res.Snapshot.IsGameOver {
			fmt.Printf("Game over: %s\n", res.Snapshot.Outcome)
			return manager.Delete(ctx, sess.ID)
		}
	}
	return scanner.Err()
}
