package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pawnsight/coach/internal/analysis"
	"github.com/pawnsight/coach/internal/coach"
	"github.com/pawnsight/coach/internal/config"
	"github.com/pawnsight/coach/internal/obslog"
	"github.com/pawnsight/coach/internal/pipeline"
)

var (
	analyzeLevel   string
	analyzeMaxPly  int
	analyzeNoLLM   bool
	analyzeLLMMode string
	analyzeOutDir  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [pgn file or folder]",
	Short: "Analyze PGN games into per-move coaching feedback",
	Long: `Analyze replays each game with the engine, grades every move, and
produces coaching text plus a game summary.

Given a folder, every .pgn file under it is analyzed; failures are recorded
per game and the run continues.

Examples:
  coach analyze game.pgn
  coach analyze games/ --out games/analysis
  coach analyze game.pgn --level beginner --llm-mode critical`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVar(&analyzeLevel, "level", "intermediate", "player level for coaching tone")
	analyzeCmd.Flags().IntVar(&analyzeMaxPly, "max-plies", 0, "stop after this many plies (0 = whole game)")
	analyzeCmd.Flags().BoolVar(&analyzeNoLLM, "no-llm", false, "rule-based coaching only")
	analyzeCmd.Flags().StringVar(&analyzeLLMMode, "llm-mode", pipeline.LLMModeAll, "which moves go to the LLM: all or critical")
	analyzeCmd.Flags().StringVar(&analyzeOutDir, "out", "", "directory for per-game JSON artifacts")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	analyzer, resolver, err := buildEngineAndCoach(cfg)
	if err != nil {
		return err
	}
	defer analyzer.Close()

	runner := pipeline.NewRunner(analyzer, resolver, obslog.L().Named("pipeline"))
	opts := pipeline.Options{
		Level:     analyzeLevel,
		MaxPlies:  analyzeMaxPly,
		UseLLM:    cfg.UseLLM && !analyzeNoLLM,
		LLMMode:   analyzeLLMMode,
		OutputDir: analyzeOutDir,
	}

	ctx := cmd.Context()
	target := args[0]
	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("open %s: %w", target, err)
	}

	if info.IsDir() {
		report, err := runner.AnalyzeFolder(ctx, target, opts)
		if err != nil {
			return err
		}
		fmt.Printf("Analyzed %d games, %d failed\n", report.Analyzed, report.Failed)
		for _, g := range report.Games {
			if g.Err != "" {
				fmt.Printf("  %s: ERROR %s\n", g.File, g.Err)
				continue
			}
			printSummary(g.File, g.Result)
		}
		return nil
	}

	pgnText, err := os.ReadFile(target)
	if err != nil {
		return fmt.Errorf("read %s: %w", target, err)
	}
	result, err := runner.AnalyzeGame(ctx, string(pgnText), opts)
	if err != nil {
		return err
	}
	printSummary(filepath.Base(target), result)

	if analyzeOutDir != "" {
		return writeResultJSON(analyzeOutDir, target, result)
	}
	return nil
}

func buildEngineAndCoach(cfg *config.AppConfig) (*analysis.Analyzer, *coach.Resolver, error) {
	analyzer, err := analysis.NewAnalyzer(analysis.Config{
		BinaryPath:        cfg.StockfishPath,
		Threads:           cfg.EngineThreads,
		HashMB:            cfg.EngineHashMB,
		MultiPV:           cfg.MultiPV,
		NodesPerLine:      cfg.NodesPerPV,
		QuickNodesPerLine: cfg.QuickNodesPerPV,
		FloorNodes:        cfg.FloorNodes,
		PoolSize:          cfg.EnginePoolSize,
	}, obslog.L().Named("engine"))
	if err != nil {
		return nil, nil, err
	}

	resolver := coach.NewResolver(coach.Config{
		APIKey:         cfg.AIAPIKey,
		Endpoint:       cfg.AIAPIEndpoint,
		Model:          cfg.AIModelName,
		RequestTimeout: cfg.LLMTimeout,
		TotalTimeout:   cfg.LLMTotal,
		Thresholds:     cfg.Thresholds,
	}, obslog.L().Named("coach"))
	return analyzer, resolver, nil
}

func printSummary(name string, result *pipeline.Result) {
	s := result.Summary
	fmt.Printf("%s: %d plies", name, s.Moves)
	if s.White.ACPL != nil && s.Black.ACPL != nil {
		fmt.Printf(", ACPL %.2f/%.2f", *s.White.ACPL, *s.Black.ACPL)
	}
	fmt.Printf(", mistakes %d/%d, blunders %d/%d",
		s.White.Mistakes, s.Black.Mistakes, s.White.Blunders, s.Black.Blunders)
	if len(s.CriticalPositions) > 0 {
		fmt.Printf(", critical plies %v", s.CriticalPositions)
	}
	fmt.Println()
}

func writeResultJSON(dir, source string, result *pipeline.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	name := filepath.Base(source)
	name = name[:len(name)-len(filepath.Ext(name))]
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	out := filepath.Join(dir, name+"_analysis.json")
	if err := os.WriteFile(out, payload, 0o644); err != nil {
		return err
	}
	fmt.Printf("Analysis written to %s\n", out)
	return nil
}
