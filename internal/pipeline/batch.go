package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// GameArtifact is the per-file outcome of a folder run. Exactly one of
// Result and Err is set.
type GameArtifact struct {
	File   string  `json:"file"`
	Result *Result `json:"result,omitempty"`
	Err    string  `json:"error,omitempty"`
}

type BatchReport struct {
	Games    []GameArtifact `json:"games"`
	Analyzed int            `json:"analyzed"`
	Failed   int            `json:"failed"`
}

// AnalyzeFolder runs every .pgn file under dir. A game that fails to parse
// or analyze is recorded as an error artifact and the run continues.
func (r *Runner) AnalyzeFolder(ctx context.Context, dir string, opts Options) (*BatchReport, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".pgn") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no pgn files under %s", dir)
	}

	if opts.OutputDir != "" {
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}

	report := &BatchReport{Games: make([]GameArtifact, 0, len(files))}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		artifact := GameArtifact{File: filepath.Base(path)}
		pgnText, err := os.ReadFile(path)
		if err == nil {
			var result *Result
			result, err = r.AnalyzeGame(ctx, string(pgnText), opts)
			artifact.Result = result
		}
		if err != nil {
			artifact.Err = err.Error()
			report.Failed++
			r.logger.Warn("game analysis failed",
				zap.String("file", artifact.File),
				zap.Error(err))
		} else {
			report.Analyzed++
			r.logger.Info("game analyzed",
				zap.String("file", artifact.File),
				zap.Int("moves", artifact.Result.Summary.Moves))
		}

		if opts.OutputDir != "" {
			if werr := writeArtifact(opts.OutputDir, artifact); werr != nil {
				r.logger.Warn("failed to write analysis artifact",
					zap.String("file", artifact.File),
					zap.Error(werr))
			}
		}
		report.Games = append(report.Games, artifact)
	}
	return report, nil
}

func writeArtifact(dir string, artifact GameArtifact) error {
	name := strings.TrimSuffix(artifact.File, filepath.Ext(artifact.File))
	suffix := "_analysis.json"
	if artifact.Err != "" {
		suffix = "_error.json"
	}

	payload, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, name+suffix), payload, 0o644)
}
