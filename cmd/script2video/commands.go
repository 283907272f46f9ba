package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ivlev/script2video/internal/analyzer"
	"github.com/ivlev/script2video/internal/director"
	"github.com/ivlev/script2video/internal/engine"
	"github.com/ivlev/script2video/internal/gemini"
	"github.com/ivlev/script2video/internal/scheduler"
	"github.com/ivlev/script2video/internal/source"
	"github.com/ivlev/script2video/internal/store"
	"github.com/ivlev/script2video/internal/system"
	"github.com/ivlev/script2video/internal/video"
)

var (
	framesOnly bool
	maxShots   int
	watch      bool
	runID      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Plan, generate frames and videos, and assemble the final video",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if cmd.Flags().Changed("frames-only") {
			cfg.Render.FramesOnly = framesOnly
		}
		if cmd.Flags().Changed("max-shots") {
			cfg.MaxShots = maxShots
		}

		host, err := system.Inspect(ctx)
		if err != nil {
			logger.Warn("host inspection failed", zap.Error(err))
		} else if n := host.Concurrency(); n < cfg.Scheduler.MaxConcurrent {
			logger.Info("concurrency capped by host", zap.Int("max_concurrent", n))
			cfg.Scheduler.MaxConcurrent = n
		}

		st, err := store.New(cfg.WorkingDir)
		if err != nil {
			return err
		}
		ledger, err := openLedger(ctx, st)
		if err != nil {
			return err
		}
		defer ledger.Close()

		client, err := gemini.New(ctx, cfg.Gemini, logger)
		if err != nil {
			return err
		}
		assets, err := loadAssets(cfg.Assets)
		if err != nil {
			return err
		}
		ff, err := newFFmpeg()
		if err != nil {
			return err
		}

		project := engine.NewProject(cfg, st, engine.Deps{
			Proposer: client,
			Frames: scheduler.Deps{
				Selector:    client,
				Images:      client,
				Transitions: client,
				Picker:      client,
				Frames:      ff,
				Assets:      assets,
			},
			Videos:    client,
			Assembler: ff,
			Duration:  system.ProbeDuration,
			Ledger:    ledger,
		}, logger)

		if err := project.Run(ctx); err != nil {
			return err
		}
		if !cfg.Render.FramesOnly && !cfg.InteractiveMode && cfg.Render.FinalVideo {
			fmt.Fprintf(cmd.OutOrStdout(), "[+++] Успех! Результат: %s\n", st.FinalVideoPath())
		}
		return nil
	},
}

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Build (or show the stored) camera tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		project, err := planningProject(ctx)
		if err != nil {
			return err
		}
		cat, _, err := project.LoadCatalog()
		if err != nil {
			return err
		}
		cams, err := project.CameraTree(ctx, cat)
		if err != nil {
			return err
		}

		table := newTable(cmd.OutOrStdout(), "CAMERA", "SHOTS", "PARENT", "FULL", "REASON")
		for _, c := range cams {
			parent := "root"
			if c.HasParent() {
				parent = fmt.Sprintf("camera %d / shot %d", *c.ParentCameraID, *c.ParentShotIdx)
			}
			table.Append([]string{
				strconv.Itoa(c.ID),
				fmt.Sprint(c.ActiveShotIdxs),
				parent,
				strconv.FormatBool(c.FullyCoversChild),
				c.Reason,
			})
		}
		table.Render()
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the continuity check and write its report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		project, err := planningProject(ctx)
		if err != nil {
			return err
		}
		if !watch {
			return check(ctx, cmd, project)
		}
		if err := check(ctx, cmd, project); err != nil {
			logger.Warn("continuity check failed", zap.Error(err))
		}
		return watchCatalog(ctx, cmd, project)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recorded outcome of a run",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := store.New(cfg.WorkingDir)
		if err != nil {
			return err
		}
		ledger, err := openLedger(ctx, st)
		if err != nil {
			return err
		}
		defer ledger.Close()

		id := runID
		if id == "" {
			if id, err = ledger.LatestRun(ctx); err != nil {
				return err
			}
		}
		sum, err := ledger.Summary(ctx, id)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run %s (%s) started %s: %s\n", sum.RunID, sum.Catalog, sum.StartedAt.Format(time.DateTime), sum.Status)
		if sum.Error != "" {
			fmt.Fprintf(out, "Error: %s\n", sum.Error)
		}
		table := newTable(out, "SHOT", "UNIT", "STATUS", "ERROR")
		for _, u := range sum.Units {
			table.Append([]string{strconv.Itoa(u.ShotIdx), u.Kind, u.Status, u.Error})
		}
		table.Render()
		counts := sum.Counts()
		fmt.Fprintf(out, "completed: %d, skipped: %d, failed: %d\n",
			counts[store.StatusCompleted], counts[store.StatusSkipped], counts[store.StatusFailed])
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&framesOnly, "frames-only", false, "Остановиться после генерации кадров")
	runCmd.Flags().IntVar(&maxShots, "max-shots", 0, "Обработать только первые N кадров каталога (0 - все)")
	checkCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Перезапускать проверку при изменении каталога")
	statusCmd.Flags().StringVar(&runID, "run", "", "Идентификатор запуска (по умолчанию последний)")
}

// planningProject wires a project for the planning commands. The reasoning
// service is optional there: without an API key the tree is built by the
// deterministic fallback alone.
func planningProject(ctx context.Context) (*engine.Project, error) {
	st, err := store.New(cfg.WorkingDir)
	if err != nil {
		return nil, err
	}

	var proposer director.TreeProposer
	if cfg.Gemini.APIKey != "" {
		client, err := gemini.New(ctx, cfg.Gemini, logger)
		if err != nil {
			return nil, err
		}
		proposer = client
	} else {
		logger.Warn("no gemini api key, camera tree uses the fallback only")
	}
	return engine.NewProject(cfg, st, engine.Deps{Proposer: proposer}, logger), nil
}

func check(ctx context.Context, cmd *cobra.Command, project *engine.Project) error {
	report, err := project.Check(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "[+] Continuity passed: %d violations\n", len(report.Violations))
	return nil
}

// watchCatalog reruns the check whenever the catalog file changes.
func watchCatalog(ctx context.Context, cmd *cobra.Command, project *engine.Project) error {
	if cfg.Catalog == "" {
		return errors.New("--watch needs an explicit catalog in the config")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target, err := filepath.Abs(cfg.Catalog)
	if err != nil {
		return err
	}
	// Editors replace files on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}
	logger.Info("watching catalog", zap.String("path", target))

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if p, _ := filepath.Abs(ev.Name); p == target && ev.Has(fsnotify.Write|fsnotify.Create) {
				debounce = time.After(300 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		case <-debounce:
			debounce = nil
			if err := check(ctx, cmd, project); err != nil {
				logger.Warn("continuity check failed", zap.Error(err))
			}
		}
	}
}

func openLedger(ctx context.Context, st *store.Store) (*store.Ledger, error) {
	path := cfg.Ledger.Path
	if path == "" {
		path = st.LedgerPath()
	}
	return store.OpenLedger(ctx, path)
}

// loadAssets reads a registry file or scans a portrait directory.
func loadAssets(path string) (*source.Registry, error) {
	if path == "" {
		return source.NewRegistry(), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("assets: %w", err)
	}
	if info.IsDir() {
		return source.ScanPortraits(path)
	}
	return source.LoadRegistry(path)
}

func newFFmpeg() (*video.FFmpeg, error) {
	detector, err := analyzer.NewDetector("content")
	if err != nil {
		return nil, err
	}

	encoder := cfg.Render.Encoder
	if encoder == "" {
		encoder = system.GetBestH264Encoder()
		if encoder != "libx264" {
			logger.Info("Обнаружено аппаратное ускорение", zap.String("encoder", encoder))
		}
	}
	quality := cfg.Render.Quality
	if quality == 0 {
		quality = system.DefaultQuality(encoder)
	}

	ff := video.NewFFmpeg(detector, encoder, quality, logger)
	ff.Fade = cfg.Render.FadeDuration
	ff.Xfade = system.CheckFilterSupport("xfade")
	return ff, nil
}

// newTable returns a borderless left-aligned table with the given header.
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator("")
	table.SetCenterSeparator("")
	table.SetRowSeparator("")
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}
