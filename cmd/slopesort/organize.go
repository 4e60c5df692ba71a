package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/slopesort/slopesort/pkg/cache"
	"github.com/slopesort/slopesort/pkg/roster"
	"github.com/slopesort/slopesort/pkg/slopesort"
	"github.com/slopesort/slopesort/pkg/vision"
)

func newOrganizeCmd() *cobra.Command {
	var (
		output     string
		mode       string
		copyOrMove string
		dryRun     bool
		recursive  bool
		confidence float64
		undo       bool
	)

	cmd := &cobra.Command{
		Use:   "organize SOURCE_DIR",
		Short: "Scan a directory and organize its photos by subject",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := slopesort.LoadConfig()
			if err != nil {
				return exitf(exitUser, "configuration: %v", err)
			}

			cfg.OutputDir = output
			cfg.DryRun = dryRun
			cfg.Recursive = recursive

			switch mode {
			case string(slopesort.ModeDatabase), string(slopesort.ModeAutoCluster):
				cfg.Mode = slopesort.Mode(mode)
			default:
				return exitf(exitUser, "invalid --mode %q (want database or auto-cluster)", mode)
			}

			switch copyOrMove {
			case "copy":
			case "move":
				cfg.Move = true
			default:
				return exitf(exitUser, "invalid --copy-or-move %q (want copy or move)", copyOrMove)
			}

			if cmd.Flags().Changed("confidence") {
				if confidence < 0 || confidence > 1 {
					return exitf(exitUser, "--confidence must be in [0,1], got %v", confidence)
				}
				cfg.Confidence = confidence
				cfg.ConfidenceSet = true
			}
			cfg.ResolveConfidence()

			if undo {
				return runUndo(cfg.OutputDir)
			}

			if len(args) == 0 {
				return exitf(exitUser, "SOURCE_DIR is required (or pass --undo)")
			}
			cfg.SourceDir = args[0]
			if st, err := os.Stat(cfg.SourceDir); err != nil || !st.IsDir() {
				return exitf(exitUser, "source directory not found: %s", cfg.SourceDir)
			}

			return runOrganize(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "./organized_photos", "output directory for organized photos")
	cmd.Flags().StringVar(&mode, "mode", string(slopesort.ModeDatabase), "organization mode: database or auto-cluster")
	cmd.Flags().StringVar(&copyOrMove, "copy-or-move", "copy", "copy or move files")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview the plan without touching files")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", true, "scan subdirectories")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "similarity acceptance threshold in [0,1]")
	cmd.Flags().BoolVar(&undo, "undo", false, "undo a previous run under --output, ignoring SOURCE_DIR")
	return cmd
}

func runUndo(outputDir string) error {
	res, err := slopesort.Undo(outputDir)
	if err != nil {
		return exitf(exitUser, "undo: %v", err)
	}
	fmt.Printf("Restored %d of %d files\n", res.Succeeded, res.Total)
	if res.Failed > 0 {
		return exitf(exitPartial, "%d files could not be restored", res.Failed)
	}
	return nil
}

func runOrganize(ctx context.Context, cfg *slopesort.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := vision.NewGeminiBackend(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return exitf(exitVision, "vision backend: %v", err)
	}
	client := vision.NewClient(backend, &vision.Options{
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
		CallTimeout:   cfg.VisionTimeout,
	})

	cachePath := cfg.CachePath
	if cachePath == "" {
		cachePath = cache.DefaultFile
	}
	store, err := cache.Load(cachePath)
	if err != nil {
		return exitf(exitUser, "analysis cache: %v", err)
	}
	klog.Infof("analysis cache: %d images known", store.Len())

	runner := &slopesort.Runner{
		Config: cfg,
		Vision: client,
		Cache:  store,
	}

	if cfg.Mode == slopesort.ModeDatabase {
		rosterPath := cfg.RosterPath
		if rosterPath == "" {
			rosterPath = roster.DefaultFile
		}
		r, err := roster.Load(rosterPath)
		if err != nil {
			return exitf(exitUser, "roster: %v", err)
		}
		if len(r.Entries) == 0 {
			fmt.Println("Warning: the roster is empty; every subject will be Unknown.")
			fmt.Println("Run 'slopesort database' to register subjects first.")
		}
		runner.RosterDescriptions = r.Descriptions()
	}

	ts, err := slopesort.NewTimestampExtractor()
	if err != nil {
		return exitf(exitUser, "timestamp extractor: %v", err)
	}
	defer ts.Close()
	runner.Times = ts

	res, err := runner.Run(ctx)
	if err != nil {
		if vision.IsFatal(err) {
			return exitf(exitVision, "vision backend: %v", err)
		}
		return exitf(exitUser, "organize: %v", err)
	}

	printSummary(res)

	if cfg.DryRun {
		fmt.Println("\nDry run complete, no files were modified.")
		return nil
	}

	fmt.Printf("\nPlaced %d of %d files into %s\n", res.Exec.Succeeded, res.Exec.Total, res.Plan.OutputDir)
	if res.Partial() {
		return exitf(exitPartial, "run completed with %d analysis and %d placement failures",
			len(res.Errors), res.Exec.Failed)
	}
	return nil
}

func printSummary(res *slopesort.RunResult) {
	counts := res.Plan.CountByCategory()
	fmt.Println("\nOrganization plan:")
	fmt.Printf("  single-subject:    %d\n", counts[slopesort.CategorySingle])
	fmt.Printf("  multiple-subjects: %d\n", counts[slopesort.CategoryMultiple])
	fmt.Printf("  unknown-subjects:  %d\n", counts[slopesort.CategoryUnknown])
	fmt.Printf("  no-faces:          %d\n", counts[slopesort.CategoryNoFaces])

	if len(res.Clusters) > 0 {
		fmt.Printf("\nClusters (%d):\n", len(res.Clusters))
		names := make([]string, 0, len(res.Clusters))
		sizes := map[string]int{}
		for _, cl := range res.Clusters {
			name := res.ClusterNames[cl.ID]
			names = append(names, name)
			sizes[name] = len(cl.Members)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %s: %d photos\n", name, sizes[name])
		}
	}

	fmt.Printf("\nVision calls: %d issued, %d served from cache, %d comparisons\n",
		res.VisionCalls, res.CacheHits, res.CompareCalls)
	if len(res.Errors) > 0 {
		fmt.Printf("Failures: %d (see %s)\n", len(res.Errors), slopesort.ReportFile)
	}
}
