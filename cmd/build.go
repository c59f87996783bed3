package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conneroisu/breach/internal/build"
	"github.com/conneroisu/breach/internal/compiler"
	"github.com/conneroisu/breach/internal/config"
	"github.com/conneroisu/breach/internal/errors"
	"github.com/conneroisu/breach/internal/logging"
)

var buildOut string

var buildCmd = &cobra.Command{
	Use:     "build [file.breach]",
	Aliases: []string{"b"},
	Short:   "Build a .breach file once",
	Long: `Run a single build of a .breach file and print its diagnostics.

With --out the page, stylesheet and script are written to index.html,
style.css and script.js in the given directory. The page references the
other two by absolute path, so serve the directory from its root.

The command exits non-zero when the build fails outright. A partial build,
where some sections failed, still writes its output.

Examples:
  breach build                      # first *.breach file in this directory
  breach build page.breach --out dist`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringVarP(&buildOut, "out", "o", "", "directory to write the built artifacts to")
}

func runBuild(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) > 0 {
		path = args[0]
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	result, snap, err := buildOnce(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	printDiagnostics(cmd.ErrOrStderr(), result.Diagnostics)

	if result.Status == build.StatusFailed {
		return fmt.Errorf("build failed with %d error(s)", errors.CountErrors(result.Diagnostics))
	}

	if buildOut != "" {
		if err := writeArtifacts(buildOut, snap); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Built %s (%s) in %s\n", cfg.Source.Path, result.Status, result.Duration)
	return nil
}

// buildOnce runs one cycle of cfg's source and returns the snapshot it
// published.
func buildOnce(ctx context.Context, cfg *config.Config, logger logging.Logger) (build.CycleResult, *build.Snapshot, error) {
	registry, err := compiler.Default(compiler.Options{
		Target:    cfg.Build.Target,
		Minify:    cfg.Build.Minify,
		Timeout:   cfg.Build.CompileTimeout,
		CacheSize: cfg.Build.CacheSize,
	}, logger)
	if err != nil {
		return build.CycleResult{}, nil, err
	}

	store := build.NewStore()
	orchestrator := build.NewOrchestrator(
		build.FileSource{Path: cfg.Source.Path},
		registry,
		store,
		build.WithParallel(cfg.Build.Parallel),
		build.WithLogger(logger),
	)

	result := orchestrator.BuildNow(ctx)
	return result, store.Current(), nil
}

func printDiagnostics(w io.Writer, diags []errors.Diagnostic) {
	for _, d := range diags {
		fmt.Fprintln(w, d.String())
	}
}

// artifactFiles maps output file names to the snapshot content they hold.
func artifactFiles(snap *build.Snapshot) map[string]string {
	return map[string]string{
		"index.html": snap.Page,
		"style.css":  snap.Artifact(compiler.KindStylesheet).Text,
		"script.js":  snap.Artifact(compiler.KindScript).Text,
	}
}

func writeArtifacts(dir string, snap *build.Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewIOError("creating output directory", err)
	}
	for name, content := range artifactFiles(snap) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return errors.NewIOError("writing "+name, err)
		}
	}
	return nil
}
