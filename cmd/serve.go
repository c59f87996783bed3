package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/breach/internal/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve [file.breach]",
	Aliases: []string{"s"},
	Short:   "Serve a .breach file with live reload",
	Long: `Compile a .breach file, serve the result and rebuild on every save.
Connected browsers reload once the new build is published. A section that
fails to compile keeps its last good output and the page shows an error
overlay until it is fixed.

Examples:
  breach serve                      # first *.breach file in this directory
  breach serve page.breach          # a specific file
  breach serve page.breach -p 3000 --open`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	AddServerFlags(serveCmd)
	bindFlags(serveCmd.Flags(), serverBindings)
}

func runServe(cmd *cobra.Command, args []string) error {
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

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s at http://%s\n", cfg.Source.Path, cfg.Addr())

	shutdownCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), shutdownTimeout)
	}

	select {
	case err := <-errCh:
		// Start failed after the pipeline came up.
		sctx, cancel := shutdownCtx()
		defer cancel()
		_ = srv.Shutdown(sctx)
		return err
	case <-ctx.Done():
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
	sctx, cancel := shutdownCtx()
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
