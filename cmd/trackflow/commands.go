package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	serveradapter "github.com/evanschultz/trackflow/internal/adapters/server"
	"github.com/evanschultz/trackflow/internal/app"
	"github.com/evanschultz/trackflow/internal/domain"
	"github.com/evanschultz/trackflow/internal/tui"
)

// newTUICommand opens the terminal board.
func newTUICommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd.Context(), opts)
		},
	}
}

// runTUI runs the terminal board until the user quits.
func runTUI(ctx context.Context, opts *rootOptions) error {
	env, err := opts.open(ctx, "tui", true)
	if err != nil {
		return err
	}
	defer env.Close()

	keys := env.cfg.TUI.Keys
	m := tui.NewModel(
		env.svc,
		tui.WithStartBoard(domain.Kind(env.cfg.TUI.DefaultBoard)),
		tui.WithKeyConfig(tui.KeyConfig{
			Grab:        keys.Grab,
			Drop:        keys.Drop,
			Detail:      keys.Detail,
			CopyID:      keys.CopyID,
			SwitchBoard: keys.SwitchBoard,
		}),
	)

	flushCtx, stopFlusher := context.WithCancel(ctx)
	defer stopFlusher()
	go env.svc.RunFlusher(flushCtx, env.cfg.Database.FlushInterval.Std())

	env.logger.Info("command flow start", "command", "tui")
	if _, err := programFactory(m).Run(); err != nil {
		env.logger.Error("tui program terminated with error", "err", err)
		return fmt.Errorf("run tui program: %w", err)
	}
	env.logger.Info("command flow complete", "command", "tui")
	return nil
}

// newServeCommand exposes the HTTP API and MCP tools.
func newServeCommand(opts *rootOptions) *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and MCP tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.open(cmd.Context(), "serve", false)
			if err != nil {
				return err
			}
			defer env.Close()

			serverCfg := serveradapter.Config{
				HTTPBind:        env.cfg.Server.Bind,
				APIEndpoint:     env.cfg.Server.APIEndpoint,
				MCPEndpoint:     env.cfg.Server.MCPEndpoint,
				ServerName:      "trackflow",
				ServerVersion:   version,
				ShutdownTimeout: env.cfg.Server.ShutdownWait.Std(),
			}
			if bind != "" {
				serverCfg.HTTPBind = bind
			}

			ctx, stopFlusher := context.WithCancel(cmd.Context())
			defer stopFlusher()
			go env.svc.RunFlusher(ctx, env.cfg.Database.FlushInterval.Std())

			env.logger.Info("command flow start", "command", "serve", "bind", serverCfg.HTTPBind)
			err = serveCommandRunner(ctx, serverCfg, serveradapter.Dependencies{
				Boards: env.svc,
				Ready:  env.readiness(),
				Logger: env.logger.Service(),
			})
			if err != nil {
				env.logger.Error("command flow failed", "command", "serve", "err", err)
				return fmt.Errorf("run serve command: %w", err)
			}
			env.logger.Info("command flow complete", "command", "serve")
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "override server.bind")
	return cmd
}

// newExportCommand writes a snapshot of every board.
func newExportCommand(opts *rootOptions) *cobra.Command {
	var (
		outPath string
		format  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every board as a JSON or YAML snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snapFormat, err := app.ParseSnapshotFormat(format)
			if err != nil {
				return err
			}
			env, err := opts.open(cmd.Context(), "export", false)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := runExport(cmd.Context(), env.svc, outPath, snapFormat, opts.stdout); err != nil {
				env.logger.Error("command flow failed", "command", "export", "err", err)
				return fmt.Errorf("run export command: %w", err)
			}
			env.logger.Info("command flow complete", "command", "export", "format", snapFormat)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "-", "output file path ('-' for stdout)")
	cmd.Flags().StringVar(&format, "format", "json", "snapshot format: json or yaml")
	return cmd
}

// runExport runs the requested command flow.
func runExport(ctx context.Context, svc *app.Service, outPath string, format app.SnapshotFormat, stdout io.Writer) error {
	snap, err := svc.ExportSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("export snapshot: %w", err)
	}
	if outPath == "-" || outPath == "" {
		return app.EncodeSnapshot(stdout, snap, format)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create export output dir: %w", err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := app.EncodeSnapshot(f, snap, format); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// newImportCommand loads a snapshot, preserving ids.
func newImportCommand(opts *rootOptions) *cobra.Command {
	var (
		inPath string
		format string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a JSON or YAML snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if inPath == "" {
				return fmt.Errorf("--in is required")
			}
			if format == "" {
				format = formatFromPath(inPath)
			}
			snapFormat, err := app.ParseSnapshotFormat(format)
			if err != nil {
				return err
			}
			env, err := opts.open(cmd.Context(), "import", false)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := runImport(cmd.Context(), env.svc, inPath, snapFormat); err != nil {
				env.logger.Error("command flow failed", "command", "import", "err", err)
				return fmt.Errorf("run import command: %w", err)
			}
			env.logger.Info("command flow complete", "command", "import", "in", inPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "input snapshot file")
	cmd.Flags().StringVar(&format, "format", "", "snapshot format: json or yaml (default from file extension)")
	return cmd
}

// runImport runs the requested command flow.
func runImport(ctx context.Context, svc *app.Service, inPath string, format app.SnapshotFormat) error {
	f, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}
	defer f.Close()
	snap, err := app.DecodeSnapshot(f, format)
	if err != nil {
		return err
	}
	if err := svc.ImportSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}
	return nil
}

// formatFromPath guesses a snapshot format from a file extension.
func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}
