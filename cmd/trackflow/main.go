package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	serveradapter "github.com/evanschultz/trackflow/internal/adapters/server"
	"github.com/evanschultz/trackflow/internal/platform"
)

// version stores a package-level helper value.
var version = "dev"

// program represents program data used by this package.
type program interface {
	Run() (tea.Model, error)
}

// programFactory stores a package-level helper value.
var programFactory = func(m tea.Model) program {
	return tea.NewProgram(m)
}

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

// main handles main.
func main() {
	root := newRootCommand(os.Stdout, os.Stderr)
	if err := fang.Execute(context.Background(), root, fang.WithVersion(version)); err != nil {
		os.Exit(1)
	}
}

// run executes the command tree without fang styling.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool
	stdout     io.Writer
	stderr     io.Writer
}

// newRootCommand builds the command tree. Running the root alone opens the board.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	defaultDevMode := version == "dev"
	if envDev, ok := parseBoolEnv("TRACKFLOW_DEV_MODE"); ok {
		defaultDevMode = envDev
	}
	defaultApp := "trackflow"
	if envApp := strings.TrimSpace(os.Getenv("TRACKFLOW_APP_NAME")); envApp != "" {
		defaultApp = envApp
	}

	root := &cobra.Command{
		Use:   "trackflow",
		Short: "Drag-and-drop kanban, sales and jobs boards with stage-duration tracking",
		Long: `trackflow hosts three boards over one ordering engine:

  kanban   cards, one board per project
  sales    clients moving through a sales pipeline
  jobs     jobs moving through production stages

Every move between stages is logged and the time spent in each stage is tracked.
Run without a command to open the terminal board, or use "serve" to expose the
HTTP API and MCP tools.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd.Context(), opts)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("trackflow {{.Version}}\n")

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&opts.appName, "app", defaultApp, "application name for config/data path resolution")
	flags.BoolVar(&opts.devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev)")

	root.AddCommand(
		newTUICommand(opts),
		newServeCommand(opts),
		newExportCommand(opts),
		newImportCommand(opts),
		newPathsCommand(opts),
	)
	return root
}

// newPathsCommand prints resolved runtime paths.
func newPathsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data and log paths",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			paths, err := opts.paths()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(opts.stdout, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(opts.stdout, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(opts.stdout, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(opts.stdout, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(opts.stdout, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(opts.stdout, "log: %s\n", paths.LogPath)
			return nil
		},
	}
}

// paths resolves platform paths for the configured app name and mode.
func (o *rootOptions) paths() (platform.Paths, error) {
	return platform.DefaultPathsWithOptions(platform.Options{
		AppName: o.appName,
		DevMode: o.devMode,
	})
}

// parseBoolEnv parses bool env.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
