// Command kollabd runs the collaborative editor backend: the WebSocket
// collaboration server and the HTTP file API.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luciancaetano/kollab/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	cmd := &cobra.Command{
		Use:          "kollabd",
		Short:        "Run the collaborative text editor server",
		Long:         "kollabd serves the editor page and file API over HTTP and relays edits and cursor positions between editors over WebSocket.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg, &overrides)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			return run(cmd.Context(), cfg, logger)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "path to a JSON config file")
	f.StringVar(&overrides.WSAddr, "ws-addr", "", "collaboration server listen address (default :8081)")
	f.StringVar(&overrides.HTTPAddr, "http-addr", "", "file API listen address (default :8080)")
	f.StringVar(&overrides.Storage, "storage", "", "file storage backend: fs or sqlite")
	f.StringVar(&overrides.FilesDir, "files-dir", "", "directory of the fs storage backend (default ./files)")
	f.StringVar(&overrides.SQLitePath, "sqlite-path", "", "database file of the sqlite storage backend")
	f.StringVar(&overrides.StaticDir, "static-dir", "", "directory holding editor.html")
	f.StringVar(&overrides.LogLevel, "log-level", "", "debug, info, warn or error")
	f.StringVar(&overrides.LogFormat, "log-format", "", "text or json")
	f.BoolVar(&overrides.BroadcastFileChange, "broadcast-file-change", false, "announce file switches to other editors")

	return cmd
}

// applyFlags copies the flags set on the command line over cfg.
func applyFlags(cmd *cobra.Command, cfg, flags *config.Config) {
	strs := map[string]struct{ dst, src *string }{
		"ws-addr":     {&cfg.WSAddr, &flags.WSAddr},
		"http-addr":   {&cfg.HTTPAddr, &flags.HTTPAddr},
		"storage":     {&cfg.Storage, &flags.Storage},
		"files-dir":   {&cfg.FilesDir, &flags.FilesDir},
		"sqlite-path": {&cfg.SQLitePath, &flags.SQLitePath},
		"static-dir":  {&cfg.StaticDir, &flags.StaticDir},
		"log-level":   {&cfg.LogLevel, &flags.LogLevel},
		"log-format":  {&cfg.LogFormat, &flags.LogFormat},
	}
	for name, f := range strs {
		if cmd.Flags().Changed(name) {
			*f.dst = *f.src
		}
	}
	if cmd.Flags().Changed("broadcast-file-change") {
		cfg.BroadcastFileChange = flags.BroadcastFileChange
	}
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	switch cfg.LogFormat {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
}
