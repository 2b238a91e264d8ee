// Command tntd runs the chat daemon: it loads configuration, opens the
// message log, seeds the room from its replay, and serves SSH
// connections until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ehrlich-b/tnt/internal/config"
	"github.com/ehrlich-b/tnt/internal/logger"
	"github.com/ehrlich-b/tnt/internal/msglog"
	"github.com/ehrlich-b/tnt/internal/render"
	"github.com/ehrlich-b/tnt/internal/room"
	"github.com/ehrlich-b/tnt/internal/sshfrontend"
)

func main() {
	signal.Ignore(syscall.SIGPIPE)

	root := &cobra.Command{
		Use:           "tntd",
		Short:         "tnt chat daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Flags())
		},
	}
	root.Flags().IntP("port", "p", 2222, "listen port")
	root.FParseErrWhitelist = cobra.FParseErrWhitelist{UnknownFlags: true}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tntd:", err)
		os.Exit(1)
	}
}

func run(flags *pflag.FlagSet) error {
	cfg, err := config.Load(flags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(logger.LevelFromCode(cfg.LogLevelCode), cfg.LogFile); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logs := msglog.Open(cfg.MessageLogPath)
	history, err := msglog.Replay(cfg.MessageLogPath, cfg.HistoryCap)
	if err != nil {
		return fmt.Errorf("replay message log: %w", err)
	}

	renderer := render.New()
	rm := room.New(cfg.HistoryCap, cfg.RosterCap, renderer)
	seeded := make([]room.Message, 0, len(history))
	for _, r := range history {
		seeded = append(seeded, room.Message{Timestamp: r.Timestamp, Username: r.Username, Content: r.Content})
	}
	rm.Seed(seeded)

	srv, err := sshfrontend.New(cfg, rm, logs, renderer)
	if err != nil {
		return fmt.Errorf("start ssh front-end: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("tntd starting", "port", cfg.Port, "bind_addr", cfg.BindAddr)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("ssh front-end: %w", err)
	}
	logger.Info("tntd shut down cleanly")
	return nil
}
