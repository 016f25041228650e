// Command pallet-audit inventories the attack surface of FRAME pallets and
// scores their functions against threat patterns.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DeusData/pallet-audit/internal/apperr"
	"github.com/DeusData/pallet-audit/internal/config"
)

// cli is the state shared by all subcommands.
type cli struct {
	logLevel   string
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{cfg: config.Default()}
	root := &cobra.Command{
		Use:           "pallet-audit",
		Short:         "Security asset inventory and threat scoring for FRAME pallets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := parseLevel(c.logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			if err := config.LoadEnv(); err != nil {
				slog.Warn("env.load", "err", err)
			}
			c.cfg = config.Load(c.configPath)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "Log level: debug|info|warn|error")
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file (default ./"+config.FileName+")")

	root.AddCommand(
		c.newDiscoverCmd(),
		c.newAnalyzeCmd(),
		c.newServeCmd(),
		c.newInstallCmd(),
		c.newUninstallCmd(),
		newVersionCmd(),
	)
	return root
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, apperr.InvalidInput("unknown log level %q", s)
	}
	return level, nil
}

// printError writes err as "kind: msg", followed by its cause if any.
func printError(w io.Writer, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	if e.Msg != "" {
		fmt.Fprintf(w, "%s: %s\n", e.Kind, e.Msg)
	} else {
		fmt.Fprintf(w, "%s\n", e.Kind)
	}
	if e.Err != nil {
		fmt.Fprintf(w, "caused by: %v\n", e.Err)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}
