package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tingly-dev/tingly-loop/internal/cli"
	"github.com/tingly-dev/tingly-loop/internal/config"
	"github.com/tingly-dev/tingly-loop/internal/obs"
)

// Build information variables
var (
	// Set by compiler via -ldflags
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

// memoryLogSize is how many recent log entries --dump-logs keeps
const memoryLogSize = 500

var (
	configPath string
	logFile    string
	logLevel   string
	logFormat  string
	dumpLogs   bool

	logCloser io.Closer
	memLog    = obs.NewMemoryHook(memoryLogSize)
)

func newRootCommand(env *cli.Env) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tingly-loop",
		Short: "Tingly Loop - streaming LLM client and tool-calling agent loop",
		Long: `Tingly Loop talks to OpenAI-compatible, Anthropic Messages and MLX backends
through one normalized stream, separates thinking and embedded tool calls from
the reply, and runs a tool-calling agent loop on top.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			env.ConfigPath = configPath

			logCfg := obs.LogConfig{}
			if configPath != "" {
				// A broken file is reported by the command that needs it
				if cfg, err := config.Load(configPath); err == nil {
					logCfg = cfg.Log
				}
			}
			if logFile != "" {
				logCfg.File = logFile
			}
			if logLevel != "" {
				logCfg.Level = logLevel
			}
			if logFormat != "" {
				logCfg.Format = logFormat
			}
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				logCfg.Level = logrus.TraceLevel.String()
			}

			closer, err := obs.Setup(env.Logger, logCfg)
			if err != nil {
				return err
			}
			logCloser = closer
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "verbose output")
	flags.StringVarP(&configPath, "config", "c", os.Getenv("TINGLY_LOOP_CONFIG"), "config file (YAML or JSON)")
	flags.StringVar(&logFile, "log-file", "", "write logs to a rotating file instead of stderr")
	flags.StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "", "log format (text or json)")
	flags.BoolVar(&dumpLogs, "dump-logs", false, "print recent log entries to stderr when a command fails")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(env.Out, "Tingly Loop\n")
			fmt.Fprintf(env.Out, "Version:    %s\n", version)
			fmt.Fprintf(env.Out, "Git Commit: %s\n", gitCommit)
			fmt.Fprintf(env.Out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(env.Out, "Go Version: %s\n", runtime.Version())
			fmt.Fprintf(env.Out, "Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	rootCmd.AddCommand(cli.ParseCommand(env))
	rootCmd.AddCommand(cli.RunCommand(env))
	return rootCmd
}

func main() {
	logger := logrus.StandardLogger()
	logger.AddHook(memLog)

	env := &cli.Env{
		Version: version,
		Logger:  logger,
		In:      os.Stdin,
		Out:     os.Stdout,
		Err:     os.Stderr,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(env).ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if dumpLogs {
			fmt.Fprintln(os.Stderr, "--- recent logs ---")
			for _, entry := range memLog.Entries() {
				line, ferr := entry.String()
				if ferr != nil {
					continue
				}
				fmt.Fprint(os.Stderr, line)
			}
		}
	}
	if logCloser != nil {
		_ = logCloser.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}
