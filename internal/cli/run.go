package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tingly-dev/tingly-loop/internal/agent"
	"github.com/tingly-dev/tingly-loop/internal/config"
	"github.com/tingly-dev/tingly-loop/internal/obs/exporter"
	"github.com/tingly-dev/tingly-loop/internal/obs/otel"
	"github.com/tingly-dev/tingly-loop/internal/protocol"
	"github.com/tingly-dev/tingly-loop/internal/protocol/stream"
)

type runOptions struct {
	provider     string
	preset       string
	model        string
	mode         string
	maxSteps     int
	stopAfter    int
	instructions string
	stream       bool
	capture      string
	metricsFile  string
	jsonOut      bool
	showThinking bool
	watch        bool
}

// RunCommand runs the agent loop against a configured provider
func RunCommand(env *Env) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Run the tool-calling agent loop on a prompt",
		Long: `Run the tool-calling agent loop on a prompt.

The prompt is taken from the arguments, or from stdin when there are none.
With --watch the command reads one prompt per line, keeps the conversation
between prompts and picks up edits to the config file as they happen.

Examples:
  tingly-loop run --preset ollama --model qwen3 "what time is it in Tokyo?"
  tingly-loop run -c loop.yaml --provider work --mode text "echo hi"
  tingly-loop run -c loop.yaml --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.watch && opts.preset != "" {
				return errors.New("--watch needs a config file, not --preset")
			}
			if opts.watch {
				return runInteractive(cmd, env, opts)
			}

			prompt := strings.Join(args, " ")
			if prompt == "" {
				raw, err := io.ReadAll(env.In)
				if err != nil {
					return fmt.Errorf("read prompt: %w", err)
				}
				prompt = strings.TrimSpace(string(raw))
			}
			if prompt == "" {
				return errors.New("empty prompt")
			}

			cfg, err := loadRunConfig(env, opts)
			if err != nil {
				return err
			}
			_, err = runPrompt(cmd, env, opts, cfg, agent.GenerateInput{Prompt: prompt})
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.provider, "provider", "p", "", "provider name from the config file (default: the config default)")
	flags.StringVar(&opts.preset, "preset", "", fmt.Sprintf("use a built-in provider preset instead of a config file (%s)", strings.Join(config.Presets(), ", ")))
	flags.StringVarP(&opts.model, "model", "m", "", "override the provider model")
	flags.StringVar(&opts.mode, "mode", "", "tool calling mode: native, text or off")
	flags.IntVar(&opts.maxSteps, "max-steps", 0, "hard cap on loop steps")
	flags.IntVar(&opts.stopAfter, "stop-after", 0, "stop after this many steps even if tools were called")
	flags.StringVarP(&opts.instructions, "instructions", "i", "", "system instructions")
	flags.BoolVar(&opts.stream, "stream", true, "stream responses from the provider")
	flags.StringVar(&opts.capture, "capture", "", "append raw upstream response bodies to this file")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "write metrics as JSON lines to this file")
	flags.BoolVar(&opts.jsonOut, "json", false, "print the full result as JSON")
	flags.BoolVar(&opts.showThinking, "show-thinking", false, "print the model's thinking")
	flags.BoolVarP(&opts.watch, "watch", "w", false, "interactive mode; reload the config file on change")
	return cmd
}

func loadRunConfig(env *Env, opts *runOptions) (*config.Config, error) {
	if opts.preset != "" {
		return config.FromPreset(opts.preset)
	}
	if env.ConfigPath == "" {
		return nil, errors.New("no config file given; use --config or --preset")
	}
	return config.Load(env.ConfigPath)
}

// runPrompt executes one Generate call and prints its outcome
func runPrompt(cmd *cobra.Command, env *Env, opts *runOptions, cfg *config.Config, in agent.GenerateInput) (*agent.Result, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	metrics, stopMetrics, err := openMetrics(ctx, opts.metricsFile)
	if err != nil {
		return nil, err
	}
	defer stopMetrics()

	var capture io.Writer
	if opts.capture != "" {
		f, err := os.OpenFile(opts.capture, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open capture file: %w", err)
		}
		defer f.Close()
		capture = f
	}

	printer := &eventPrinter{out: env.Out, err: env.Err, thinking: opts.showThinking}
	a, err := buildAgent(env, opts, cfg, clientOptions{
		model:   opts.model,
		stream:  streamOverride(cmd, opts),
		capture: capture,
		onEvent: printer.handle,
	}, metrics)
	if err != nil {
		return nil, err
	}
	if opts.jsonOut {
		printer.out, printer.err = io.Discard, io.Discard
	}

	res, err := a.Generate(ctx, in)
	if opts.jsonOut {
		if encErr := writeJSON(env.Out, res); encErr != nil {
			return res, encErr
		}
		return res, err
	}

	printer.finish(res)
	if err != nil {
		return res, err
	}
	if res.Aborted {
		return res, context.Canceled
	}
	env.Logger.WithFields(logrus.Fields{
		"run_id":      res.RunID,
		"steps":       len(res.Steps),
		"stop_reason": res.StopReason,
		"tokens":      res.Usage.TotalTokens,
		"estimated":   res.Usage.Estimated,
	}).Debug("run complete")
	return res, nil
}

// runInteractive reads prompts line by line and carries the conversation
// forward. Every prompt uses the config as it is on disk at that moment.
func runInteractive(cmd *cobra.Command, env *Env, opts *runOptions) error {
	if env.ConfigPath == "" {
		return errors.New("--watch needs --config")
	}
	watcher, err := config.NewWatcher(env.ConfigPath, env.Logger)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	watcher.OnChange(func(cfg *config.Config) {
		fmt.Fprintf(env.Err, "[config reloaded: default provider %s]\n", cfg.Default)
	})

	var history []protocol.Message
	scanner := bufio.NewScanner(env.In)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	fmt.Fprint(env.Err, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/reset":
			history = nil
		case "/exit", "/quit":
			return nil
		default:
			res, err := runPrompt(cmd, env, opts, watcher.Current(), agent.GenerateInput{Prompt: line, Messages: history})
			if err != nil {
				if cmd.Context() != nil && cmd.Context().Err() != nil {
					return err
				}
				fmt.Fprintf(env.Err, "error: %v\n", err)
			}
			if res != nil && len(res.Steps) > 0 {
				history = res.Messages
			}
		}
		fmt.Fprint(env.Err, "> ")
	}
	return scanner.Err()
}

func buildAgent(env *Env, opts *runOptions, cfg *config.Config, copts clientOptions, metrics *otel.TokenTracker) (*agent.Agent, error) {
	provider, err := cfg.Provider(opts.provider)
	if err != nil {
		return nil, err
	}
	client, err := newClient(env, provider, copts)
	if err != nil {
		return nil, err
	}

	ac := cfg.Agent
	mode := ac.ToolCallingMode
	if opts.mode != "" {
		mode = opts.mode
	}
	instructions := ac.Instructions
	if opts.instructions != "" {
		instructions = opts.instructions
	}
	maxSteps := ac.MaxSteps
	if opts.maxSteps > 0 {
		maxSteps = opts.maxSteps
	}
	stopAfter := ac.StopAfterSteps
	if opts.stopAfter > 0 {
		stopAfter = opts.stopAfter
	}

	agentOpts := []agent.Option{
		agent.WithLogger(env.Logger.WithField("provider", provider.Name)),
		agent.WithTools(builtinTools(time.Now)...),
		agent.WithToolCallingMode(agent.ToolCallingMode(mode)),
		agent.WithInstructions(instructions),
		agent.WithMetrics(metrics),
	}
	if maxSteps > 0 {
		agentOpts = append(agentOpts, agent.WithMaxSteps(maxSteps))
	}
	if stopAfter > 0 {
		agentOpts = append(agentOpts, agent.WithStopWhen(agent.StepCountIs(stopAfter), agent.NoToolCalls()))
	}
	if ac.ToolConcurrency > 0 {
		agentOpts = append(agentOpts, agent.WithToolConcurrency(ac.ToolConcurrency))
	}
	return agent.New(client, agentOpts...)
}

// streamOverride returns the --stream value only when the flag was set
func streamOverride(cmd *cobra.Command, opts *runOptions) *bool {
	if !cmd.Flags().Changed("stream") {
		return nil
	}
	v := opts.stream
	return &v
}

// openMetrics wires a JSONL exporter when path is set. The returned stop
// function flushes pending data points.
func openMetrics(ctx context.Context, path string) (*otel.TokenTracker, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open metrics file: %w", err)
	}
	setup, err := otel.NewMeterSetup(ctx, otel.DefaultConfig(), exporter.NewJSONLExporter(f))
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := setup.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("failed to flush metrics")
		}
		f.Close()
	}
	return setup.Tracker(), stop, nil
}

// eventPrinter writes streamed content as it arrives and falls back to the
// final text for providers that did not stream
type eventPrinter struct {
	out      io.Writer
	err      io.Writer
	thinking bool
	streamed bool
}

func (p *eventPrinter) handle(ev stream.Event) {
	switch ev.Type {
	case stream.EventContent:
		p.streamed = true
		fmt.Fprint(p.out, ev.Content)
	case stream.EventThinkContent, stream.EventReasoning:
		if p.thinking {
			fmt.Fprint(p.err, ev.Content)
		}
	case stream.EventToolCall:
		if ev.Data != nil {
			for _, c := range ev.Data.Calls {
				fmt.Fprintf(p.err, "\n[tool call: %s]\n", c.Name)
			}
		}
	}
}

func (p *eventPrinter) finish(res *agent.Result) {
	if res == nil {
		return
	}
	if p.thinking && !p.streamed && res.Thinking.Content != "" {
		fmt.Fprintf(p.err, "%s\n\n", res.Thinking.Content)
	}
	if !p.streamed {
		fmt.Fprint(p.out, res.Text)
	}
	fmt.Fprintln(p.out)
	for _, tc := range res.ToolCallSummaries {
		status := "ok"
		if !tc.Success {
			status = "failed"
		}
		fmt.Fprintf(p.err, "[step %d] %s %s\n", tc.StepNumber, tc.Name, status)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
