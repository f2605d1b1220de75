package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tingly-dev/tingly-loop/internal/llmclient"
	"github.com/tingly-dev/tingly-loop/internal/protocol"
	"github.com/tingly-dev/tingly-loop/internal/protocol/dialect"
	"github.com/tingly-dev/tingly-loop/internal/protocol/sse"
	"github.com/tingly-dev/tingly-loop/internal/protocol/stream"
)

type parseOptions struct {
	dialect   string
	canonical bool
	response  bool
}

// ParseCommand replays a captured upstream body through an adapter and the
// stream parser
func ParseCommand(env *Env) *cobra.Command {
	opts := &parseOptions{}
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Replay a captured upstream stream and print the parsed events",
		Long: `Replay a captured upstream body through a dialect adapter and the stream parser.

Events are printed as JSON lines followed by one summary line. Read from stdin
when no file (or "-") is given. Use --canonical to print the canonical
chat.completion.chunk frames instead, or --response for a non-streaming body.

  tingly-loop run --capture raw.sse "hello" && tingly-loop parse -d openai_compatible raw.sse`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := env.In
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runParse(cmd, env, opts, in)
		},
	}
	cmd.Flags().StringVarP(&opts.dialect, "dialect", "d", string(protocol.DialectOpenAICompatible), "dialect of the captured body")
	cmd.Flags().BoolVar(&opts.canonical, "canonical", false, "print canonical frames instead of events")
	cmd.Flags().BoolVar(&opts.response, "response", false, "treat the input as a non-streaming response body")
	return cmd
}

// parseSummary is the last line printed by the parse command
type parseSummary struct {
	Type          string                `json:"type"`
	Content       string                `json:"content"`
	Thinking      protocol.Thinking     `json:"thinking"`
	ToolCalls     []protocol.ToolCall   `json:"tool_calls,omitempty"`
	TextToolCalls []protocol.ToolCall   `json:"text_tool_calls,omitempty"`
	Usage         *protocol.Usage       `json:"usage,omitempty"`
	FinishReason  protocol.FinishReason `json:"finish_reason,omitempty"`
}

func runParse(cmd *cobra.Command, env *Env, opts *parseOptions, in io.Reader) error {
	adapter, err := dialect.Resolve(protocol.Dialect(opts.dialect), dialect.WithLogger(env.Logger))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(env.Out)

	if opts.response {
		raw, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		comp, err := adapter.ParseResponse(raw)
		if err != nil {
			return err
		}
		llmclient.NormalizeCompletion(comp)
		return enc.Encode(comp)
	}

	canonical := adapter.TransformStream(cmd.Context(), in)
	defer canonical.Close()

	if opts.canonical {
		_, err := io.Copy(env.Out, canonical)
		return err
	}

	parser := stream.NewParser(env.Logger)
	lines := sse.NewReader(canonical)
	var sum stream.Summary
	emit := func(events []stream.Event) error {
		for _, ev := range events {
			sum.Add(ev)
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		line, err := lines.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
		if err := emit(parser.ParseSSELine(line)); err != nil {
			return err
		}
	}
	if err := emit(parser.Flush()); err != nil {
		return err
	}

	out := parseSummary{
		Type:         "summary",
		Content:      sum.Content,
		Thinking:     parser.FinalThinkingContent(),
		ToolCalls:    parser.ToolCalls(),
		Usage:        sum.Usage,
		FinishReason: sum.FinishReason,
	}
	for _, data := range sum.ToolCalls {
		out.TextToolCalls = append(out.TextToolCalls, data.ToolCalls()...)
	}
	return enc.Encode(out)
}
