package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/tingly-dev/tingly-loop/internal/agent"
)

// builtinTools are the demo tools offered by the run command
func builtinTools(now func() time.Time) []agent.Tool {
	return []agent.Tool{
		{
			Name:        "current_time",
			Description: "Returns the current time in RFC 3339 format, optionally in an IANA timezone.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timezone": map[string]any{"type": "string", "description": "IANA timezone such as Europe/Paris"},
				},
			},
			Execute: func(ctx context.Context, input map[string]any, tc agent.ToolContext) (agent.ToolOutput, error) {
				t := now()
				if tz, _ := input["timezone"].(string); tz != "" {
					loc, err := time.LoadLocation(tz)
					if err != nil {
						return agent.ToolOutput{Success: false, Error: fmt.Sprintf("unknown timezone %q", tz)}, nil
					}
					t = t.In(loc)
				}
				return agent.ToolOutput{Success: true, Content: t.Format(time.RFC3339)}, nil
			},
		},
		{
			Name:        "echo",
			Description: "Returns the given text unchanged.",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []string{"text"},
				"properties": map[string]any{
					"text": map[string]any{"type": "string"},
				},
			},
			Execute: func(ctx context.Context, input map[string]any, tc agent.ToolContext) (agent.ToolOutput, error) {
				text, ok := input["text"].(string)
				if !ok {
					return agent.ToolOutput{Success: false, Error: "text must be a string"}, nil
				}
				return agent.ToolOutput{Success: true, Content: text}, nil
			},
		},
	}
}
