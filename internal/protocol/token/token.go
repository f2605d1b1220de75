package token

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tingly-dev/tingly-loop/internal/protocol"
)

// Estimator counts tokens in a piece of text
type Estimator interface {
	Count(text string) int
}

// messageOverhead approximates the framing tokens of a chat request
const messageOverhead = 3

// Tiktoken counts tokens with the o200k_base encoding, falling back to a
// character/4 estimate when encoding fails
type Tiktoken struct {
	enc tokenizer.Codec
}

// NewTiktoken loads the o200k_base encoding used by GPT-4o and above
func NewTiktoken() (*Tiktoken, error) {
	enc, err := tokenizer.Get(tokenizer.O200kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer: %w", err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Count implements Estimator
func (t *Tiktoken) Count(text string) int {
	if t == nil || t.enc == nil {
		return Heuristic{}.Count(text)
	}
	c, err := t.enc.Count(text)
	if err != nil {
		return Heuristic{}.Count(text)
	}
	return c
}

// Heuristic estimates one token per four bytes
type Heuristic struct{}

// Count implements Estimator
func (Heuristic) Count(text string) int {
	return len(text) / 4
}

var (
	defaultOnce sync.Once
	defaultEst  Estimator
)

// Default returns a shared tiktoken estimator, or the heuristic when the
// encoding cannot be loaded
func Default() Estimator {
	defaultOnce.Do(func() {
		tk, err := NewTiktoken()
		if err != nil {
			defaultEst = Heuristic{}
			return
		}
		defaultEst = tk
	})
	return defaultEst
}

// EstimateMessages estimates the prompt tokens of a message list
func EstimateMessages(est Estimator, messages []protocol.Message) int {
	total := 0
	for _, msg := range messages {
		total += est.Count(msg.Role)
		total += est.Count(msg.Content)
		for _, tc := range msg.ToolCalls {
			total += est.Count(tc.Function.Name)
			total += est.Count(tc.Function.Arguments)
		}
	}
	return total + messageOverhead
}

// EstimateUsage builds an estimated usage record for a call whose provider
// did not report one
func EstimateUsage(est Estimator, messages []protocol.Message, completion string) protocol.Usage {
	prompt := EstimateMessages(est, messages)
	out := est.Count(completion)
	return protocol.Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
		Estimated:        true,
	}
}
