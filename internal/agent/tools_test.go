package agent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tingly-dev/tingly-loop/internal/obs"
	"github.com/tingly-dev/tingly-loop/internal/protocol"
)

func TestToolRunner_ConcurrencyLimit(t *testing.T) {
	var running, peak int32
	slow := Tool{Name: "slow", Execute: func(ctx context.Context, input map[string]any, tc ToolContext) (ToolOutput, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return ToolOutput{Success: true, Content: tc.CallID}, nil
	}}
	ts, err := newToolSet([]Tool{slow})
	require.NoError(t, err)

	var calls []protocol.ToolCall
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		calls = append(calls, protocol.NewToolCall(id, "slow", ""))
	}
	r := toolRunner{tools: ts, concurrency: 2, log: obs.Discard(), base: ToolContext{RunID: "run", StepNumber: 1}}
	results := r.run(context.Background(), calls)

	require.Len(t, results, 6)
	for i, res := range results {
		assert.Equal(t, calls[i].ID, res.CallID)
		assert.Equal(t, calls[i].ID, res.Content)
		assert.True(t, res.Success)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestToolContextCarriesStep(t *testing.T) {
	var got ToolContext
	probe := Tool{Name: "probe", Execute: func(ctx context.Context, input map[string]any, tc ToolContext) (ToolOutput, error) {
		got = tc
		return ToolOutput{Success: true}, nil
	}}
	ts, err := newToolSet([]Tool{probe})
	require.NoError(t, err)

	r := toolRunner{tools: ts, log: obs.Discard(), base: ToolContext{RunID: "run-1", StepNumber: 4}}
	res := r.run(context.Background(), []protocol.ToolCall{protocol.NewToolCall("x", "probe", `{"k":1}`)})

	require.Len(t, res, 1)
	assert.Equal(t, map[string]any{"k": float64(1)}, res[0].Input)
	assert.Equal(t, ToolContext{RunID: "run-1", StepNumber: 4, CallID: "x"}, got)
}

func TestToolSetRestrict(t *testing.T) {
	ts, err := newToolSet([]Tool{echoTool(nil), {Name: "b", Execute: echoTool(nil).Execute}})
	require.NoError(t, err)

	only := ts.restrict([]string{"b", "missing"})
	require.Len(t, only.specs(), 1)
	assert.Equal(t, "b", only.specs()[0].Name)
	assert.Len(t, ts.specs(), 2)
	assert.Nil(t, ts.restrict(nil).specs())
}
