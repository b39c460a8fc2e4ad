package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/scenarioflow/pkg/engine"
)

func TestDispatcher_BoundedAndOrdered(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := &spy{fn: func(_ int, in engine.NodeIO) (map[string]interface{}, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return map[string]interface{}{"id": in.Data["id"]}, nil
	}}
	f := newFixture(t, slow.definition("slow"))

	var events []TriggerEvent
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("s%d", i)
		f.store.addScenario(enabledScenario(id), []engine.Node{{ID: "n", Type: "slow"}}, nil)
		events = append(events, TriggerEvent{ScenarioID: id, Payload: map[string]interface{}{"id": id}})
	}

	d := NewDispatcher(f.runner, 2, zerolog.Nop())
	results := d.Dispatch(context.Background(), events)

	require.Len(t, results, len(events))
	for i, res := range results {
		require.True(t, res.Success, "%+v", res.Error)
		assert.Equal(t, events[i].ScenarioID, res.ScenarioID)
		assert.Equal(t, events[i].ScenarioID, res.Outputs["n"].Data["id"])
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatcher_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := NewDispatcher(f.runner, 1, zerolog.Nop()).Dispatch(ctx, []TriggerEvent{{ScenarioID: "s1"}})

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Empty(t, results[0].RunID)
}
