package status

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wosbot/internal/eventbus"
	"wosbot/internal/task/unit"
)

func TestUpdateLastWriteWinsAndPublishes(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4, eventbus.TopicTaskStatus)
	defer unsub()

	r := New(bus)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.Update(Entry{ProfileID: "a", Task: "x", State: unit.StateRunning, UpdatedAt: at})
	r.Update(Entry{ProfileID: "a", Task: "x", State: unit.StateRescheduled, UpdatedAt: at.Add(time.Second)})

	got, ok := r.Get("a", "x")
	require.True(t, ok)
	require.Equal(t, unit.StateRescheduled, got.State)

	first := <-ch
	require.Equal(t, eventbus.TopicTaskStatus, first.Topic)
	require.Equal(t, unit.StateRunning, first.Data.(Entry).State)
	second := <-ch
	require.Equal(t, unit.StateRescheduled, second.Data.(Entry).State)
}

func TestSnapshotOrderAndDelete(t *testing.T) {
	t.Parallel()
	r := New(nil)
	r.Update(Entry{ProfileID: "b", Task: "y"})
	r.Update(Entry{ProfileID: "a", Task: "z"})
	r.Update(Entry{ProfileID: "a", Task: "x"})

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, []string{"a/x", "a/z", "b/y"}, keys(snap))
	require.Equal(t, []string{"a/x", "a/z"}, keys(r.Profile("a")))

	r.Delete("a", "x")
	_, ok := r.Get("a", "x")
	require.False(t, ok)

	r.DeleteProfile("a")
	require.Equal(t, []string{"b/y"}, keys(r.Snapshot()))
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	t.Parallel()
	r := New(eventbus.New())
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				r.Update(Entry{ProfileID: fmt.Sprintf("p%d", w), Task: "t", Failures: 0, State: unit.StateRunning})
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = r.Snapshot()
			}
		}()
	}
	wg.Wait()
	require.Len(t, r.Snapshot(), 4)
}

func keys(es []Entry) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.ProfileID+"/"+string(e.Task))
	}
	return out
}
