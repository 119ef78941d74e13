package poll_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/service-desk-realtime/internal/adapters/primary/poll"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalizeFeed(t *testing.T) {
	t.Run("flat array", func(t *testing.T) {
		feed, err := poll.NormalizeFeed(json.RawMessage(`[{"id":"a","kind":"generic","message":"hi"}]`))

		require.NoError(t, err)
		require.Len(t, feed, 1)
		assert.Equal(t, "a", feed[0].ID)
	})

	t.Run("paginated envelope", func(t *testing.T) {
		feed, err := poll.NormalizeFeed(json.RawMessage(`{"results":[{"id":"a"},{"id":"b"}]}`))

		require.NoError(t, err)
		require.Len(t, feed, 2)
		assert.Equal(t, "b", feed[1].ID)
	})

	t.Run("empty payload", func(t *testing.T) {
		feed, err := poll.NormalizeFeed(nil)

		require.NoError(t, err)
		assert.Empty(t, feed)
	})

	t.Run("unrecognized shape", func(t *testing.T) {
		_, err := poll.NormalizeFeed(json.RawMessage(`"not a feed"`))
		assert.Error(t, err)
	})
}

func TestPoller_RunsEagerly(t *testing.T) {
	var runs atomic.Int32
	ran := make(chan struct{}, 1)

	p := poll.New(time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}, testLogger())

	p.Start(context.Background())
	defer p.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("eager run never happened")
	}
	assert.Equal(t, int32(1), runs.Load())
}

func TestPoller_PollNowCoalesces(t *testing.T) {
	var runs atomic.Int32
	gate := make(chan struct{})

	p := poll.New(time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return nil
	}, testLogger())

	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Several requests while the first cycle is still fetching collapse into
	// at most one pending run.
	p.PollNow()
	p.PollNow()
	p.PollNow()

	gate <- struct{}{}
	require.Eventually(t, func() bool { return runs.Load() == 2 }, 2*time.Second, 10*time.Millisecond)

	gate <- struct{}{}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), runs.Load())
}

func TestPoller_FailuresAreAbsorbed(t *testing.T) {
	var runs atomic.Int32

	p := poll.New(time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return assert.AnError
	}, testLogger())

	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The loop survives the failure and serves the next request.
	p.PollNow()
	require.Eventually(t, func() bool { return runs.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestPoller_StopCancelsTheLoop(t *testing.T) {
	var runs atomic.Int32

	p := poll.New(time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, testLogger())

	p.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	p.Stop()

	p.PollNow()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestPoller_StopWithoutStartIsSafe(t *testing.T) {
	p := poll.New(time.Hour, func(ctx context.Context) error { return nil }, testLogger())
	p.Stop()
}
