package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRejectsBadSchedules(t *testing.T) {
	for _, spec := range []string{"", "   ", "61 * * * *", "* * *"} {
		_, err := New(spec, nil)
		assert.Error(t, err, "spec %q", spec)
	}
}

func TestNextRunBeforeStart(t *testing.T) {
	s, err := New("0 3 * * *", nil)
	require.NoError(t, err)
	assert.Nil(t, s.NextRun())
}

func TestRunInvokesTaskUntilCancelled(t *testing.T) {
	s, err := New("@every 1s", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	fired := make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context) {
			calls.Add(1)
			select {
			case fired <- struct{}{}:
			default:
			}
		})
	}()

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("task never ran")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestStopIsIdempotent(t *testing.T) {
	s, err := New("0 3 * * *", nil)
	require.NoError(t, err)
	s.Stop()
	s.Stop()
}
