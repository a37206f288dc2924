package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelay(t *testing.T) {
	require.Equal(t, 500*time.Millisecond, Delay(DefaultBaseDelay, DefaultMaxDelay, 0, 0))
	require.Equal(t, 2*time.Second, Delay(DefaultBaseDelay, DefaultMaxDelay, 0, 2))
	require.Equal(t, DefaultMaxDelay, Delay(DefaultBaseDelay, DefaultMaxDelay, 0, 10))

	for i := 0; i < 100; i++ {
		d := Delay(time.Second, time.Minute, 0.2, 0)
		require.GreaterOrEqual(t, d, 800*time.Millisecond)
		require.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestIsTransientError(t *testing.T) {
	require.False(t, IsTransientError(nil))
	require.True(t, IsTransientError(context.DeadlineExceeded))
	require.True(t, IsTransientError(fmt.Errorf("sync: %w", context.DeadlineExceeded)))
	require.True(t, IsTransientError(io.ErrUnexpectedEOF))
	require.True(t, IsTransientError(errors.New("dial tcp: connection refused")))
	require.False(t, IsTransientError(errors.New("bad signature")))
}
