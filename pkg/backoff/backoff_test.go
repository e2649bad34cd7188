package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	t.Run("retries", func(t *testing.T) {
		b := New(3, time.Millisecond, time.Millisecond*10)
		assert.True(t, b.Wait(context.Background()))
		assert.True(t, b.Wait(context.Background()))
		assert.True(t, b.Wait(context.Background()))
		assert.False(t, b.Wait(context.Background()))
		assert.Equal(t, 3, b.Attempts())
	})

	t.Run("reset", func(t *testing.T) {
		b := New(1, time.Millisecond, time.Millisecond*10)
		assert.True(t, b.Wait(context.Background()))
		assert.False(t, b.Wait(context.Background()))

		b.Reset()
		assert.Equal(t, 0, b.Attempts())
		assert.True(t, b.Wait(context.Background()))
	})

	t.Run("max backoff", func(t *testing.T) {
		b := New(0, time.Millisecond, time.Millisecond*4)
		for i := 0; i != 10; i++ {
			b.lastBackoff = b.nextWait()
			assert.LessOrEqual(t, b.lastBackoff, time.Millisecond*4)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		b := New(0, time.Minute, time.Minute)
		assert.False(t, b.Wait(ctx))
	})
}
