package mq

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 30 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{50, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, b.Delay(tt.attempt))
		})
	}
	assert.Zero(t, Backoff{}.Delay(3))
	assert.Equal(t, 8*time.Second, Backoff{Initial: time.Second}.Delay(3), "no cap")
}

func TestWait(t *testing.T) {
	assert.NoError(t, Wait(context.Background(), 0))
	assert.NoError(t, Wait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
}

func TestSettle(t *testing.T) {
	base := errors.New("malformed envelope")
	assert.Equal(t, Ack, Settle(nil))
	assert.Equal(t, Requeue, Settle(base))
	assert.Equal(t, DeadLetter, Settle(Permanent(base)))
	assert.Equal(t, DeadLetter, Settle(fmt.Errorf("handling: %w", Permanent(base))))

	assert.Nil(t, Permanent(nil))
	assert.ErrorIs(t, Permanent(base), base)
	assert.Equal(t, "dead-letter", DeadLetter.String())
}

func TestTopology_DeadLetterQueue(t *testing.T) {
	assert.Equal(t, "workflow-in.dlq", Topology{Input: "workflow-in"}.DeadLetterQueue())
}
