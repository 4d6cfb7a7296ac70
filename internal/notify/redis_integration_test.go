//go:build integration

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func TestRedisSinkPublishAndSubscribe(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	sink, err := NewRedisSink("redis://"+endpoint, "test:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	e := NewEvent(EventAssigned, "as1", "w1", "agent-1", at)
	require.NoError(t, sink.Deliver(ctx, e))

	n, err := sink.rdb.XLen(ctx, sink.EventsStream()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	subCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ch := sink.Subscribe(subCtx, "agent-1", "0")
	select {
	case got := <-ch:
		require.NotNil(t, got)
		assert.Equal(t, EventAssigned, got.Type)
		assert.Equal(t, "as1", got.AssignmentID)
		assert.True(t, at.Equal(got.OccurredAt))
	case <-subCtx.Done():
		t.Fatal("no event received")
	}
}
