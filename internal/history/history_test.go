package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoopRecorder_NeverErrors(t *testing.T) {
	var r Recorder = NoopRecorder{}
	assert.NoError(t, r.RecordMatch(context.Background(), MatchSummary{MatchID: "m1"}))
}

func TestNoopRegistry_NeverErrors(t *testing.T) {
	var r Registry = NoopRegistry{}
	assert.NoError(t, r.MarkLive(context.Background(), "m1", LiveState{CurrentEnd: 1, Shot: 2}))
	assert.NoError(t, r.MarkFinished(context.Background(), "m1"))
}

func TestRedisRegistry_KeyNamespacesByMatchID(t *testing.T) {
	r := &RedisRegistry{}
	assert.Equal(t, "match:abc123:status", r.key("abc123"))
}
