package parallel

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEachVisitsEveryIndexOnce(t *testing.T) {
	const n = 100
	var visits [n]atomic.Int32

	err := ForEach(context.Background(), 4, n, func(i int) {
		visits[i].Add(1)
	})
	require.NoError(t, err)
	for i := range visits {
		assert.Equal(t, int32(1), visits[i].Load(), "index %d", i)
	}
}

func TestForEachCanceledContextDispatchesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	err := ForEach(ctx, 2, 10, func(int) { ran.Add(1) })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, ran.Load())
}

func TestForEachEmptyBatch(t *testing.T) {
	assert.NoError(t, ForEach(context.Background(), 0, 0, func(int) {
		t.Fatal("no index to visit")
	}))
}
