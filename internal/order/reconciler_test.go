package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestReconciler_RequestsOnlyWithOpenOrders(t *testing.T) {
	m, bus, b := setup(t)
	r := NewReconciler(m, b, time.Second, zap.NewNop())

	r.runOnce(context.Background())
	assert.Equal(t, 0, b.openReqs, "nothing open")

	ack(t, bus, 1, "10")
	r.runOnce(context.Background())
	assert.Equal(t, 1, b.openReqs)

	b.connected = false
	r.runOnce(context.Background())
	assert.Equal(t, 1, b.openReqs, "skipped while disconnected")

	b.connected = true
	fill(t, bus, 1, "e1", "10", "100")
	r.runOnce(context.Background())
	assert.Equal(t, 1, b.openReqs, "order filled")
}

func TestReconciler_StopEndsLoop(t *testing.T) {
	m, _, b := setup(t)
	r := NewReconciler(m, b, 10*time.Millisecond, zap.NewNop())

	done := make(chan struct{})
	go func() {
		r.Start(context.Background())
		close(done)
	}()
	r.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
