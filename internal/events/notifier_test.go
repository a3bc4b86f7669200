package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_PublishNoSubscribers(t *testing.T) {
	n := NewNotifier(4)
	n.Publish(Notification{Kind: RunStarted, Job: "orders"})
}

func TestNotifier_SubscribeReceives(t *testing.T) {
	n := NewNotifier(4)
	sub := n.Subscribe()

	n.Publish(Notification{Kind: RunSucceeded, Job: "orders", RunID: "r1", TotalRows: 3})

	select {
	case got := <-sub.Ch:
		assert.Equal(t, RunSucceeded, got.Kind)
		assert.Equal(t, "r1", got.RunID)
		assert.Equal(t, int64(3), got.TotalRows)
	case <-time.After(time.Second):
		t.Fatal("no notification received")
	}
}

func TestNotifier_PrefixFilter(t *testing.T) {
	n := NewNotifier(4)
	sub := n.Subscribe("orders-", "users")

	n.Publish(Notification{Kind: RunStarted, Job: "events"})
	n.Publish(Notification{Kind: RunStarted, Job: "orders-eu"})
	n.Publish(Notification{Kind: RunStarted, Job: "users"})

	require.Len(t, sub.Ch, 2)
	assert.Equal(t, "orders-eu", (<-sub.Ch).Job)
	assert.Equal(t, "users", (<-sub.Ch).Job)
}

func TestNotifier_FullSubscriberDoesNotBlock(t *testing.T) {
	n := NewNotifier(1)
	sub := n.Subscribe()

	n.Publish(Notification{Job: "a"})
	n.Publish(Notification{Job: "b"})

	require.Len(t, sub.Ch, 1)
	assert.Equal(t, "a", (<-sub.Ch).Job)
}

func TestNotifier_Unsubscribe(t *testing.T) {
	n := NewNotifier(1)
	sub := n.Subscribe()
	n.Unsubscribe(sub.ID)

	_, open := <-sub.Ch
	assert.False(t, open)

	// Unknown ids and publishes after unsubscribe are no-ops.
	n.Unsubscribe(sub.ID)
	n.Publish(Notification{Job: "a"})
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "started", RunStarted.String())
	assert.Equal(t, "succeeded", RunSucceeded.String())
	assert.Equal(t, "failed", RunFailed.String())
	assert.Equal(t, "unknown", Kind(9).String())
}
