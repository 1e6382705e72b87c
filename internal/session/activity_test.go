package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityHub_UnregisteredMessagesAreDiscarded(t *testing.T) {
	hub := NewActivityHub(10)

	hub.Publish("run-1", Entry{Kind: KindAction, Message: "ignored"})
	assert.Zero(t, hub.Len("run-1"))
	assert.Nil(t, hub.Drain("run-1"))

	hub.Register("run-1")
	hub.Publish("run-1", Entry{Kind: KindAction, Message: "kept"})
	assert.Equal(t, 1, hub.Len("run-1"))
}

func TestActivityHub_FIFOOrder(t *testing.T) {
	hub := NewActivityHub(10)
	hub.Register("run-1")

	for i := 0; i < 5; i++ {
		hub.Publish("run-1", Entry{Kind: KindAction, Message: fmt.Sprintf("msg-%d", i)})
	}

	entries := hub.Drain("run-1")
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), e.Message)
	}

	// Drain removes: a second drain yields nothing.
	assert.Nil(t, hub.Drain("run-1"))
}

func TestActivityHub_OverflowDropsOldest(t *testing.T) {
	hub := NewActivityHub(3)
	hub.Register("run-1")

	for i := 0; i < 7; i++ {
		hub.Publish("run-1", Entry{Kind: KindAction, Message: fmt.Sprintf("msg-%d", i)})
	}

	assert.Equal(t, 3, hub.Len("run-1"))
	entries := hub.Drain("run-1")
	require.Len(t, entries, 3)
	// The most recent entries survive, oldest are evicted, order preserved.
	assert.Equal(t, "msg-4", entries[0].Message)
	assert.Equal(t, "msg-5", entries[1].Message)
	assert.Equal(t, "msg-6", entries[2].Message)
}

func TestActivityHub_UnregisterDropsBuffer(t *testing.T) {
	hub := NewActivityHub(10)
	hub.Register("run-1")
	hub.Publish("run-1", Entry{Kind: KindResult, Message: "pending"})

	hub.Unregister("run-1")
	assert.False(t, hub.Registered("run-1"))
	assert.Nil(t, hub.Drain("run-1"))

	// Messages after unregistration are discarded at the source.
	hub.Publish("run-1", Entry{Kind: KindResult, Message: "late"})
	assert.Zero(t, hub.Len("run-1"))
}

func TestActivityHub_SessionsAreIndependent(t *testing.T) {
	hub := NewActivityHub(10)
	hub.Register("run-1")
	hub.Register("run-2")

	hub.Publish("run-1", Entry{Kind: KindAction, Message: "one"})
	hub.Publish("run-2", Entry{Kind: KindAction, Message: "two"})

	first := hub.Drain("run-1")
	require.Len(t, first, 1)
	assert.Equal(t, "one", first[0].Message)
	assert.Equal(t, 1, hub.Len("run-2"))
}

func TestActivityHub_StampsTime(t *testing.T) {
	hub := NewActivityHub(10)
	hub.Register("run-1")
	hub.Publish("run-1", Entry{Kind: KindAction, Message: "m"})

	entries := hub.Drain("run-1")
	require.Len(t, entries, 1)
	assert.False(t, entries[0].At.IsZero())
}

func TestPublisher_ThreadLabels(t *testing.T) {
	hub := NewActivityHub(10)
	hub.Register("run-1")
	pub := NewPublisher(hub, "run-1")

	pub.Action("no thread yet")
	pub.StartThread("Acme — Staff Engineer", "Started")
	pub.Action("clicked apply")
	pub.SetThreadStatus("Queued")
	pub.Result("queued for submission")
	pub.EndThread()
	pub.Thought("moving on")

	entries := hub.Drain("run-1")
	require.Len(t, entries, 4)

	assert.Empty(t, entries[0].ThreadTitle)
	assert.Equal(t, "Acme — Staff Engineer", entries[1].ThreadTitle)
	assert.Equal(t, "Started", entries[1].ThreadStatus)
	assert.Equal(t, "Queued", entries[2].ThreadStatus)
	assert.Equal(t, KindResult, entries[2].Kind)
	assert.Empty(t, entries[3].ThreadTitle)
}

func TestPublisher_StatusBypassesThread(t *testing.T) {
	hub := NewActivityHub(10)
	hub.Register("run-1")
	pub := NewPublisher(hub, "run-1")

	pub.StartThread("Acme — Staff Engineer", "Started")
	pub.Status("Session paused.")

	entries := hub.Drain("run-1")
	require.Len(t, entries, 1)
	assert.Equal(t, KindStatus, entries[0].Kind)
	assert.Empty(t, entries[0].ThreadTitle)
}
