package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFanout(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	tasks, unsubTasks := b.Subscribe(4, "task.")
	defer unsubTasks()

	b.Publish(Event{Type: "recruitment.started", Data: 1})
	b.Publish(Event{Type: "task.failed", Data: 2})

	require.Len(t, all, 2)
	require.Len(t, tasks, 1)
	e := <-tasks
	assert.Equal(t, "task.failed", e.Type)
	assert.False(t, e.Time.IsZero())
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1, "x")
	defer unsub()

	b.Publish(Event{Type: "x"})
	b.Publish(Event{Type: "x"})

	assert.Len(t, ch, 1)
	assert.EqualValues(t, 1, b.(Stats).Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, open := <-ch
	assert.False(t, open)
	b.Publish(Event{Type: "after"})
}
