package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := NewBus()
	a, cancelA := b.Subscribe()
	c, cancelC := b.Subscribe()
	defer cancelC()

	b.Publish(Event{Type: "job", JobID: 7, Status: "queued"})
	got := <-a
	assert.EqualValues(t, 7, got.JobID)
	assert.False(t, got.Time.IsZero())
	assert.Equal(t, "queued", (<-c).Status)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	b.Publish(Event{Type: "job"})
	require.Len(t, c, 1)
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	defer cancel()
	for i := 0; i < 40; i++ {
		b.Publish(Event{JobID: int64(i)})
	}
	assert.Len(t, ch, cap(ch))

	var nilBus *Bus
	nilBus.Publish(Event{})
}
