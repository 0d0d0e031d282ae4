package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishDeliversInSubscriptionOrder(t *testing.T) {
	b := New()

	var order []string
	b.Subscribe(TopicSyncCompleted, "first", func(any) { order = append(order, "first") })
	b.Subscribe(TopicSyncCompleted, "second", func(any) { order = append(order, "second") })

	b.Publish(TopicSyncCompleted, SyncCompletedPayload{UserID: "u1"})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBus_PublishPreservesEmissionOrderPerSubscriber(t *testing.T) {
	b := New()

	var seen []string
	b.Subscribe(TopicTranscriptAvailable, "sub", func(p any) {
		seen = append(seen, p.(TranscriptAvailablePayload).MeetingID)
	})

	b.Publish(TopicTranscriptAvailable, TranscriptAvailablePayload{MeetingID: "m-1"})
	b.Publish(TopicTranscriptAvailable, TranscriptAvailablePayload{MeetingID: "m-2"})
	b.Publish(TopicTranscriptAvailable, TranscriptAvailablePayload{MeetingID: "m-3"})

	assert.Equal(t, []string{"m-1", "m-2", "m-3"}, seen)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()

	count := 0
	b.Subscribe(TopicCredentialInvalidated, "sub", func(any) { count++ })
	b.Publish(TopicCredentialInvalidated, nil)
	b.Unsubscribe(TopicCredentialInvalidated, "sub")
	b.Publish(TopicCredentialInvalidated, nil)

	assert.Equal(t, 1, count)
}

func TestBus_ResubscribeReplacesHandler(t *testing.T) {
	b := New()

	var got string
	b.Subscribe(TopicSyncCompleted, "sub", func(any) { got = "old" })
	b.Subscribe(TopicSyncCompleted, "sub", func(any) { got = "new" })
	b.Publish(TopicSyncCompleted, nil)

	assert.Equal(t, "new", got)
}

func TestBus_PanickingSubscriberDoesNotAffectOthers(t *testing.T) {
	b := New()

	delivered := false
	b.Subscribe(TopicSyncCompleted, "bad", func(any) { panic("boom") })
	b.Subscribe(TopicSyncCompleted, "good", func(any) { delivered = true })

	assert.NotPanics(t, func() { b.Publish(TopicSyncCompleted, nil) })
	assert.True(t, delivered)
}

func TestBus_PublishWithNoSubscribers(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() { b.Publish("unknown-topic", nil) })
}
