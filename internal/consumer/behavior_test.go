package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/proctoring-ai/internal/behavior"
	"github.com/ocx/proctoring-ai/internal/risk"
)

type fakeEventStore struct {
	appended     int
	failNext     bool
	lastMetadata map[string]any
}

func (f *fakeEventStore) AppendEvent(_ context.Context, _, _ string, _ time.Time, metadata map[string]any) error {
	if f.failNext {
		f.failNext = false
		return assert.AnError
	}
	f.appended++
	f.lastMetadata = metadata
	return nil
}

func behaviorMessage(sessionID, eventType string, extra map[string]any) []byte {
	m := map[string]any{
		"sessionId": sessionID,
		"type":      eventType,
		"timestamp": time.Now().UnixMilli(),
	}
	for k, v := range extra {
		m[k] = v
	}
	body, _ := json.Marshal(m)
	return body
}

func TestBehaviorHandler_QuietSession_PersistsButNoPublish(t *testing.T) {
	pub := &fakePublisher{}
	events := &fakeEventStore{}
	h := &BehaviorHandler{
		Window:     behavior.NewWindow(50, 300, 0, 0),
		Events:     events,
		Publisher:  pub,
		Thresholds: risk.DefaultSeverityThresholds(),
	}

	err := h.Handle(context.Background(), behaviorMessage("sess-1", "TAB_SWITCH", nil))
	require.NoError(t, err)
	assert.Equal(t, 1, events.appended)
	assert.Empty(t, pub.published)
}

func TestBehaviorHandler_Burst_PublishesSuspiciousBehavior(t *testing.T) {
	pub := &fakePublisher{}
	events := &fakeEventStore{}
	w := behavior.NewWindow(50, 300, 0, 0)
	h := &BehaviorHandler{
		Window:     w,
		Events:     events,
		Publisher:  pub,
		Thresholds: risk.DefaultSeverityThresholds(),
	}

	for i := 0; i < 15; i++ {
		err := h.Handle(context.Background(), behaviorMessage("sess-2", "TAB_SWITCH", nil))
		require.NoError(t, err)
	}

	require.NotEmpty(t, pub.published)
	last := pub.published[len(pub.published)-1]
	assert.Equal(t, risk.EventSuspiciousBehavior, last.EventType)
}

func TestBehaviorHandler_PersistenceFailure_StillScoresAndContinues(t *testing.T) {
	pub := &fakePublisher{}
	events := &fakeEventStore{failNext: true}
	h := &BehaviorHandler{
		Window:     behavior.NewWindow(50, 300, 0, 0),
		Events:     events,
		Publisher:  pub,
		Thresholds: risk.DefaultSeverityThresholds(),
	}

	err := h.Handle(context.Background(), behaviorMessage("sess-3", "TAB_SWITCH", nil))
	require.NoError(t, err)
	assert.Equal(t, 0, events.appended)
}

func TestBehaviorHandler_MalformedMessage_NoError(t *testing.T) {
	pub := &fakePublisher{}
	events := &fakeEventStore{}
	h := &BehaviorHandler{
		Window:     behavior.NewWindow(50, 300, 0, 0),
		Events:     events,
		Publisher:  pub,
		Thresholds: risk.DefaultSeverityThresholds(),
	}

	err := h.Handle(context.Background(), []byte("not json"))
	require.NoError(t, err)
	assert.Empty(t, pub.published)
}

func TestBehaviorHandler_PassthroughFieldsBecomeMetadata(t *testing.T) {
	events := &fakeEventStore{}
	h := &BehaviorHandler{
		Window:     behavior.NewWindow(50, 300, 0, 0),
		Events:     events,
		Publisher:  &fakePublisher{},
		Thresholds: risk.DefaultSeverityThresholds(),
	}

	body := behaviorMessage("sess-4", "COPY_PASTE", map[string]any{"clipboardLength": float64(42)})
	err := h.Handle(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, 1, events.appended)
	require.NotNil(t, events.lastMetadata)
	assert.Equal(t, float64(42), events.lastMetadata["clipboardLength"])
	assert.NotContains(t, events.lastMetadata, "sessionId")
	assert.NotContains(t, events.lastMetadata, "type")
	assert.NotContains(t, events.lastMetadata, "timestamp")
}
