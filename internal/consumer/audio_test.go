package consumer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/proctoring-ai/internal/audio"
	"github.com/ocx/proctoring-ai/internal/broker"
	"github.com/ocx/proctoring-ai/internal/models"
	"github.com/ocx/proctoring-ai/internal/risk"
)

type fakeVADHighRatio struct{}

func (fakeVADHighRatio) Analyze(_ context.Context, _ []byte) (models.VADResult, error) {
	return models.VADResult{SpeechRatio: 0.80, SpeechDurationMs: 800, TotalDurationMs: 1000}, nil
}

func audioMessage(sessionID string) []byte {
	msg := broker.InboundAudio{
		SessionID: sessionID,
		AudioData: base64.StdEncoding.EncodeToString([]byte("clip-bytes")),
		Timestamp: 1,
	}
	body, _ := json.Marshal(msg)
	return body
}

func TestAudioHandler_HighRatio_PublishesHighSeverityWithScaledRisk(t *testing.T) {
	pub := &fakePublisher{}
	registry := &models.Registry{VAD: fakeVADHighRatio{}, VADOK: true}
	h := &AudioHandler{
		Audio:     audio.NewAnalyzer(registry, 0.20),
		Publisher: pub,
	}

	err := h.Handle(context.Background(), audioMessage("sess-1"))
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	out := pub.published[0]
	assert.Equal(t, risk.EventSuspiciousAudio, out.EventType)
	assert.Equal(t, risk.SeverityHigh, out.Severity)
	require.NotNil(t, out.Confidence)
	assert.InDelta(t, 0.80, *out.Confidence, 1e-9)
	assert.InDelta(t, 0.48, out.RiskScore, 1e-9) // 0.80 * 0.6, round3
}

func TestAudioHandler_NoCapability_NoPublish(t *testing.T) {
	pub := &fakePublisher{}
	h := &AudioHandler{
		Audio:     audio.NewAnalyzer(&models.Registry{}, 0.20),
		Publisher: pub,
	}

	err := h.Handle(context.Background(), audioMessage("sess-2"))
	require.NoError(t, err)
	assert.Empty(t, pub.published)
}

func TestAudioHandler_MalformedMessage_NoError(t *testing.T) {
	pub := &fakePublisher{}
	h := &AudioHandler{
		Audio:     audio.NewAnalyzer(&models.Registry{}, 0.20),
		Publisher: pub,
	}

	err := h.Handle(context.Background(), []byte("garbage"))
	require.NoError(t, err)
	assert.Empty(t, pub.published)
}
