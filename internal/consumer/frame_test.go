package consumer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/proctoring-ai/internal/broker"
	"github.com/ocx/proctoring-ai/internal/config"
	"github.com/ocx/proctoring-ai/internal/models"
	"github.com/ocx/proctoring-ai/internal/risk"
	"github.com/ocx/proctoring-ai/internal/vision"
)

func tinyJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

type fakePublisher struct {
	published []broker.OutboundResult
	failNext  bool
}

func (f *fakePublisher) Publish(_ context.Context, result broker.OutboundResult) error {
	if f.failNext {
		f.failNext = false
		return assert.AnError
	}
	f.published = append(f.published, result)
	return nil
}

type fakeStore struct {
	uploaded   map[string][]byte
	failUpload bool
}

func (f *fakeStore) Upload(_ context.Context, bucket, key string, data []byte, _ string) error {
	if f.failUpload {
		return assert.AnError
	}
	if f.uploaded == nil {
		f.uploaded = map[string][]byte{}
	}
	f.uploaded[bucket+"/"+key] = data
	return nil
}

func (f *fakeStore) Download(_ context.Context, _, _ string) ([]byte, error) { return nil, nil }

func frameMessage(t *testing.T, sessionID string) []byte {
	t.Helper()
	msg := broker.InboundFrame{
		SessionID: sessionID,
		FrameData: base64.StdEncoding.EncodeToString(tinyJPEG(t)),
		Timestamp: 1,
	}
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return body
}

func TestFrameHandler_CleanFrame_NoPublish(t *testing.T) {
	pub := &fakePublisher{}
	h := &FrameHandler{
		Vision:     vision.NewAnalyzer(&models.Registry{}, defaultThresholds()),
		Publisher:  pub,
		Snapshots:  &fakeStore{},
		Bucket:     "proctoring-snapshots",
		Thresholds: risk.DefaultSeverityThresholds(),
	}

	err := h.Handle(context.Background(), frameMessage(t, "sess-1"))
	require.NoError(t, err)
	assert.Empty(t, pub.published)
}

func TestFrameHandler_MalformedMessage_DroppedNoError(t *testing.T) {
	pub := &fakePublisher{}
	h := &FrameHandler{
		Vision:     vision.NewAnalyzer(&models.Registry{}, defaultThresholds()),
		Publisher:  pub,
		Snapshots:  &fakeStore{},
		Bucket:     "proctoring-snapshots",
		Thresholds: risk.DefaultSeverityThresholds(),
	}

	err := h.Handle(context.Background(), []byte("not json"))
	require.NoError(t, err)
	assert.Empty(t, pub.published)
}

func TestFrameHandler_BadBase64_DroppedNoError(t *testing.T) {
	pub := &fakePublisher{}
	h := &FrameHandler{
		Vision:     vision.NewAnalyzer(&models.Registry{}, defaultThresholds()),
		Publisher:  pub,
		Snapshots:  &fakeStore{},
		Bucket:     "proctoring-snapshots",
		Thresholds: risk.DefaultSeverityThresholds(),
	}

	body, _ := json.Marshal(broker.InboundFrame{SessionID: "s", FrameData: "!!!not-base64!!!"})
	err := h.Handle(context.Background(), body)
	require.NoError(t, err)
	assert.Empty(t, pub.published)
}

type fakeFaceMeshMissing struct{}

func (fakeFaceMeshMissing) Analyze(_ context.Context, _ []byte) (models.FaceMeshResult, error) {
	return models.FaceMeshResult{FaceCount: 0}, nil
}

func TestFrameHandler_FaceMissing_UploadsSnapshotAndPublishes(t *testing.T) {
	pub := &fakePublisher{}
	snaps := &fakeStore{}
	registry := &models.Registry{FaceMesh: fakeFaceMeshMissing{}, FaceMeshOK: true}
	h := &FrameHandler{
		Vision:     vision.NewAnalyzer(registry, defaultThresholds()),
		Publisher:  pub,
		Snapshots:  snaps,
		Bucket:     "proctoring-snapshots",
		Thresholds: risk.DefaultSeverityThresholds(),
	}

	err := h.Handle(context.Background(), frameMessage(t, "sess-missing"))
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	out := pub.published[0]
	assert.Equal(t, risk.EventFaceNotDetected, out.EventType)
	assert.Equal(t, risk.SeverityHigh, out.Severity)
	require.NotNil(t, out.SnapshotPath)
	assert.Contains(t, *out.SnapshotPath, "sess-missing/")
	assert.Len(t, snaps.uploaded, 1)
}

func TestFrameHandler_SnapshotUploadFails_StillPublishesWithNilPath(t *testing.T) {
	pub := &fakePublisher{}
	snaps := &fakeStore{failUpload: true}
	registry := &models.Registry{FaceMesh: fakeFaceMeshMissing{}, FaceMeshOK: true}
	h := &FrameHandler{
		Vision:     vision.NewAnalyzer(registry, defaultThresholds()),
		Publisher:  pub,
		Snapshots:  snaps,
		Bucket:     "proctoring-snapshots",
		Thresholds: risk.DefaultSeverityThresholds(),
	}

	err := h.Handle(context.Background(), frameMessage(t, "sess-2"))
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	assert.Nil(t, pub.published[0].SnapshotPath)
}

func defaultThresholds() config.ThresholdsConfig {
	return config.ThresholdsConfig{
		FaceConfidence: 0.5,
		GazeYaw:        25.0,
		GazePitch:      25.0,
		LipDistance:    0.06,
		PhoneConf:      0.50,
		NotesConf:      0.55,
		SpeechRatio:    0.20,
	}
}
