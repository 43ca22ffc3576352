// Package consumer wires the broker, vision/audio/behavior analyzers, the
// risk aggregator, and best-effort persistence into the three concrete
// message handlers named in spec.md §4.2–§4.4. Each handler is a
// broker.Handler that always returns nil: poison input (malformed JSON,
// bad base64, an undecodable frame) is logged and dropped so the message
// is acked, and publish and persistence failures are logged and absorbed
// per spec.md §7.
package consumer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"log"

	"github.com/google/uuid"

	"github.com/ocx/proctoring-ai/internal/broker"
	"github.com/ocx/proctoring-ai/internal/metrics"
	"github.com/ocx/proctoring-ai/internal/risk"
	"github.com/ocx/proctoring-ai/internal/store"
	"github.com/ocx/proctoring-ai/internal/vision"
)

const snapshotJPEGQuality = 85

// FrameHandler decodes frame.analysis messages, scores them, and
// publishes one outbound result per emitted violation (spec.md §4.2).
type FrameHandler struct {
	Vision     *vision.Analyzer
	Publisher  broker.ResultPublisher
	Snapshots  store.ObjectStore
	Bucket     string
	Thresholds risk.SeverityThresholds
	Metrics    *metrics.Metrics // optional; nil disables instrumentation
}

func (h *FrameHandler) Handle(ctx context.Context, body []byte) error {
	var msg broker.InboundFrame
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Printf("[frame] malformed message, dropping: %v", err)
		if h.Metrics != nil {
			h.Metrics.RecordDropped("frame")
		}
		return nil // poison payload, ack-drop per spec.md §7
	}

	jpegBytes, err := base64.StdEncoding.DecodeString(msg.FrameData)
	if err != nil {
		log.Printf("[frame] session %s: bad base64, dropping: %v", msg.SessionID, err)
		if h.Metrics != nil {
			h.Metrics.RecordDropped("frame")
		}
		return nil
	}

	img, _, err := image.Decode(bytes.NewReader(jpegBytes))
	if err != nil {
		log.Printf("[frame] session %s: undecodable jpeg, dropping: %v", msg.SessionID, err)
		if h.Metrics != nil {
			h.Metrics.RecordDropped("frame")
		}
		return nil
	}

	ev := h.Vision.Analyze(ctx, jpegBytes)
	result := risk.ScoreFrame(ev, h.Thresholds)
	if h.Metrics != nil {
		h.Metrics.RiskScore.WithLabelValues("frame").Observe(result.RiskScore)
	}
	if len(result.Violations) == 0 {
		return nil
	}

	var snapshotPath *string
	if result.Severity == risk.SeverityHigh || result.Severity == risk.SeverityCritical {
		if path, err := h.uploadSnapshot(ctx, msg.SessionID, img); err != nil {
			log.Printf("[frame] session %s: snapshot upload failed, continuing without it: %v", msg.SessionID, err)
		} else {
			snapshotPath = &path
		}
	}

	metadata := map[string]any{
		"face_count":       ev.FaceCount,
		"gaze_off_screen":  ev.GazeOffScreen,
		"eyes_closed":      ev.EyesClosed,
		"mouth_open":       ev.MouthOpen,
		"phone_confidence": ev.PhoneConfidence,
		"notes_confidence": ev.NotesConfidence,
		"head_yaw":         ev.HeadYawDeg,
		"head_pitch":       ev.HeadPitch,
		"lip_ratio":        ev.LipRatio,
	}

	for _, v := range result.Violations {
		confidence := v.Confidence
		out := broker.OutboundResult{
			SessionID:    msg.SessionID,
			EventType:    v.EventType,
			Severity:     v.Severity,
			Confidence:   &confidence,
			Description:  v.Description,
			SnapshotPath: snapshotPath,
			RiskScore:    result.RiskScore,
			Metadata:     metadata,
		}
		if err := h.Publisher.Publish(ctx, out); err != nil {
			log.Printf("[frame] session %s: publish dropped: %v", msg.SessionID, err)
		} else if h.Metrics != nil {
			h.Metrics.RecordViolation(v.EventType, v.Severity)
		}
	}

	return nil
}

func (h *FrameHandler) uploadSnapshot(ctx context.Context, sessionID string, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: snapshotJPEGQuality}); err != nil {
		return "", fmt.Errorf("re-encode snapshot: %w", err)
	}

	key := fmt.Sprintf("%s/%s.jpg", sessionID, uuid.NewString())
	if err := h.Snapshots.Upload(ctx, h.Bucket, key, buf.Bytes(), "image/jpeg"); err != nil {
		return "", err
	}
	return key, nil
}
