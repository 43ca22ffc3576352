// Package models is the one-time-load, read-after-init registry for the
// optional ML artifacts: the four named in spec.md §4.7 (an
// object-detection model, a behavior classifier, a face-encoding
// capability, and a face-mesh capability) plus a voice-activity detector
// used by the audio module. Each is an interface contract satisfied by a gRPC
// channel to an external inference service — actual model implementations
// are explicitly out of scope (spec.md §1).
//
// A Registry is built once during startup (LoadAll) and handed by
// reference to every consumer and vision module thereafter. It is never
// mutated after that, so no locking is required to read it (spec.md §5).
package models

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

// ObjectDetector classifies exam-relevant objects (phone, notes/book,
// extra persons) in a single JPEG frame.
type ObjectDetector interface {
	Detect(ctx context.Context, jpeg []byte) (ObjectDetections, error)
}

// ObjectDetections is the raw, unthresholded output of the object detector.
// internal/vision applies the configured per-class confidence thresholds.
type ObjectDetections struct {
	PhoneConfidence float64
	NotesConfidence float64
	PersonCount     int
}

// FaceMesh returns head-pose and facial-landmark derived measurements for
// a single JPEG frame. It backs the face-presence, gaze, and mouth vision
// modules — spec.md §4.7 only budgets one "face-mesh capability" artifact,
// so all three share it.
type FaceMesh interface {
	Analyze(ctx context.Context, jpeg []byte) (FaceMeshResult, error)
}

type FaceMeshResult struct {
	FaceCount  int
	HeadYawDeg float64
	HeadPitch  float64
	EyesClosed bool
	LipRatio   float64
}

// BehaviorClassifier predicts P(suspicious) from the fixed-order behavior
// feature vector described in spec.md §4.5.
type BehaviorClassifier interface {
	Predict(ctx context.Context, features []float64) (float64, error)
}

// FaceEncoder produces a face embedding for identity verification.
type FaceEncoder interface {
	Encode(ctx context.Context, image []byte) ([]float64, error)
}

// VoiceActivityDetector classifies speech presence in a raw, still-encoded
// audio clip — decoding the container/codec is the model's job, not ours
// (spec.md §1, "Transport framing of the broker protocol itself is also
// external" extends to the clip's own media framing).
type VoiceActivityDetector interface {
	Analyze(ctx context.Context, clip []byte) (VADResult, error)
}

type VADResult struct {
	SpeechRatio      float64
	SpeechDurationMs float64
	TotalDurationMs  float64
}

// Registry holds the readiness flag and (possibly nil) handle for each
// artifact. Zero value is "nothing loaded" — every Ready flag false.
type Registry struct {
	ObjectDetector   ObjectDetector
	ObjectDetectorOK bool

	BehaviorClassifier   BehaviorClassifier
	BehaviorClassifierOK bool

	FaceEncoder   FaceEncoder
	FaceEncoderOK bool

	FaceMesh   FaceMesh
	FaceMeshOK bool

	VAD   VoiceActivityDetector
	VADOK bool

	conns []*grpc.ClientConn
}

// Addrs is the set of external service addresses configured for each
// capability. An empty address means "don't attempt to load this one".
type Addrs struct {
	ObjectDetector     string
	BehaviorClassifier string
	FaceEncoder        string
	FaceMesh           string
	VAD                string
	DialTimeout        time.Duration
}

// LoadAll attempts to bring up each of the five capabilities exactly once.
// Every failure is independently caught and logged; the corresponding
// readiness flag is left false and the handle nil, so the rest of the
// service degrades gracefully (spec.md §4.7, §7 Degraded capability class).
func LoadAll(addrs Addrs) *Registry {
	r := &Registry{}

	if conn, ok := dialReady(addrs.ObjectDetector, addrs.DialTimeout); ok {
		r.ObjectDetector = &grpcObjectDetector{conn: conn}
		r.ObjectDetectorOK = true
		r.conns = append(r.conns, conn)
		slog.Info("model registry: object detector ready", "addr", addrs.ObjectDetector)
	} else {
		slog.Warn("model registry: object detector unavailable, phone/notes detection disabled", "addr", addrs.ObjectDetector)
	}

	if conn, ok := dialReady(addrs.BehaviorClassifier, addrs.DialTimeout); ok {
		r.BehaviorClassifier = &grpcBehaviorClassifier{conn: conn}
		r.BehaviorClassifierOK = true
		r.conns = append(r.conns, conn)
		slog.Info("model registry: behavior classifier ready", "addr", addrs.BehaviorClassifier)
	} else {
		slog.Warn("model registry: behavior classifier unavailable, rule-based fallback will be used", "addr", addrs.BehaviorClassifier)
	}

	if conn, ok := dialReady(addrs.FaceEncoder, addrs.DialTimeout); ok {
		r.FaceEncoder = &grpcFaceEncoder{conn: conn}
		r.FaceEncoderOK = true
		r.conns = append(r.conns, conn)
		slog.Info("model registry: face encoder ready", "addr", addrs.FaceEncoder)
	} else {
		slog.Warn("model registry: face encoder unavailable, identity verification disabled", "addr", addrs.FaceEncoder)
	}

	if conn, ok := dialReady(addrs.FaceMesh, addrs.DialTimeout); ok {
		r.FaceMesh = &grpcFaceMesh{conn: conn}
		r.FaceMeshOK = true
		r.conns = append(r.conns, conn)
		slog.Info("model registry: face mesh ready", "addr", addrs.FaceMesh)
	} else {
		slog.Warn("model registry: face mesh unavailable, vision modules will use safe defaults", "addr", addrs.FaceMesh)
	}

	if conn, ok := dialReady(addrs.VAD, addrs.DialTimeout); ok {
		r.VAD = &grpcVAD{conn: conn}
		r.VADOK = true
		r.conns = append(r.conns, conn)
		slog.Info("model registry: voice activity detector ready", "addr", addrs.VAD)
	} else {
		slog.Warn("model registry: voice activity detector unavailable, audio consumer will treat clips as silent", "addr", addrs.VAD)
	}

	return r
}

// Close releases every gRPC channel the registry opened.
func (r *Registry) Close() {
	for _, c := range r.conns {
		_ = c.Close()
	}
}

// Status returns the readiness of each capability, keyed the same way the
// /health endpoint reports it (spec.md §6).
func (r *Registry) Status() map[string]bool {
	return map[string]bool{
		"object_detector":     r.ObjectDetectorOK,
		"behavior_classifier": r.BehaviorClassifierOK,
		"face_encoder":        r.FaceEncoderOK,
		"face_mesh":           r.FaceMeshOK,
		"voice_activity":      r.VADOK,
	}
}

// dialReady dials addr and blocks (up to timeout) until the channel reports
// Ready. An empty addr or a channel that never becomes ready is treated as
// "capability unavailable" rather than an error — loading an ML artifact
// is independently fallible by design (spec.md §4.7).
func dialReady(addr string, timeout time.Duration) (*grpc.ClientConn, bool) {
	if addr == "" {
		return nil, false
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		slog.Warn("model registry: dial failed", "addr", addr, "error", err)
		return nil, false
	}

	conn.Connect()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return conn, true
		}
		if !conn.WaitForStateChange(ctx, state) {
			_ = conn.Close()
			return nil, false
		}
	}
}
