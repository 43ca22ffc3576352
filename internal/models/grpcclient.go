package models

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// jsonCodec lets these clients reach an external inference service before
// its protobuf schema is finalized: methods are invoked generically with
// JSON-encoded request/response bodies instead of compiled message types.
// Once the ML team publishes a .proto, NewClient callers just switch codecs
// — the ObjectDetector/BehaviorClassifier/FaceEncoder/FaceMesh interfaces
// in registry.go don't change.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

func invokeJSON(ctx context.Context, conn *grpc.ClientConn, method string, req, resp interface{}) error {
	return conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(jsonCodec{}.Name()))
}

// ── Object detector ──────────────────────────────────────────────────────

type grpcObjectDetector struct{ conn *grpc.ClientConn }

type detectObjectsRequest struct {
	JPEG []byte `json:"jpeg"`
}

type detectObjectsResponse struct {
	PhoneConfidence float64 `json:"phone_confidence"`
	NotesConfidence float64 `json:"notes_confidence"`
	PersonCount     int     `json:"person_count"`
}

func (c *grpcObjectDetector) Detect(ctx context.Context, jpeg []byte) (ObjectDetections, error) {
	var resp detectObjectsResponse
	err := invokeJSON(ctx, c.conn, "/proctoring.v1.ObjectDetector/Detect", &detectObjectsRequest{JPEG: jpeg}, &resp)
	if err != nil {
		return ObjectDetections{}, err
	}
	return ObjectDetections{
		PhoneConfidence: resp.PhoneConfidence,
		NotesConfidence: resp.NotesConfidence,
		PersonCount:     resp.PersonCount,
	}, nil
}

// ── Behavior classifier ──────────────────────────────────────────────────

type grpcBehaviorClassifier struct{ conn *grpc.ClientConn }

type predictRequest struct {
	Features []float64 `json:"features"`
}

type predictResponse struct {
	ProbabilitySuspicious float64 `json:"probability_suspicious"`
}

func (c *grpcBehaviorClassifier) Predict(ctx context.Context, features []float64) (float64, error) {
	var resp predictResponse
	err := invokeJSON(ctx, c.conn, "/proctoring.v1.BehaviorClassifier/Predict", &predictRequest{Features: features}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.ProbabilitySuspicious, nil
}

// ── Face encoder ──────────────────────────────────────────────────────────

type grpcFaceEncoder struct{ conn *grpc.ClientConn }

type encodeFaceRequest struct {
	Image []byte `json:"image"`
}

type encodeFaceResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (c *grpcFaceEncoder) Encode(ctx context.Context, image []byte) ([]float64, error) {
	var resp encodeFaceResponse
	err := invokeJSON(ctx, c.conn, "/proctoring.v1.FaceEncoder/Encode", &encodeFaceRequest{Image: image}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

// ── Face mesh ────────────────────────────────────────────────────────────

type grpcFaceMesh struct{ conn *grpc.ClientConn }

type faceMeshRequest struct {
	JPEG []byte `json:"jpeg"`
}

type faceMeshResponse struct {
	FaceCount  int     `json:"face_count"`
	HeadYawDeg float64 `json:"head_yaw_deg"`
	HeadPitch  float64 `json:"head_pitch_deg"`
	EyesClosed bool    `json:"eyes_closed"`
	LipRatio   float64 `json:"lip_ratio"`
}

func (c *grpcFaceMesh) Analyze(ctx context.Context, jpeg []byte) (FaceMeshResult, error) {
	var resp faceMeshResponse
	err := invokeJSON(ctx, c.conn, "/proctoring.v1.FaceMesh/Analyze", &faceMeshRequest{JPEG: jpeg}, &resp)
	if err != nil {
		return FaceMeshResult{}, err
	}
	return FaceMeshResult{
		FaceCount:  resp.FaceCount,
		HeadYawDeg: resp.HeadYawDeg,
		HeadPitch:  resp.HeadPitch,
		EyesClosed: resp.EyesClosed,
		LipRatio:   resp.LipRatio,
	}, nil
}

// ── Voice activity detector ──────────────────────────────────────────────

type grpcVAD struct{ conn *grpc.ClientConn }

type vadRequest struct {
	Clip []byte `json:"clip"`
}

type vadResponse struct {
	SpeechRatio      float64 `json:"speech_ratio"`
	SpeechDurationMs float64 `json:"speech_duration_ms"`
	TotalDurationMs  float64 `json:"total_duration_ms"`
}

func (c *grpcVAD) Analyze(ctx context.Context, clip []byte) (VADResult, error) {
	var resp vadResponse
	err := invokeJSON(ctx, c.conn, "/proctoring.v1.VoiceActivityDetector/Analyze", &vadRequest{Clip: clip}, &resp)
	if err != nil {
		return VADResult{}, err
	}
	return VADResult{
		SpeechRatio:      resp.SpeechRatio,
		SpeechDurationMs: resp.SpeechDurationMs,
		TotalDurationMs:  resp.TotalDurationMs,
	}, nil
}
