// Package broker implements the reconnecting AMQP consumer framework and
// the thread-affine result publisher described in spec.md §4.1 and §4.6.
// It is grounded on the Python original's pika BaseConsumer/result_publisher
// pair, translated into the teacher's own "dial now, retry forever" style
// (internal/escrow/jury_client.go's inline-until-proto posture, applied
// here to a transport that genuinely exists: RabbitMQ, not GCP Pub/Sub).
package broker

// InboundFrame is the frame.analysis queue payload (spec.md §3).
type InboundFrame struct {
	SessionID string `json:"sessionId"`
	FrameData string `json:"frameData"`
	Timestamp int64  `json:"timestamp"`
}

// InboundAudio is the audio.analysis queue payload (spec.md §3).
type InboundAudio struct {
	SessionID string `json:"sessionId"`
	AudioData string `json:"audioData"`
	Timestamp int64  `json:"timestamp"`
}

// InboundBehaviorEvent is the behavior.events queue payload (spec.md §3).
// Passthrough carries every field besides sessionId/type/timestamp, which
// becomes the persisted row's metadata.
type InboundBehaviorEvent struct {
	SessionID   string         `json:"sessionId"`
	Type        string         `json:"type"`
	Timestamp   int64          `json:"timestamp"`
	Passthrough map[string]any `json:"-"`
}

// OutboundResult is the bit-exact wire contract published to
// proctoring.exchange / proctoring.results (spec.md §6).
type OutboundResult struct {
	SessionID    string         `json:"sessionId"`
	EventType    string         `json:"eventType"`
	Severity     string         `json:"severity"`
	Confidence   *float64       `json:"confidence"`
	Description  string         `json:"description"`
	SnapshotPath *string        `json:"snapshotPath"`
	RiskScore    float64        `json:"riskScore"`
	Metadata     map[string]any `json:"metadata"`
}
