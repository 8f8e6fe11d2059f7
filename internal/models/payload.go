package models

// ChannelOpenPayload carries the dial options of a channel-open message
type ChannelOpenPayload struct {
	Reliable      bool              `json:"reliable"`
	Serialization string            `json:"serialization,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// StreamInfo describes a media stream attached to a call. Only the descriptor
// travels through the relay.
type StreamInfo struct {
	ID    string `json:"id"`
	Audio bool   `json:"audio"`
}

// CallOfferPayload is the body of a call-offer message
type CallOfferPayload struct {
	Stream   *StreamInfo       `json:"stream,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CallAnswerPayload is the body of a call-answer message. Stream is nil for a
// receive-only answer.
type CallAnswerPayload struct {
	Stream *StreamInfo `json:"stream,omitempty"`
}

// TrackEndedPayload names the stream whose track ended
type TrackEndedPayload struct {
	StreamID string `json:"streamId"`
}
