package domain

import "encoding/json"

// Inbound event names.
const (
	EventJoinSession  = "join-session"
	EventPoseData     = "pose-data"
	EventMusicControl = "music-control"
	EventPing         = "ping"
	EventRTCOffer     = "rtc-offer"
	EventRTCCandidate = "rtc-candidate"
)

// Outbound event names.
const (
	EventUserJoined   = "user-joined"
	EventSessionUsers = "session-users"
	EventReceivePose  = "receive-pose"
	EventMusicEvent   = "music-event"
	EventUserLeft     = "user-left"
	EventPong         = "pong"
	EventRTCAnswer    = "rtc-answer"
)

type MediaAction string

const (
	ActionPlay  MediaAction = "play"
	ActionPause MediaAction = "pause"
	ActionSeek  MediaAction = "seek"
)

// Inbound is the closed set of events a client may send.
type Inbound interface {
	Event() string
}

type JoinSession struct {
	SessionID SessionID `json:"sessionId" validate:"ident"`
	UserID    UserID    `json:"userId" validate:"ident"`
}

// PoseData carries a skeleton frame. The pose itself is opaque to the relay
// and is forwarded byte for byte.
type PoseData struct {
	SessionID SessionID       `json:"sessionId" validate:"ident"`
	UserID    UserID          `json:"userId" validate:"ident"`
	PoseData  json.RawMessage `json:"poseData" validate:"required"`
	Timestamp int64           `json:"timestamp" validate:"gte=0"`
}

type MusicControl struct {
	SessionID SessionID   `json:"sessionId" validate:"ident"`
	Action    MediaAction `json:"action" validate:"required,oneof=play pause seek"`
	Position  float64     `json:"position" validate:"gte=0"`
	Timestamp int64       `json:"timestamp" validate:"gte=0"`
}

type Ping struct{}

type RTCOffer struct {
	SDP string `json:"sdp" validate:"required"`
}

type RTCCandidate struct {
	Candidate     string  `json:"candidate" validate:"required"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

func (JoinSession) Event() string  { return EventJoinSession }
func (PoseData) Event() string     { return EventPoseData }
func (MusicControl) Event() string { return EventMusicControl }
func (Ping) Event() string         { return EventPing }
func (RTCOffer) Event() string     { return EventRTCOffer }
func (RTCCandidate) Event() string { return EventRTCCandidate }

// Outbound payloads.

type UserJoined struct {
	UserID    UserID `json:"userId"`
	UserCount int    `json:"userCount"`
}

type UserLeft struct {
	UserID    UserID `json:"userId"`
	UserCount int    `json:"userCount"`
}

type SessionUsers struct {
	Users []UserID `json:"users"`
}

type ReceivePose struct {
	UserID    UserID          `json:"userId"`
	PoseData  json.RawMessage `json:"poseData"`
	Timestamp int64           `json:"timestamp"`
}

type MusicEvent struct {
	Action    MediaAction `json:"action"`
	Position  float64     `json:"position"`
	Timestamp int64       `json:"timestamp"`
}

type RTCAnswer struct {
	SDP string `json:"sdp"`
}
