package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMalformed    = errors.New("malformed payload")
	ErrInvalid      = errors.New("invalid payload")
)

// Decoder turns an event name and its raw payload into a typed Inbound value,
// rejecting payloads whose shape does not match the event.
type Decoder struct {
	validate *validator.Validate
}

func NewDecoder(maxIDLen int) *Decoder {
	if maxIDLen <= 0 {
		maxIDLen = DefaultMaxIDLen
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	// ident: non-empty identifier no longer than maxIDLen bytes.
	_ = v.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s != "" && len(s) <= maxIDLen
	})
	return &Decoder{validate: v}
}

func (d *Decoder) Decode(event string, data []byte) (Inbound, error) {
	switch event {
	case EventJoinSession:
		return decodeInto[JoinSession](d, data)
	case EventPoseData:
		return decodeInto[PoseData](d, data)
	case EventMusicControl:
		return decodeInto[MusicControl](d, data)
	case EventPing:
		return Ping{}, nil
	case EventRTCOffer:
		return decodeInto[RTCOffer](d, data)
	case EventRTCCandidate:
		return decodeInto[RTCCandidate](d, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
}

// DecodePose is used by transports that only ever carry pose frames.
func (d *Decoder) DecodePose(data []byte) (PoseData, error) {
	return decodeInto[PoseData](d, data)
}

func decodeInto[T any](d *Decoder, data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := d.validate.Struct(v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return v, nil
}
