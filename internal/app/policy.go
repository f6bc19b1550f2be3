package app

import (
	"fmt"

	"github.com/dkeye/PoseSync/internal/domain"
)

type BackpressureAction int

const (
	// DropFrame skips the frame for the slow recipient only.
	DropFrame BackpressureAction = iota
	// KickMember closes the slow recipient's connection.
	KickMember
)

// Policy decides what happens to a recipient whose outbound buffer is full.
type Policy interface {
	OnBackPressure(sid domain.SessionID, peer Peer) BackpressureAction
}

type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.SessionID, Peer) BackpressureAction { return DropFrame }

type KickPolicy struct{}

func (KickPolicy) OnBackPressure(domain.SessionID, Peer) BackpressureAction { return KickMember }

// PolicyByName maps the slow_peer_policy setting to a Policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return DropPolicy{}, nil
	case "kick":
		return KickPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown slow peer policy %q", name)
	}
}
