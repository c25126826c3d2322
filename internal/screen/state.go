package screen

import (
	"errors"
	"fmt"

	"PaperDetection/internal/entity"
)

var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrUnknownPolicy    = errors.New("unknown order policy")
)

// OrderPolicy decides what happens when detection responses resolve out of
// tick order.
type OrderPolicy string

const (
	// LatestIssued keeps the response of the newest tick and discards any
	// response older than the one already applied.
	LatestIssued OrderPolicy = "latest_issued"
	// LatestResolved applies every response as it arrives; the last one to
	// resolve wins even if it belongs to an older tick.
	LatestResolved OrderPolicy = "latest_resolved"
)

func ParsePolicy(raw string) (OrderPolicy, error) {
	switch OrderPolicy(raw) {
	case "":
		return LatestIssued, nil
	case LatestIssued, LatestResolved:
		return OrderPolicy(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, raw)
	}
}

// State is everything a screen shows. It is owned by the screen's actor
// goroutine and only changed through the transition functions below.
type State struct {
	Permission entity.PermissionState
	Recording  entity.RecordingState
	Frame      *entity.Frame
	Boxes      entity.BoxList
	BoxesSeq   uint64
	Discarded  uint64
}

func NewState() State {
	return State{
		Permission: entity.PermissionUnknown,
		Recording:  entity.RecordingIdle,
	}
}

// ResolvePermission records the outcome of the one permission request.
// Only the first transition out of unknown is honoured. A denial forces
// recording off.
func ResolvePermission(s State, p entity.PermissionState) State {
	if s.Permission.Resolved() || !p.Resolved() {
		return s
	}
	s.Permission = p
	if p == entity.PermissionDenied {
		s.Recording = entity.RecordingIdle
	}
	return s
}

func ToggleRecording(s State) (State, error) {
	if s.Permission == entity.PermissionDenied {
		return s, ErrPermissionDenied
	}
	s.Recording = s.Recording.Toggled()
	return s, nil
}

// ApplyFrame replaces the retained still. Under LatestIssued a frame from
// an older tick than the current one is ignored.
func ApplyFrame(s State, f entity.Frame, policy OrderPolicy) (State, bool) {
	if policy == LatestIssued && s.Frame != nil && f.Seq < s.Frame.Seq {
		return s, false
	}
	frame := f
	s.Frame = &frame
	return s, true
}

// ApplyDetection replaces the box list wholesale. Under LatestIssued a
// response from a tick older than the applied one is counted and dropped.
func ApplyDetection(s State, d entity.Detection, policy OrderPolicy) (State, bool) {
	if policy == LatestIssued && d.Seq < s.BoxesSeq {
		s.Discarded++
		return s, false
	}
	s.Boxes = d.Boxes.Clone()
	if s.Boxes == nil {
		s.Boxes = entity.BoxList{}
	}
	s.BoxesSeq = d.Seq
	return s, true
}
