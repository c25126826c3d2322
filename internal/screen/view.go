package screen

import (
	"time"

	"PaperDetection/internal/entity"
	"PaperDetection/internal/overlay"
)

const (
	NoticeNoAccess = "No access to camera"
	LabelStart     = "Start recording"
	LabelStop      = "Stop recording"
)

// View is the rendered screen: what a client needs to draw the preview
// overlay, the toggle button and the still thumbnail.
type View struct {
	ScreenID    string                 `json:"screen_id"`
	Permission  entity.PermissionState `json:"permission"`
	Notice      string                 `json:"notice,omitempty"`
	Recording   entity.RecordingState  `json:"recording"`
	ToggleLabel string                 `json:"toggle_label,omitempty"`
	Scale       overlay.Scale          `json:"scale"`
	Live        []overlay.Outline      `json:"live"`
	Still       *StillView             `json:"still,omitempty"`
	Boxes       entity.BoxList         `json:"boxes"`
	BoxesSeq    uint64                 `json:"boxes_seq"`
	Discarded   uint64                 `json:"stale_discarded"`
}

type StillView struct {
	FrameID    string            `json:"frame_id"`
	Seq        uint64            `json:"seq"`
	URI        string            `json:"uri"`
	CapturedAt time.Time         `json:"captured_at"`
	Outlines   []overlay.Outline `json:"outlines"`
}

// Render turns state into a View. A denied screen renders only the
// fallback notice.
func Render(id string, s State, screen, model entity.Size) View {
	v := View{
		ScreenID:   id,
		Permission: s.Permission,
		Recording:  s.Recording,
	}

	if s.Permission == entity.PermissionDenied {
		v.Notice = NoticeNoAccess
		return v
	}

	v.ToggleLabel = LabelStart
	if s.Recording == entity.RecordingActive {
		v.ToggleLabel = LabelStop
	}

	v.Scale = overlay.NewScale(screen, model)
	v.Live = overlay.Render(s.Boxes, v.Scale, screen)
	v.Boxes = s.Boxes.Clone()
	if v.Boxes == nil {
		v.Boxes = entity.BoxList{}
	}
	v.BoxesSeq = s.BoxesSeq
	v.Discarded = s.Discarded

	if s.Frame != nil {
		v.Still = &StillView{
			FrameID:    s.Frame.ID,
			Seq:        s.Frame.Seq,
			URI:        s.Frame.URI,
			CapturedAt: s.Frame.CapturedAt,
			Outlines:   v.Live,
		}
	}

	return v
}
