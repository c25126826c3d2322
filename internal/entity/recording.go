package entity

type RecordingState string

const (
	RecordingIdle   RecordingState = "idle"
	RecordingActive RecordingState = "recording"
)

func (r RecordingState) Toggled() RecordingState {
	if r == RecordingActive {
		return RecordingIdle
	}
	return RecordingActive
}
