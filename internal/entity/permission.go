package entity

type PermissionState string

const (
	PermissionUnknown PermissionState = "unknown"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

func (p PermissionState) Resolved() bool {
	return p == PermissionGranted || p == PermissionDenied
}
