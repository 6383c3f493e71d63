//go:build !linux || !cgo

package media

import (
	"context"

	"github.com/BioHazard786/Huddle/internal/errs"
)

// DeviceSource needs the cgo camera and microphone drivers, which are only
// wired up on Linux. Elsewhere it reports that no device is available; use
// SyntheticSource for headless calls.
type DeviceSource struct{}

func (DeviceSource) Open(context.Context, Constraints) (Track, Track, error) {
	return nil, nil, errs.Wrap("open devices", errs.ErrMediaDeviceUnavailable, "built without camera/microphone drivers")
}
