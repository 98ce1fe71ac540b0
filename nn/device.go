package nn

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

// Device names a compute target such as "cpu" or "cuda:0".
type Device struct {
	Kind  string
	Index int
}

// CPU is the only backend this module executes on.
var CPU = Device{Kind: "cpu", Index: -1}

// String formats the device the way it is written on the command line.
func (d Device) String() string {
	if d.Index < 0 {
		return d.Kind
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.Index)
}

// ParseDevice parses "cpu", "cuda", "cuda:N" or "mps".
func ParseDevice(s string) (Device, error) {
	kind, idx, hasIdx := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	switch kind {
	case "cpu", "cuda", "mps":
	default:
		return Device{}, errors.NewValidationError("device", "unknown device", s)
	}
	d := Device{Kind: kind, Index: -1}
	if hasIdx {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return Device{}, errors.NewValidationError("device", "device index must be a non-negative integer", s)
		}
		d.Index = n
	}
	return d, nil
}

// ResolveDevice parses the requested device and returns the one that will
// actually run the computation. Accelerators fall back to the CPU with a
// DeviceFallbackWarning.
func ResolveDevice(requested string) (Device, error) {
	d, err := ParseDevice(requested)
	if err != nil {
		return Device{}, err
	}
	if d.Kind != CPU.Kind {
		errors.Warn(errors.NewDeviceFallbackWarning(d.String(), CPU.String()))
	}
	return CPU, nil
}
