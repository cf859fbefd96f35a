//go:build !linux && !darwin

package hostenv

// Hazards is not implemented on this platform.
func Hazards(string) []Hazard { return nil }
