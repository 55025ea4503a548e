// File: device/posix/direct_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build !linux

package posix

// O_DIRECT is linux-only; elsewhere the option is accepted and ignored.
func directFlag(bool) int { return 0 }
