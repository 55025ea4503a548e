// File: device/posix/direct_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build linux

package posix

import "golang.org/x/sys/unix"

func directFlag(direct bool) int {
	if direct {
		return unix.O_DIRECT
	}
	return 0
}
