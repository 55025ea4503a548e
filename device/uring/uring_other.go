// File: device/uring/uring_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build !linux

// Package uring provides the io_uring "nvme" backend on Linux. On other
// platforms nothing is registered and device.Default falls back to the
// posix backend.
package uring
