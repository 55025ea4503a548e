// File: facade/oneshot.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stateless convenience layer: each function constructs a throwaway
// handle with default configuration and the platform's preferred
// backend, performs one operation and tears the handle down. Callers
// with more than one transfer should hold a Handle instead.

package facade

import (
	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/device"
)

func oneshot() (*Handle, error) {
	cfg := api.DefaultConfig()
	cfg.DeviceType = device.Default()
	return NewHandle(cfg)
}

// Write stores buf to path at offset 0 through a throwaway handle.
func Write(buf api.Buffer, path string, validate bool) error {
	h, err := oneshot()
	if err != nil {
		return err
	}
	defer h.Close()
	return h.Write(buf, path, validate)
}

// Read fills buf from path at offset 0 through a throwaway handle.
func Read(buf api.Buffer, path string, validate bool) error {
	h, err := oneshot()
	if err != nil {
		return err
	}
	defer h.Close()
	return h.Read(buf, path, validate)
}

// Memcpy copies src into dst through a throwaway handle; lengths must
// match.
func Memcpy(dst, src api.Buffer) error {
	h, err := oneshot()
	if err != nil {
		return err
	}
	defer h.Close()
	return h.Memcpy(dst, src)
}

// LoadDevice verifies that deviceType can be constructed on this
// platform by binding it to a throwaway handle.
func LoadDevice(deviceType string) error {
	cfg := api.DefaultConfig()
	cfg.DeviceType = deviceType
	h, err := NewHandle(cfg)
	if err != nil {
		return err
	}
	return h.Close()
}
