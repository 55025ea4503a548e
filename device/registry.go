// File: device/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package device maps device-type identifiers to backend factories.
// Concrete backends register themselves during package initialization;
// dynamic discovery, if ever needed, becomes just another factory. The
// engine never sees a null backend: on any failure Open reports a
// typed ErrBackendLoad instead of handing out an unusable driver.
//
// A device type has the form "<name>" or "<name>:<options>"; options
// are passed through to the factory uninterpreted.

package device

import (
	"sort"
	"strings"
	"sync"

	"k8s.io/klog/v2"

	"github.com/momentics/hioload-aio/api"
)

// Factory builds a driver from backend-specific options and the handle
// configuration.
type Factory func(opts string, cfg *api.Config) (api.Driver, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a backend available under name. Call from an init
// function of the backend package.
func Register(name string, f Factory) {
	mu.Lock()
	factories[name] = f
	mu.Unlock()
	klog.V(1).Infof("registered aio device backend %q", name)
}

// Registered returns the sorted names of all available backends.
func Registered() []string {
	mu.RLock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	mu.RUnlock()
	sort.Strings(names)
	return names
}

// Default returns the preferred backend for this platform: "nvme" when
// its io_uring path registered itself, otherwise "posix".
func Default() string {
	mu.RLock()
	defer mu.RUnlock()
	if _, ok := factories["nvme"]; ok {
		return "nvme"
	}
	return "posix"
}

// Open constructs the backend named by deviceType. Unknown names and
// factory failures both surface as ErrBackendLoad.
func Open(deviceType string, cfg *api.Config) (api.Driver, error) {
	name, opts := deviceType, ""
	if idx := strings.Index(deviceType, ":"); idx != -1 {
		name, opts = deviceType[:idx], deviceType[idx+1:]
	}
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, api.NewError(api.ErrCodeBackendLoad, "unknown device type").
			WithContext("device_type", name).
			WithContext("registered", Registered())
	}
	drv, err := f(opts, cfg)
	if err != nil {
		return nil, api.WrapError(api.ErrCodeBackendLoad, err, "constructing device backend").
			WithContext("device_type", name)
	}
	if drv == nil {
		return nil, api.NewError(api.ErrCodeBackendLoad, "factory returned no backend").
			WithContext("device_type", name)
	}
	return drv, nil
}
