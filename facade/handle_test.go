// File: facade/handle_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade_test

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/device"
	"github.com/momentics/hioload-aio/facade"
)

// slowDriver parks every operation on a gate so tests can observe the
// in-flight state deterministically.
type slowDriver struct {
	mu      sync.Mutex
	gate    chan struct{}
	entered chan struct{}
	files   map[string][]byte
}

var slow = &slowDriver{
	gate:    make(chan struct{}),
	entered: make(chan struct{}, 64),
	files:   make(map[string][]byte),
}

func init() {
	device.Register("slowtest", func(string, *api.Config) (api.Driver, error) {
		return slow, nil
	})
}

func (d *slowDriver) Name() string { return "slowtest" }
func (d *slowDriver) Close() error { return nil }

func (d *slowDriver) DoRead(path string, p []byte, off int64) (int, error) {
	d.entered <- struct{}{}
	<-d.gate
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(p, d.files[path])
	return len(p), nil
}

func (d *slowDriver) DoWrite(path string, p []byte, off int64) (int, error) {
	d.entered <- struct{}{}
	<-d.gate
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[path] = append([]byte(nil), p...)
	return len(p), nil
}

func posixConfig() *api.Config {
	cfg := api.DefaultConfig()
	cfg.DeviceType = "posix"
	cfg.BlockSize = 4096
	cfg.QueueDepth = 4
	cfg.ThreadCount = 2
	return cfg
}

// The reference scenario: queue_depth=4, thread_count=2, batch mode,
// a 4 KiB locked buffer written asynchronously, waited, read back into
// a fresh locked buffer and compared.
func TestAsyncRoundTripWithLockedBuffers(t *testing.T) {
	h, err := facade.NewHandle(posixConfig())
	require.NoError(t, err)
	defer h.Close()

	path := filepath.Join(t.TempDir(), "t.bin")

	src, err := h.NewCPULockedBuffer(4096, api.Wrap([]byte{0}))
	require.NoError(t, err)
	rand.Read(src.Bytes())

	require.NoError(t, h.AsyncPWrite(src, path, 0))
	require.NoError(t, h.Wait())

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 4096, len(onDisk))
	require.True(t, bytes.Equal(src.Bytes(), onDisk))

	dst, err := h.NewCPULockedBuffer(4096, api.Wrap([]byte{0}))
	require.NoError(t, err)
	require.NoError(t, h.AsyncPRead(dst, path, 0))
	require.NoError(t, h.Wait())
	require.True(t, bytes.Equal(src.Bytes(), dst.Bytes()))

	require.NoError(t, h.FreeCPULockedBuffer(src))
	require.NoError(t, h.FreeCPULockedBuffer(dst))
}

func TestSyncRoundTrip(t *testing.T) {
	h, err := facade.NewHandle(posixConfig())
	require.NoError(t, err)
	defer h.Close()

	path := filepath.Join(t.TempDir(), "sync.bin")
	payload := make([]byte, 16384)
	rand.Read(payload)

	require.NoError(t, h.Write(api.Wrap(payload), path, true))

	got := make([]byte, len(payload))
	require.NoError(t, h.Read(api.Wrap(got), path, true))
	require.True(t, bytes.Equal(payload, got))

	// Explicit positional variants.
	part := []byte("sector payload")
	require.NoError(t, h.SyncPWrite(api.Wrap(part), path, 512))
	back := make([]byte, len(part))
	require.NoError(t, h.SyncPRead(api.Wrap(back), path, 512))
	require.Equal(t, part, back)
}

func TestValidationCatchesTruncation(t *testing.T) {
	h, err := facade.NewHandle(posixConfig())
	require.NoError(t, err)
	defer h.Close()

	path := filepath.Join(t.TempDir(), "trunc.bin")
	payload := make([]byte, 4096)
	rand.Read(payload)
	require.NoError(t, h.Write(api.Wrap(payload), path, true))

	// Out-of-band truncation between write and read.
	require.NoError(t, os.Truncate(path, 1000))

	err = h.Read(api.Wrap(make([]byte, 4096)), path, true)
	require.ErrorIs(t, err, api.ErrValidation)

	// Without the validate flag the failure is still loud, just typed
	// as an I/O error.
	err = h.Read(api.Wrap(make([]byte, 4096)), path, false)
	require.ErrorIs(t, err, api.ErrIO)
}

func TestUnloadedHandleRejectsEverything(t *testing.T) {
	cfg := api.DefaultConfig() // DeviceType empty: unloaded
	h, err := facade.NewHandle(cfg)
	require.NoError(t, err)
	defer h.Close()

	path := filepath.Join(t.TempDir(), "untouched.bin")
	buf := api.Wrap(make([]byte, 64))

	require.ErrorIs(t, h.Read(buf, path, false), api.ErrDeviceNotLoaded)
	require.ErrorIs(t, h.Write(buf, path, false), api.ErrDeviceNotLoaded)
	require.ErrorIs(t, h.AsyncPWrite(buf, path, 0), api.ErrDeviceNotLoaded)
	require.ErrorIs(t, h.SyncPRead(buf, path, 0), api.ErrDeviceNotLoaded)
	require.ErrorIs(t, h.Wait(), api.ErrDeviceNotLoaded)
	require.ErrorIs(t, h.Memcpy(buf, buf), api.ErrDeviceNotLoaded)
	_, err = h.NewCPULockedBuffer(64, buf)
	require.ErrorIs(t, err, api.ErrDeviceNotLoaded)

	// No I/O happened: the target file was never created.
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))

	// Loading a backend afterwards makes the same handle usable.
	require.NoError(t, h.LoadDevice("posix"))
	require.NoError(t, h.Write(buf, path, false))
}

func TestLoadUnknownDevice(t *testing.T) {
	cfg := api.DefaultConfig()
	cfg.DeviceType = "warp-drive"
	_, err := facade.NewHandle(cfg)
	require.ErrorIs(t, err, api.ErrBackendLoad)
}

func TestReconfigureWhileBusyFailsFast(t *testing.T) {
	cfg := api.DefaultConfig()
	cfg.DeviceType = "slowtest"
	cfg.QueueDepth = 2
	h, err := facade.NewHandle(cfg)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.AsyncPWrite(api.Wrap(make([]byte, 32)), "parked", 0))
	<-slow.entered // the request is in flight now

	err = h.LoadDevice("posix")
	require.ErrorIs(t, err, api.ErrReconfigureWhileBusy)

	close(slow.gate)
	require.NoError(t, h.Wait())

	// Idle handle: rebinding drains and swaps cleanly.
	require.NoError(t, h.LoadDevice("posix"))
	require.Equal(t, true, h.GetOverlapEvents())
}

func TestAccessorsReflectConfig(t *testing.T) {
	cfg := posixConfig()
	cfg.SingleSubmit = true
	cfg.OverlapEvents = false
	h, err := facade.NewHandle(cfg)
	require.NoError(t, err)
	defer h.Close()

	require.Equal(t, 4096, h.GetBlockSize())
	require.Equal(t, 4, h.GetQueueDepth())
	require.True(t, h.GetSingleSubmit())
	require.False(t, h.GetOverlapEvents())
	require.Equal(t, 2, h.GetThreadCount())
}

func TestMemcpyStagesBetweenBuffers(t *testing.T) {
	h, err := facade.NewHandle(posixConfig())
	require.NoError(t, err)
	defer h.Close()

	src := api.Wrap([]byte("staged into a locked region"))
	dst, err := h.NewCPULockedBuffer(src.Len(), api.Wrap([]byte{0}))
	require.NoError(t, err)
	require.NoError(t, h.Memcpy(dst, src))
	require.Equal(t, src.Bytes(), dst.Bytes())

	short := api.Wrap(make([]byte, 4))
	require.ErrorIs(t, h.Memcpy(short, src), api.ErrSizeMismatch)
}

func TestCloseIsIdempotentAndTerminal(t *testing.T) {
	h, err := facade.NewHandle(posixConfig())
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	err = h.Write(api.Wrap(make([]byte, 8)), filepath.Join(t.TempDir(), "x"), false)
	require.ErrorIs(t, err, api.ErrDeviceNotLoaded)
}
