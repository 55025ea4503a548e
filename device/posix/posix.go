// File: device/posix/posix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Generic POSIX backend: blocking positional syscalls issued from the
// engine's worker goroutines. Transfers run in block-size chunks and
// retry partial syscall results until the full region has moved; a read
// that hits end-of-file early reports io.ErrUnexpectedEOF so the engine
// can distinguish truncation from OS failure.

package posix

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/device"
)

func init() {
	device.Register("posix", New)
}

// Driver issues pread/pwrite against plain file descriptors. Files are
// opened per operation; the driver itself holds no state besides its
// configuration, so it is trivially safe for concurrent use.
type Driver struct {
	blockSize int
	direct    bool
}

// New constructs the posix backend. Option "direct" requests O_DIRECT
// on platforms that support it (buffers must then be block-aligned).
func New(opts string, cfg *api.Config) (api.Driver, error) {
	return &Driver{
		blockSize: cfg.BlockSize,
		direct:    opts == "direct",
	}, nil
}

func (d *Driver) Name() string { return "posix" }

func (d *Driver) DoRead(path string, p []byte, off int64) (int, error) {
	flags := unix.O_RDONLY | directFlag(d.direct)
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s for read", path)
	}
	defer unix.Close(fd)

	total := 0
	for total < len(p) {
		chunk := p[total:]
		if len(chunk) > d.blockSize {
			chunk = chunk[:d.blockSize]
		}
		n, err := unix.Pread(fd, chunk, off+int64(total))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, errors.Wrapf(err, "pread %s at %d", path, off+int64(total))
		}
		if n == 0 {
			return total, errors.Wrapf(io.ErrUnexpectedEOF, "pread %s at %d", path, off+int64(total))
		}
		total += n
	}
	return total, nil
}

func (d *Driver) DoWrite(path string, p []byte, off int64) (int, error) {
	flags := unix.O_WRONLY | unix.O_CREAT | directFlag(d.direct)
	fd, err := unix.Open(path, flags, 0o644)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s for write", path)
	}
	defer unix.Close(fd)

	total := 0
	for total < len(p) {
		chunk := p[total:]
		if len(chunk) > d.blockSize {
			chunk = chunk[:d.blockSize]
		}
		n, err := unix.Pwrite(fd, chunk, off+int64(total))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, errors.Wrapf(err, "pwrite %s at %d", path, off+int64(total))
		}
		total += n
	}
	return total, nil
}

func (d *Driver) Close() error { return nil }
