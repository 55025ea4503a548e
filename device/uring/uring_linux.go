// File: device/uring/uring_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// NVMe-path backend on io_uring. Submissions are accepted by the kernel
// queue without blocking, which gives the engine true split submission:
// single-submit mode serializes only the enqueue step while completions
// overlap in the kernel. Requests larger than the configured block size
// are issued as one SQE per block.

//go:build linux

package uring

import (
	"io"
	"os"
	"sync"

	"github.com/iceber/iouring-go"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/device"
)

func init() {
	// Register only when the running kernel actually supports io_uring,
	// so Default() can fall back to the posix backend elsewhere.
	if !supported() {
		return
	}
	device.Register("nvme", New)
}

func supported() bool {
	ring, err := iouring.New(1)
	if err != nil {
		return false
	}
	_ = ring.Close()
	return true
}

// Driver owns one io_uring instance shared by all engine workers.
type Driver struct {
	ring      *iouring.IOURing
	blockSize int
	closeOnce sync.Once
	closeErr  error
}

// New constructs the nvme backend. The ring is sized to hold one SQE
// per block of every in-flight request.
func New(_ string, cfg *api.Config) (api.Driver, error) {
	entries := uint(cfg.QueueDepth * 2)
	if entries < 8 {
		entries = 8
	}
	ring, err := iouring.New(entries)
	if err != nil {
		return nil, errors.Wrap(err, "io_uring setup")
	}
	return &Driver{ring: ring, blockSize: cfg.BlockSize}, nil
}

func (d *Driver) Name() string { return "nvme" }

func (d *Driver) DoRead(path string, p []byte, off int64) (int, error) {
	await, err := d.SubmitRead(path, p, off)
	if err != nil {
		return 0, err
	}
	return await()
}

func (d *Driver) DoWrite(path string, p []byte, off int64) (int, error) {
	await, err := d.SubmitWrite(path, p, off)
	if err != nil {
		return 0, err
	}
	return await()
}

// SubmitRead enqueues the read SQEs and returns an Await for their
// completions.
func (d *Driver) SubmitRead(path string, p []byte, off int64) (api.Await, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s for read", path)
	}
	return d.submit(api.OpRead, f, p, off)
}

// SubmitWrite enqueues the write SQEs and returns an Await for their
// completions.
func (d *Driver) SubmitWrite(path string, p []byte, off int64) (api.Await, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s for write", path)
	}
	return d.submit(api.OpWrite, f, p, off)
}

type chunk struct {
	req iouring.Request
	buf []byte
	off int64
}

func (d *Driver) submit(op api.Op, f *os.File, p []byte, off int64) (api.Await, error) {
	fd := int(f.Fd())
	chunks := make([]chunk, 0, (len(p)+d.blockSize-1)/d.blockSize)
	for at := 0; at < len(p); at += d.blockSize {
		end := at + d.blockSize
		if end > len(p) {
			end = len(p)
		}
		buf := p[at:end]
		pos := off + int64(at)

		var prep iouring.PrepRequest
		if op == api.OpRead {
			prep = iouring.Pread(fd, buf, uint64(pos))
		} else {
			prep = iouring.Pwrite(fd, buf, uint64(pos))
		}
		req, err := d.ring.SubmitRequest(prep, nil)
		if err != nil {
			// Already-submitted chunks drain through the await below so
			// the buffer stays live until the kernel is done with it.
			await := d.await(op, f, chunks)
			_, _ = await()
			return nil, errors.Wrapf(err, "io_uring submit %s %s at %d", op, f.Name(), pos)
		}
		chunks = append(chunks, chunk{req: req, buf: buf, off: pos})
	}
	return d.await(op, f, chunks), nil
}

// await blocks for every submitted chunk. Short completions are rare
// and finished with a blocking positional syscall on the same fd.
func (d *Driver) await(op api.Op, f *os.File, chunks []chunk) api.Await {
	return func() (int, error) {
		defer f.Close()
		total := 0
		for _, c := range chunks {
			<-c.req.Done()
			n, err := c.req.GetRes()
			if err != nil {
				return total, errors.Wrapf(err, "io_uring %s %s at %d", op, f.Name(), c.off)
			}
			if n == 0 && op == api.OpRead {
				return total, errors.Wrapf(io.ErrUnexpectedEOF, "io_uring read %s at %d", f.Name(), c.off)
			}
			total += n
			if n < len(c.buf) {
				rest, err := d.finishShort(op, f, c.buf[n:], c.off+int64(n))
				total += rest
				if err != nil {
					return total, err
				}
			}
		}
		return total, nil
	}
}

func (d *Driver) finishShort(op api.Op, f *os.File, p []byte, off int64) (int, error) {
	fd := int(f.Fd())
	total := 0
	for total < len(p) {
		var n int
		var err error
		if op == api.OpRead {
			n, err = unix.Pread(fd, p[total:], off+int64(total))
		} else {
			n, err = unix.Pwrite(fd, p[total:], off+int64(total))
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, errors.Wrapf(err, "finishing short %s on %s at %d", op, f.Name(), off+int64(total))
		}
		if n == 0 {
			return total, errors.Wrapf(io.ErrUnexpectedEOF, "finishing short read on %s at %d", f.Name(), off+int64(total))
		}
		total += n
	}
	return total, nil
}

func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.ring.Close()
	})
	return d.closeErr
}
