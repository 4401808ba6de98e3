// Package blockio provides fixed-size block read/write over either a
// regular file or an in-memory buffer.
//
// Positions passed to Device methods are expressed in blocks, never bytes;
// callers never compute byte offsets themselves.
package blockio

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

var (
	// ErrNoSpace is returned when the backing container has no usable blocks.
	ErrNoSpace = errors.New("blockio: no space")
	// ErrOverflow is returned when a block id falls outside the valid range.
	ErrOverflow = errors.New("blockio: block id out of range")
	// ErrInvalid is returned for malformed segment sizes or offsets.
	ErrInvalid = errors.New("blockio: invalid argument")
)

// MemoryPath is the sentinel container path selecting the in-memory Device.
const MemoryPath = ":memory:"

// FirstBlock is the lowest valid block id; position 0 is reserved as a null
// sentinel.
const FirstBlock = 1

// Config configures a Device.
type Config struct {
	// Path is the container path, or MemoryPath for an in-memory buffer.
	Path string
	// BlockSize is the fixed size in bytes of every block.
	BlockSize int
	// MaxBlocks caps the number of usable blocks. Required (and the sole
	// sizing input) when Path is MemoryPath; optional for file-backed
	// containers, where it caps the size computed from the file.
	MaxBlocks int
}

// Device is fixed-size block storage over a file descriptor or RAM buffer.
type Device struct {
	blockSize int
	lastBlock int

	f      *os.File
	buffer []byte
}

// Open opens or allocates a Device per cfg.
func Open(cfg Config) (*Device, error) {
	if cfg.BlockSize <= 0 {
		return nil, ErrInvalid
	}

	d := &Device{blockSize: cfg.BlockSize}

	if cfg.Path == MemoryPath {
		if cfg.MaxBlocks <= 0 {
			return nil, ErrInvalid
		}
		d.lastBlock = cfg.MaxBlocks - 1
		d.buffer = make([]byte, cfg.MaxBlocks*cfg.BlockSize)
		return d, nil
	}

	f, err := os.OpenFile(cfg.Path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	numBlocks := int(info.Size()) / cfg.BlockSize
	if cfg.MaxBlocks > 0 && cfg.MaxBlocks < numBlocks {
		numBlocks = cfg.MaxBlocks
	}
	if numBlocks <= 0 {
		f.Close()
		return nil, ErrNoSpace
	}

	d.f = f
	d.lastBlock = numBlocks - 1
	return d, nil
}

// Close releases the underlying file descriptor, if any.
func (d *Device) Close() error {
	if d.f != nil {
		return d.f.Close()
	}
	return nil
}

// BlockSize returns the fixed size in bytes of every block.
func (d *Device) BlockSize() int { return d.blockSize }

// FirstValidBlock returns the lowest addressable block id.
func (d *Device) FirstValidBlock() int { return FirstBlock }

// LastValidBlock returns the highest addressable block id.
func (d *Device) LastValidBlock() int { return d.lastBlock }

func (d *Device) checkRange(block, total int) (int64, error) {
	if block < FirstBlock || block > d.lastBlock {
		return 0, ErrOverflow
	}
	if total > d.blockSize {
		return 0, ErrInvalid
	}
	return int64(block) * int64(d.blockSize), nil
}

// ReadAt fills dst from byteOffset within block, for callers that need to
// land in the middle of a block's payload rather than composing segments
// from its first byte.
func (d *Device) ReadAt(block, byteOffset int, dst []byte) error {
	start, err := d.checkRange(block, byteOffset+len(dst))
	if err != nil {
		return err
	}
	abs := start + int64(byteOffset)

	if d.f != nil {
		_, err := unix.Pread(int(d.f.Fd()), dst, abs)
		return err
	}
	copy(dst, d.buffer[abs:abs+int64(len(dst))])
	return nil
}

// WriteAt writes src to byteOffset within block. See ReadAt.
func (d *Device) WriteAt(block, byteOffset int, src []byte) error {
	start, err := d.checkRange(block, byteOffset+len(src))
	if err != nil {
		return err
	}
	abs := start + int64(byteOffset)

	if d.f != nil {
		_, err := unix.Pwrite(int(d.f.Fd()), src, abs)
		return err
	}
	copy(d.buffer[abs:], src)
	return nil
}

// Write concatenates up to three segments into the block starting at
// block's first byte. Unused trailing segments may be nil.
func (d *Device) Write(block int, seg1, seg2, seg3 []byte) error {
	total := len(seg1) + len(seg2) + len(seg3)
	start, err := d.checkRange(block, total)
	if err != nil {
		return err
	}

	buf := make([]byte, 0, total)
	buf = append(buf, seg1...)
	buf = append(buf, seg2...)
	buf = append(buf, seg3...)

	if d.f != nil {
		_, err := unix.Pwrite(int(d.f.Fd()), buf, start)
		return err
	}
	copy(d.buffer[start:], buf)
	return nil
}

// Read fills each provided destination, in order, from the block starting
// at block's first byte. Unused trailing destinations may be nil.
func (d *Device) Read(block int, seg1, seg2, seg3 []byte) error {
	total := len(seg1) + len(seg2) + len(seg3)
	start, err := d.checkRange(block, total)
	if err != nil {
		return err
	}

	buf := make([]byte, total)
	if d.f != nil {
		if _, err := unix.Pread(int(d.f.Fd()), buf, start); err != nil {
			return err
		}
	} else {
		copy(buf, d.buffer[start:start+int64(total)])
	}

	off := 0
	for _, seg := range [][]byte{seg1, seg2, seg3} {
		copy(seg, buf[off:off+len(seg)])
		off += len(seg)
	}
	return nil
}

// Sync flushes the container to durable storage. No-op for the in-memory
// Device.
func (d *Device) Sync() error {
	if d.f != nil {
		return unix.Fsync(int(d.f.Fd()))
	}
	return nil
}
