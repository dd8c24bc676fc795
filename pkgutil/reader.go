// Package pkgutil provides low-level helpers for reading PKG containers.
package pkgutil

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Reader is a bounds-checked random-access view over a PKG file.
//
// All primitive reads are big-endian, matching the PKG on-disk format. A
// Reader is not safe for concurrent use; open one per goroutine instead.
type Reader struct {
	f      *os.File
	size   int64
	offset int64
}

// Open the file at path for random-access reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pkgutil: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pkgutil: %w", err)
	}

	return &Reader{
		f:    f,
		size: info.Size(),
	}, nil
}

// Close the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Size of the underlying file in bytes.
func (r *Reader) Size() int64 {
	return r.size
}

// Offset of the next byte to be read.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Seek to an absolute offset.
func (r *Reader) Seek(offset int64) error {
	if offset < 0 || offset > r.size {
		return fmt.Errorf("pkgutil: seek to %#x outside file of %#x bytes", offset, r.size)
	}
	r.offset = offset
	return nil
}

// Skip the next n bytes.
func (r *Reader) Skip(n int64) error {
	return r.Seek(r.offset + n)
}

// ReadFull fills p from the current offset or fails.
//
// Returns io.EOF if no byte could be read, io.ErrUnexpectedEOF if the file
// ends after a partial read.
func (r *Reader) ReadFull(p []byte) error {
	n, err := r.f.ReadAt(p, r.offset)
	r.offset += int64(n)
	if err == io.EOF && n > 0 {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return fmt.Errorf("pkgutil: short read at %#x: %w", r.offset-int64(n), err)
	}
	return nil
}

// Bytes reads and returns the next n bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	p := make([]byte, n)
	if err := r.ReadFull(p); err != nil {
		return nil, err
	}
	return p, nil
}

// U8 reads one byte.
func (r *Reader) U8() (uint8, error) {
	var buf [1]byte
	if err := r.ReadFull(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// U16 reads a big-endian uint16.
func (r *Reader) U16() (uint16, error) {
	var buf [2]byte
	if err := r.ReadFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// U32 reads a big-endian uint32.
func (r *Reader) U32() (uint32, error) {
	var buf [4]byte
	if err := r.ReadFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// U64 reads a big-endian uint64.
func (r *Reader) U64() (uint64, error) {
	var buf [8]byte
	if err := r.ReadFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// ReadAt implements io.ReaderAt without touching the read cursor.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	return r.f.ReadAt(p, off)
}
