// Package testhelper provides util.File implementations for tests.
package testhelper

import (
	"fmt"
	"io"
)

// FileImpl implements util.File with injectable read and write
// functions, used to provoke I/O errors at chosen offsets.
type FileImpl struct {
	Reader func(b []byte, offset int64) (int, error)
	Writer func(b []byte, offset int64) (int, error)
}

// ReadAt reads bytes at a specific offset
func (f *FileImpl) ReadAt(b []byte, offset int64) (int, error) {
	return f.Reader(b, offset)
}

// WriteAt writes bytes at a specific offset
func (f *FileImpl) WriteAt(b []byte, offset int64) (int, error) {
	return f.Writer(b, offset)
}

// Seek seeks to a specific location
func (f *FileImpl) Seek(offset int64, whence int) (int64, error) {
	return 0, fmt.Errorf("FileImpl does not implement Seek()")
}

// Write records a single WriteAt call against a MemFile.
type Write struct {
	Offset int64
	Size   int
}

// MemFile is an in-memory disk image. It remembers every write in call
// order so tests can assert on write ordering as well as content.
type MemFile struct {
	Data   []byte
	Writes []Write
	pos    int64
}

// NewMemFile returns a zero-filled in-memory disk of the given size.
func NewMemFile(size int64) *MemFile {
	return &MemFile{Data: make([]byte, size)}
}

// ReadAt reads bytes at a specific offset
func (m *MemFile) ReadAt(b []byte, offset int64) (int, error) {
	if offset < 0 || offset >= int64(len(m.Data)) {
		return 0, fmt.Errorf("read offset %d outside disk of size %d", offset, len(m.Data))
	}
	n := copy(b, m.Data[offset:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes bytes at a specific offset
func (m *MemFile) WriteAt(b []byte, offset int64) (int, error) {
	if offset < 0 || offset+int64(len(b)) > int64(len(m.Data)) {
		return 0, fmt.Errorf("write of %d bytes at offset %d outside disk of size %d", len(b), offset, len(m.Data))
	}
	n := copy(m.Data[offset:], b)
	m.Writes = append(m.Writes, Write{Offset: offset, Size: n})
	return n, nil
}

// Seek seeks to a specific location
func (m *MemFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = m.pos + offset
	case io.SeekEnd:
		abs = int64(len(m.Data)) + offset
	default:
		return 0, fmt.Errorf("unknown whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative seek position %d", abs)
	}
	m.pos = abs
	return abs, nil
}
