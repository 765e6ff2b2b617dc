package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// The commit log has a single writer goroutine. ReadAt is positional and may
// run alongside the writer since it never moves the shared file offset.

// Write appends data to the open segment and flushes it to the OS.
// The caller owns the file and decides when to fsync.
func Write(file *os.File, data []byte) error {
	w := bufio.NewWriterSize(file, len(data))
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write segment: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush segment: %w", err)
	}
	return nil
}

// ReadAt returns up to length bytes starting at offset. A short slice means
// the segment ended first.
func ReadAt(file *os.File, offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := file.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read segment at %d: %w", offset, err)
	}
	return buf[:n], nil
}

// Size reports the current byte length of the segment at path, 0 if absent.
func Size(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
