package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"time"
)

const archiveExtension = ".log.gz"

func normalizeLevel(level int) int {
	if level == 0 {
		return 6
	}
	if level < gzip.BestSpeed {
		return gzip.BestSpeed
	}
	if level > gzip.BestCompression {
		return gzip.BestCompression
	}
	return level
}

// compressed holds one gzipped export in memory.
type compressed struct {
	data      []byte
	lineCount int
}

// compressExport runs export into a gzip stream and counts the lines
// written. name is stored in the gzip header.
func compressExport(name string, level int, modTime time.Time, export func(io.Writer) error) (*compressed, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, normalizeLevel(level))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	zw.Name = strings.TrimSuffix(name, ".gz")
	zw.ModTime = modTime

	counter := &lineCounter{w: zw}
	bw := bufio.NewWriter(counter)
	if err := export(bw); err != nil {
		zw.Close()
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		zw.Close()
		return nil, fmt.Errorf("failed to compress export: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish gzip stream: %w", err)
	}

	return &compressed{data: buf.Bytes(), lineCount: counter.lines}, nil
}

// decompress reads a gzip stream fully.
func decompress(r io.Reader) ([]byte, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

type lineCounter struct {
	w     io.Writer
	lines int
}

func (c *lineCounter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.lines += bytes.Count(p[:n], []byte{'\n'})
	return n, err
}
