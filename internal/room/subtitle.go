package room

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

func compressSubtitle(text string) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(text)); err != nil {
		return nil, fmt.Errorf("gzip subtitle: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip subtitle: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressSubtitle inflates a blob written by uploadSubtitle.
func DecompressSubtitle(blob []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("gunzip subtitle: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gunzip subtitle: %w", err)
	}
	return out, nil
}
