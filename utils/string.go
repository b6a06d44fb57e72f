package utils

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

// initCodec builds the shared zstd encoder/decoder pair. EncodeAll and
// DecodeAll are safe for concurrent use, so one pair serves every caller.
func initCodec() {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
			zstd.WithEncoderCRC(true))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
}

// CompressBytes compresses text with zstd at SpeedBetterCompression.
// Lyrics are small natural-language payloads, so ratio matters more than speed.
// Empty input yields a nil blob.
func CompressBytes(text string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}
	initCodec()
	if codecErr != nil {
		return nil, fmt.Errorf("zstd codec unavailable: %w", codecErr)
	}
	return encoder.EncodeAll([]byte(text), nil), nil
}

// DecompressBytes reverses CompressBytes. A nil or empty blob decodes to "".
func DecompressBytes(blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", nil
	}
	initCodec()
	if codecErr != nil {
		return "", fmt.Errorf("zstd codec unavailable: %w", codecErr)
	}
	out, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
