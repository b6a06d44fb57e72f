package utils

import (
	"strings"
	"testing"
)

func TestCompressAndDecompressBytes(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{
			name: "Short string",
			text: "Hello, world!",
		},
		{
			name: "Empty string",
			text: "",
		},
		{
			name: "Unicode lyrics",
			text: "[00:12.00]夜に駆ける\n[00:15.50]Beyoncé à la plage",
		},
		{
			name: "LRC content",
			text: `[00:01.00]First line
[00:05.20]Second line
[00:09.75]Third line`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, err := CompressBytes(tt.text)
			if err != nil {
				t.Fatalf("CompressBytes error: %v", err)
			}

			decompressed, err := DecompressBytes(compressed)
			if err != nil {
				t.Fatalf("DecompressBytes error: %v", err)
			}

			if decompressed != tt.text {
				t.Errorf("Expected decompressed string %q, got %q", tt.text, decompressed)
			}
		})
	}
}

func TestCompressEmptyYieldsNil(t *testing.T) {
	compressed, err := CompressBytes("")
	if err != nil {
		t.Fatalf("CompressBytes error: %v", err)
	}
	if compressed != nil {
		t.Errorf("Expected nil blob for empty input, got %d bytes", len(compressed))
	}
}

func TestCompressionRatio(t *testing.T) {
	// Repetitive LRC content should compress well
	content := strings.Repeat("[00:00:01.00]Hello world lyrics, this is the chorus again\n", 100)

	compressed, err := CompressBytes(content)
	if err != nil {
		t.Fatalf("CompressBytes error: %v", err)
	}

	ratio := float64(len(compressed)) / float64(len(content))
	if ratio > 0.1 {
		t.Errorf("Expected compression ratio < 0.1 for repetitive content, got %.3f", ratio)
	}
}

func TestDecompressBytes_CorruptInput(t *testing.T) {
	_, err := DecompressBytes([]byte("definitely not a zstd frame"))
	if err == nil {
		t.Error("Expected error for corrupt input")
	}
}

func TestDecompressBytes_TruncatedFrame(t *testing.T) {
	compressed, err := CompressBytes(strings.Repeat("la la la ", 50))
	if err != nil {
		t.Fatalf("CompressBytes error: %v", err)
	}
	_, err = DecompressBytes(compressed[:len(compressed)/2])
	if err == nil {
		t.Error("Expected error for truncated frame")
	}
}
