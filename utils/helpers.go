package utils

import (
	"bytes"
	"net/http"
)

const (
	formatPNG     = "png"
	formatBMP     = "bmp"
	formatJPEG    = "jpeg"
	formatWebP    = "webp"
	formatUnknown = "unknown"
)

// PNGSignature is the 8-byte magic every PNG stream starts with.
const PNGSignature = "\x89PNG\r\n\x1a\n"

// IsPNGData reports whether data starts with the full PNG signature.
func IsPNGData(data []byte) bool {
	return len(data) >= len(PNGSignature) && string(data[:len(PNGSignature)]) == PNGSignature
}

// IsBMPData reports whether data starts with the "BM" bitmap file magic.
func IsBMPData(data []byte) bool {
	return len(data) >= 2 && data[0] == 'B' && data[1] == 'M'
}

// DetectFormat sniffs the leading bytes of data and returns the image format.
func DetectFormat(data []byte) string {
	if IsPNGData(data) {
		return formatPNG
	}
	if IsBMPData(data) {
		return formatBMP
	}
	if len(data) < 4 {
		return formatUnknown
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return formatJPEG
	}
	// WebP: RIFF....WEBP
	if len(data) >= 12 &&
		data[0] == 'R' && data[1] == 'I' && data[2] == 'F' && data[3] == 'F' &&
		data[8] == 'W' && data[9] == 'E' && data[10] == 'B' && data[11] == 'P' {
		return formatWebP
	}
	// Fallback to net/http sniffing.
	switch http.DetectContentType(data) {
	case "image/png":
		return formatPNG
	case "image/bmp":
		return formatBMP
	case "image/jpeg":
		return formatJPEG
	case "image/webp":
		return formatWebP
	}
	return formatUnknown
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// BytesReader creates an io.Reader backed by b without allocation.
func BytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
