package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

// NowISO returns the current UTC time as ISO-8601 with a Z suffix.
func NowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// SHA256File computes the hex digest of a file's content.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SniffMime detects the input's content type from its leading bytes. PDF is
// recognized explicitly; everything else goes through stdlib detection.
func SniffMime(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return ""
	}
	head = head[:n]

	if len(head) >= 4 && string(head[:4]) == "%PDF" {
		return "application/pdf"
	}
	detected := http.DetectContentType(head)
	if idx := strings.Index(detected, ";"); idx >= 0 {
		detected = detected[:idx]
	}
	return detected
}

// ClampTail returns the trailing maxKb kilobytes of text, truncating from
// the front and staying on a UTF-8 rune boundary.
func ClampTail(text string, maxKb int) string {
	if maxKb <= 0 {
		return ""
	}
	maxBytes := maxKb * 1024
	if len(text) <= maxBytes {
		return text
	}
	tail := []byte(text)[len(text)-maxBytes:]
	start := 0
	for start < len(tail) && !utf8.RuneStart(tail[start]) {
		start++
	}
	return string(tail[start:])
}
