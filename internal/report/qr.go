package report

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// DigestToQR encodes a hex SHA-256 digest as a PNG QR code. Anything that
// is not a hex digit is dropped before encoding.
func DigestToQR(digest string, size int) ([]byte, error) {
	normalized := normalizeDigest(digest)
	if normalized == "" {
		return nil, fmt.Errorf("digest is empty")
	}
	if size <= 0 {
		size = 128
	}
	return qrcode.Encode(normalized, qrcode.Medium, size)
}

func normalizeDigest(digest string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(digest)) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
