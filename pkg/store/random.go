package store

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const lineWidth = 64

// Random generates base64 encoded secrets, wrapped like `openssl rand -base64`.
type Random struct {
	Reader io.Reader
}

// Generate returns length random bytes, base64 encoded.
func (r Random) Generate(length int) (string, error) {
	src := r.Reader
	if src == nil {
		src = rand.Reader
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(src, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	enc := base64.StdEncoding.EncodeToString(buf)

	var sb strings.Builder
	for len(enc) > lineWidth {
		sb.WriteString(enc[:lineWidth])
		sb.WriteByte('\n')
		enc = enc[lineWidth:]
	}
	sb.WriteString(enc)
	sb.WriteByte('\n')
	return sb.String(), nil
}
