package capture

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

func truncateBytes(in []byte, maxBytes int) ([]byte, bool, int, string) {
	if maxBytes <= 0 || len(in) <= maxBytes {
		return in, false, len(in), ""
	}
	sum := sha256.Sum256(in)
	return in[:maxBytes], true, len(in), hex.EncodeToString(sum[:])
}

// truncateBody caps the decoded body at maxBytes. A truncated body gets a
// comment recording the original size and digest.
func truncateBody(b *Body, maxBytes int) *Body {
	if b == nil || maxBytes <= 0 {
		return b
	}

	raw := []byte(b.Text)
	if b.Base64 {
		decoded, err := base64.StdEncoding.DecodeString(b.Text)
		if err != nil {
			return b
		}
		raw = decoded
	}

	kept, truncated, size, digest := truncateBytes(raw, maxBytes)
	if !truncated {
		return b
	}

	out := &Body{Base64: b.Base64}
	if b.Base64 {
		out.Text = base64.StdEncoding.EncodeToString(kept)
	} else {
		out.Text = string(kept)
	}
	out.Comment = fmt.Sprintf("truncated to %d of %d bytes, sha256 %s", len(kept), size, digest)
	return out
}
