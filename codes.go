package accounts

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	goerrors "github.com/goliatone/go-errors"
)

const codeCharset = "0123456789"

// CodeHasher produces keyed digests over one-time codes. Codes are short
// lived and low entropy, so a fast HMAC with a server-side secret is enough:
// without the secret a leaked digest cannot be brute forced offline, and the
// expiry window bounds online guessing.
type CodeHasher struct {
	secret []byte
	length int
}

// NewCodeHasher creates a hasher from the configured code secret and length.
func NewCodeHasher(cfg Config) (*CodeHasher, error) {
	cfg = cfg.WithDefaults()

	if cfg.CodeSecret == "" {
		return nil, goerrors.New("code secret must not be empty", goerrors.CategoryInternal)
	}

	return &CodeHasher{
		secret: []byte(cfg.CodeSecret),
		length: cfg.CodeLength,
	}, nil
}

// Generate produces a fixed-length numeric code with crypto/rand randomness.
func (h *CodeHasher) Generate() (string, error) {
	buffer := make([]byte, h.length)
	if _, err := rand.Read(buffer); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read random bytes")
	}

	for i := range buffer {
		buffer[i] = codeCharset[int(buffer[i])%len(codeCharset)]
	}

	return string(buffer), nil
}

// Hash returns the hex encoded HMAC-SHA256 digest of a code.
func (h *CodeHasher) Hash(code string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches compares a cleartext code against a stored digest without early
// exit timing differences.
func (h *CodeHasher) Matches(code, digest string) bool {
	return hmac.Equal([]byte(h.Hash(code)), []byte(digest))
}
