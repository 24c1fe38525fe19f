package keygen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// licenseKeyAlphabet has 32 symbols: uppercase letters and digits without
// the visually ambiguous 0, 1, O and I. 256 % 32 == 0, so reducing a random
// byte modulo the alphabet size introduces no bias.
const licenseKeyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	licenseKeyGroups    = 4
	licenseKeyGroupSize = 4

	// APIKeyPrefix namespaces generated subscription API keys.
	APIKeyPrefix = "vnd_"

	downloadTokenBytes = 32 // 256 bit
	apiKeyBytes        = 24 // 192 bit
)

var licenseKeyPattern = regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// Generator produces license keys and bearer tokens from an injected random
// source. Keys are bearer credentials, so the source must be a CSPRNG; the
// zero-value default is crypto/rand.
type Generator struct {
	rand io.Reader
}

// NewGenerator creates a generator reading from the given source.
// A nil source selects crypto/rand.
func NewGenerator(source io.Reader) *Generator {
	if source == nil {
		source = rand.Reader
	}
	return &Generator{rand: source}
}

// LicenseKey generates a key in XXXX-XXXX-XXXX-XXXX format.
func (g *Generator) LicenseKey() (string, error) {
	raw := make([]byte, licenseKeyGroups*licenseKeyGroupSize)
	if _, err := io.ReadFull(g.rand, raw); err != nil {
		return "", fmt.Errorf("failed to read random bytes for license key: %w", err)
	}

	var b strings.Builder
	b.Grow(licenseKeyGroups*licenseKeyGroupSize + licenseKeyGroups - 1)
	for i, rb := range raw {
		if i > 0 && i%licenseKeyGroupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(licenseKeyAlphabet[int(rb)%len(licenseKeyAlphabet)])
	}
	return b.String(), nil
}

// DownloadToken generates the 256-bit token embedded in download URLs.
func (g *Generator) DownloadToken() (string, error) {
	return g.token(downloadTokenBytes)
}

// APIKey generates a namespaced 192-bit subscription API key.
func (g *Generator) APIKey() (string, error) {
	t, err := g.token(apiKeyBytes)
	if err != nil {
		return "", err
	}
	return APIKeyPrefix + t, nil
}

func (g *Generator) token(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := io.ReadFull(g.rand, raw); err != nil {
		return "", fmt.Errorf("failed to read random bytes for token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// ValidLicenseKey reports whether s matches the license key wire format.
func ValidLicenseKey(s string) bool {
	return licenseKeyPattern.MatchString(s)
}
