package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// HeaderName carries the delivery signature
	HeaderName = "X-Webhook-Signature"

	// SecretPrefix marks base64-encoded generated secrets
	SecretPrefix = "whsec_"

	// Version is the version identifier for HMAC-SHA256 signatures
	Version = "v1"

	// MinSecretBytes is the minimum generated secret size (192 bits)
	MinSecretBytes = 24

	// MaxSecretBytes is the maximum generated secret size (512 bits)
	MaxSecretBytes = 64
)

// Secret is a subscriber signing key
type Secret struct {
	raw     []byte
	encoded string
}

// GenerateSecret creates a new random whsec_ secret of size bytes
func GenerateSecret(size int) (Secret, error) {
	if size < MinSecretBytes || size > MaxSecretBytes {
		return Secret{}, fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}

	bytes := make([]byte, size)
	if _, err := rand.Read(bytes); err != nil {
		return Secret{}, fmt.Errorf("generating random bytes: %w", err)
	}

	return Secret{
		raw:     bytes,
		encoded: SecretPrefix + base64.StdEncoding.EncodeToString(bytes),
	}, nil
}

// ParseSecret accepts either a whsec_ base64 secret or a plain shared
// secret, which is used as-is.
func ParseSecret(s string) (Secret, error) {
	if s == "" {
		return Secret{}, fmt.Errorf("secret cannot be empty")
	}
	if !strings.HasPrefix(s, SecretPrefix) {
		return Secret{raw: []byte(s), encoded: s}, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, SecretPrefix))
	if err != nil {
		return Secret{}, fmt.Errorf("decoding base64 secret: %w", err)
	}
	if len(raw) < MinSecretBytes || len(raw) > MaxSecretBytes {
		return Secret{}, fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}

	return Secret{raw: raw, encoded: s}, nil
}

// String returns the secret as it was configured
func (s Secret) String() string {
	return s.encoded
}

// Signature is a versioned base64 HMAC
type Signature struct {
	Version   string
	Signature string
}

// String returns the signature in the format: v1,<base64_signature>
func (s Signature) String() string {
	return fmt.Sprintf("%s,%s", s.Version, s.Signature)
}

// ParseSignature parses a signature string in the format: v1,<base64_signature>
func ParseSignature(sig string) (Signature, error) {
	version, value, ok := strings.Cut(sig, ",")
	if !ok {
		return Signature{}, fmt.Errorf("invalid signature format, expected 'version,signature'")
	}
	return Signature{Version: version, Signature: value}, nil
}

// Sign signs {deliveryID}.{unix timestamp}.{body}
func Sign(secret Secret, deliveryID string, timestamp time.Time, body []byte) (Signature, error) {
	if strings.Contains(deliveryID, ".") {
		return Signature{}, fmt.Errorf("delivery ID must not contain '.'")
	}

	mac := hmac.New(sha256.New, secret.raw)
	mac.Write([]byte(deliveryID))
	mac.Write([]byte("."))
	mac.Write([]byte(strconv.FormatInt(timestamp.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(body)

	return Signature{
		Version:   Version,
		Signature: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}, nil
}

// Verify checks a signature in constant time
func Verify(secret Secret, deliveryID string, timestamp time.Time, body []byte, expected Signature) (bool, error) {
	if expected.Version != Version {
		return false, fmt.Errorf("unsupported signature version: %s", expected.Version)
	}

	calculated, err := Sign(secret, deliveryID, timestamp, body)
	if err != nil {
		return false, fmt.Errorf("calculating signature: %w", err)
	}

	want, err := base64.StdEncoding.DecodeString(expected.Signature)
	if err != nil {
		return false, fmt.Errorf("decoding expected signature: %w", err)
	}
	got, err := base64.StdEncoding.DecodeString(calculated.Signature)
	if err != nil {
		return false, fmt.Errorf("decoding calculated signature: %w", err)
	}

	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// ParseHeader parses a space-delimited list of signatures, as sent during
// secret rotation: "v1,sig1 v1,sig2"
func ParseHeader(header string) ([]Signature, error) {
	if header == "" {
		return nil, fmt.Errorf("signature header is empty")
	}

	var signatures []Signature
	for _, part := range strings.Fields(header) {
		sig, err := ParseSignature(part)
		if err != nil {
			return nil, fmt.Errorf("parsing signature '%s': %w", part, err)
		}
		signatures = append(signatures, sig)
	}

	if len(signatures) == 0 {
		return nil, fmt.Errorf("no valid signatures found in header")
	}
	return signatures, nil
}

// VerifyHeader reports whether any signature in header matches
func VerifyHeader(secret Secret, deliveryID string, timestamp time.Time, body []byte, header string) (bool, error) {
	signatures, err := ParseHeader(header)
	if err != nil {
		return false, err
	}
	for _, sig := range signatures {
		ok, err := Verify(secret, deliveryID, timestamp, body, sig)
		if err != nil {
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
