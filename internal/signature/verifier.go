// Package signature authenticates payment notifications with HMAC-SHA256.
//
// The bytes that are signed are a protocol detail of the provider
// integration, so the canonicalization scheme is chosen explicitly at
// construction and never inferred from the request.
package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Scheme selects how canonical bytes are derived from a request body.
type Scheme string

const (
	// SchemeRawJSON signs the request body exactly as received on the wire.
	SchemeRawJSON Scheme = "raw-json"
	// SchemeSortedForm signs the URL-decoded form fields sorted by key and
	// joined as key=value pairs separated by '&'.
	SchemeSortedForm Scheme = "sorted-form"
)

// Form fields that carry the signature itself and are never signed.
var signatureFields = map[string]struct{}{
	"sign":      {},
	"signature": {},
}

// ParseScheme validates a configured scheme name.
func ParseScheme(name string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(name))) {
	case "", SchemeRawJSON:
		return SchemeRawJSON, nil
	case SchemeSortedForm:
		return SchemeSortedForm, nil
	default:
		return "", fmt.Errorf("unknown signature scheme %q (want %q or %q)", name, SchemeRawJSON, SchemeSortedForm)
	}
}

// Verifier checks notification signatures against a process-wide secret.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	secret []byte
	scheme Scheme
	prefix string
}

// NewVerifier creates a verifier. prefix is a literal label (for example
// "sha256=") that the provider may put in front of the hex digest.
func NewVerifier(secret string, scheme Scheme, prefix string) *Verifier {
	if scheme == "" {
		scheme = SchemeRawJSON
	}
	return &Verifier{
		secret: []byte(secret),
		scheme: scheme,
		prefix: strings.TrimSpace(prefix),
	}
}

// Scheme returns the canonicalization scheme in use.
func (v *Verifier) Scheme() Scheme {
	return v.scheme
}

// Verify reports whether claimedSignature is the HMAC of rawBody. Any
// missing input, decode error, or mismatch yields false.
func (v *Verifier) Verify(rawBody []byte, claimedSignature string) bool {
	if len(v.secret) == 0 {
		return false
	}
	claimed := v.normalize(claimedSignature)
	if claimed == "" {
		return false
	}
	got, err := hex.DecodeString(claimed)
	if err != nil || len(got) != sha256.Size {
		return false
	}

	canonical, err := v.CanonicalBytes(rawBody)
	if err != nil {
		return false
	}
	return hmac.Equal(v.mac(canonical), got)
}

// Sign returns the lower-case hex signature the provider would send for
// rawBody, without any label prefix.
func (v *Verifier) Sign(rawBody []byte) (string, error) {
	if len(v.secret) == 0 {
		return "", fmt.Errorf("signature secret not configured")
	}
	canonical, err := v.CanonicalBytes(rawBody)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(v.mac(canonical)), nil
}

// CanonicalBytes returns the exact byte sequence covered by the signature.
func (v *Verifier) CanonicalBytes(rawBody []byte) ([]byte, error) {
	switch v.scheme {
	case SchemeRawJSON:
		return rawBody, nil
	case SchemeSortedForm:
		values, err := url.ParseQuery(string(rawBody))
		if err != nil {
			return nil, fmt.Errorf("decode form body: %w", err)
		}
		return CanonicalForm(values), nil
	default:
		return nil, fmt.Errorf("unsupported signature scheme %q", v.scheme)
	}
}

func (v *Verifier) mac(canonical []byte) []byte {
	m := hmac.New(sha256.New, v.secret)
	m.Write(canonical)
	return m.Sum(nil)
}

func (v *Verifier) normalize(claimed string) string {
	claimed = strings.TrimSpace(claimed)
	if v.prefix != "" && len(claimed) >= len(v.prefix) && strings.EqualFold(claimed[:len(v.prefix)], v.prefix) {
		claimed = strings.TrimSpace(claimed[len(v.prefix):])
	}
	return strings.ToLower(claimed)
}

// CanonicalForm renders decoded form values as sorted key=value pairs joined
// by '&'. Repeated keys keep their received order. Signature fields are
// skipped.
func CanonicalForm(values url.Values) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		if _, skip := signatureFields[strings.ToLower(k)]; skip {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		for _, val := range values[k] {
			if buf.Len() > 0 {
				buf.WriteByte('&')
			}
			buf.WriteString(k)
			buf.WriteByte('=')
			buf.WriteString(val)
		}
	}
	return buf.Bytes()
}
