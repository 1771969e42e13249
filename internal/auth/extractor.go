package auth

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/als-ai/gateway/internal/proxyerr"
)

// Source names the carrier a credential arrived on.
type Source string

const (
	SourceBearer Source = "authorization_bearer"
	SourceBasic  Source = "authorization_basic"
	SourceHeader Source = "x_api_key"
	SourceQuery  Source = "query_param"
	SourceBody   Source = "json_body"
)

var (
	keyFormat = regexp.MustCompile(`^(als_[A-Za-z0-9]{43}|test_[A-Za-z0-9]{39})$`)

	// Obvious placeholder values that slip through the format gate.
	placeholderPattern = regexp.MustCompile(`(?i)(test123|dummy|example|sample|placeholder)`)

	// Canonicalization keeps only characters a key can legally contain.
	invalidChars = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// Extracted is a validated credential ready for lookup. The plaintext is kept
// only long enough to hash; it must never be logged beyond Preview.
type Extracted struct {
	Plaintext string
	Source    Source
	Hash      string
	Preview   string
}

// Extractor pulls a tenant credential from an inbound request. Carriers are
// tried in a fixed order and the first match wins.
type Extractor struct {
	logger *zap.Logger
}

func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract finds, canonicalizes, validates, and hashes the request credential.
func (e *Extractor) Extract(r *http.Request) (*Extracted, *proxyerr.Error) {
	raw, source := e.findCredential(r)
	if raw == "" {
		return nil, proxyerr.New(proxyerr.KindMissingCredential, "no API key supplied")
	}

	token := Canonicalize(raw)
	if !keyFormat.MatchString(token) {
		return nil, proxyerr.New(proxyerr.KindMalformedCredential, "API key format not recognized")
	}
	if placeholderPattern.MatchString(token) {
		return nil, proxyerr.New(proxyerr.KindMalformedCredential, "API key looks like a placeholder")
	}

	return &Extracted{
		Plaintext: token,
		Source:    source,
		Hash:      HashKey(token),
		Preview:   Preview(token),
	}, nil
}

// findCredential walks the carriers in priority order.
func (e *Extractor) findCredential(r *http.Request) (string, Source) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 {
			switch strings.ToLower(parts[0]) {
			case "bearer":
				return parts[1], SourceBearer
			case "basic":
				if token := fromBasic(parts[1]); token != "" {
					return token, SourceBasic
				}
			}
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return key, SourceHeader
	}

	query := r.URL.Query()
	for _, param := range []string{"api_key", "key"} {
		if key := query.Get(param); key != "" {
			e.logger.Warn("API key passed via query parameter",
				zap.String("param", param),
				zap.String("path", r.URL.Path))
			return key, SourceQuery
		}
	}

	if key := fromJSONBody(r); key != "" {
		return key, SourceBody
	}

	return "", ""
}

// fromBasic accepts the key as either the user or the password of a Basic
// credential pair, whichever looks like one of ours.
func fromBasic(encoded string) string {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ""
	}
	user, pass, found := strings.Cut(string(decoded), ":")
	if !found {
		return ""
	}
	if keyFormat.MatchString(Canonicalize(user)) {
		return user
	}
	if keyFormat.MatchString(Canonicalize(pass)) {
		return pass
	}
	return ""
}

// fromJSONBody reads an api_key field from a JSON POST body without consuming
// it; the body is restored so downstream handlers still see it.
func fromJSONBody(r *http.Request) string {
	if r.Method != http.MethodPost {
		return ""
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return ""
	}
	if r.Body == nil {
		return ""
	}

	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return ""
	}

	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.APIKey
}

// Canonicalize strips whitespace, control characters, and anything else a key
// cannot legally contain. It is deterministic.
func Canonicalize(raw string) string {
	return invalidChars.ReplaceAllString(strings.TrimSpace(raw), "")
}

// HashKey computes the lowercase hex SHA-256 of a key. The hash is the sole
// lookup key downstream.
func HashKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Preview renders a loggable form of the key: first 8 and last 4 characters.
func Preview(token string) string {
	if len(token) < 12 {
		return token
	}
	return token[:8] + "..." + token[len(token)-4:]
}
