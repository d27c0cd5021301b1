package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names attached to signed broker requests.
const (
	HeaderAPIKey    = "TG-API-KEY"
	HeaderTimestamp = "TG-TIMESTAMP"
	HeaderSignature = "TG-SIGNATURE"
)

// HMACAuth holds the credentials used to sign requests to an HTTP order
// router.
type HMACAuth struct {
	Key    string
	Secret string
}

// Headers returns the signing headers for a request. The signature is
// HMAC-SHA256(secret, timestamp+method+path+body) encoded as base64.
func (h *HMACAuth) Headers(method, path string, body []byte) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderAPIKey:    h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: Sign([]byte(h.Secret), ts, method, path, body),
	}
}

// Verify recomputes the signature for the given request parts and compares
// it in constant time.
func (h *HMACAuth) Verify(ts, method, path string, body []byte, signature string) bool {
	want := Sign([]byte(h.Secret), ts, method, path, body)
	return hmac.Equal([]byte(want), []byte(signature))
}

// Sign computes the base64 HMAC-SHA256 of ts+method+path+body.
func Sign(key []byte, ts, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ts))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
