// Package signing produces the double-HMAC request signature the upstream
// verifies. The algorithm mirrors the upstream frontend and must not drift:
// the signature covers a canonical string of the request identity, the
// base64 of the last user message, and the request timestamp, keyed by a
// 5-minute time-bucketed derivation of the root secret.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
)

// bucketMs is the signing window width. Signatures are valid only while the
// upstream computes the same bucket for the timestamp.
const bucketMs = 300000

// Identity builds the identity string for a request in the fixed field order
// the upstream expects.
func Identity(requestID string, timestampMs int64, userID string) string {
	return fmt.Sprintf("requestId,%s,timestamp,%d,user_id,%s", requestID, timestampMs, userID)
}

// Sign computes the request signature over the identity, the user message
// text, and the millisecond timestamp. It is deterministic for identical
// inputs. Returns the hex signature and the timestamp rendered as the
// decimal string sent alongside it.
func Sign(secret []byte, identity, messageText string, timestampMs int64) (signature, timestampStr string) {
	bodyB64 := base64.StdEncoding.EncodeToString([]byte(messageText))
	canonical := identity + "|" + bodyB64 + "|" + strconv.FormatInt(timestampMs, 10)

	bucket := timestampMs / bucketMs
	intermediate := hmacHex(secret, strconv.FormatInt(bucket, 10))
	// The intermediate key is the hex string's bytes, not the raw digest.
	signature = hmacHex([]byte(intermediate), canonical)
	return signature, strconv.FormatInt(timestampMs, 10)
}

// RootKey decodes the configured secret. A valid hex string is decoded to
// its raw bytes, anything else is used as UTF-8, and an empty secret falls
// back to the provided default.
func RootKey(configured, fallback string) []byte {
	if configured == "" {
		configured = fallback
	}
	if decoded, err := hex.DecodeString(configured); err == nil && len(decoded) > 0 {
		return decoded
	}
	return []byte(configured)
}

func hmacHex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
