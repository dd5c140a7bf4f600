package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/casefinder/models"
)

// keyDigest is the only form in which configured keys are held after startup.
type keyDigest [sha256.Size]byte

// KeyIdentity names a key without revealing it: "key-" plus the first eight
// hex digits of its SHA-256. It is what Auth stores under APIKeyKey and what
// the rate limiter buckets by.
func KeyIdentity(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "key-" + hex.EncodeToString(sum[:4])
}

// Auth rejects calls that carry no configured key, read from X-API-Key or
// Authorization: Bearer. Rejections are logged with the correlation id so
// they can be matched to the X-Request-ID the caller saw.
//
// With no non-empty keys the middleware lets everything through.
func Auth(apiKeys []string) gin.HandlerFunc {
	var digests []keyDigest
	for _, k := range apiKeys {
		if k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}
	if len(digests) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key, scheme := credential(c.Request)
		if key == "" {
			reject(c, "missing", scheme,
				"missing API key: provide X-API-Key header or Authorization: Bearer <key>")
			return
		}
		if !known(digests, sha256.Sum256([]byte(key))) {
			reject(c, "unknown", scheme, "invalid API key")
			return
		}

		c.Set(APIKeyKey, KeyIdentity(key))
		c.Next()
	}
}

// known compares against every digest so timing does not depend on which
// key matched.
func known(digests []keyDigest, got keyDigest) bool {
	match := 0
	for i := range digests {
		match |= subtle.ConstantTimeCompare(digests[i][:], got[:])
	}
	return match == 1
}

// credential returns the presented key and the header it came from.
func credential(r *http.Request) (key, scheme string) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, "x-api-key"
	}
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ""
	}
	kind, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(kind, "Bearer") {
		return "", "authorization"
	}
	return strings.TrimSpace(token), "bearer"
}

func reject(c *gin.Context, reason, scheme, message string) {
	slog.Warn("request rejected: api key "+reason,
		CorrelationIDKey, c.GetString(CorrelationIDKey),
		"scheme", scheme,
		"client_ip", c.ClientIP(),
		"path", c.FullPath(),
	)
	abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, message)
}

// abort writes the search error envelope and stops the chain.
func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.SearchResponse{
		ErrorMessage: message,
		Error:        &models.ErrorDetail{Code: code, Message: message},
	})
}
