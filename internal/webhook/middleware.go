package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"cobranca_backend/platform/config"

	"github.com/gin-gonic/gin"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Webhook-Signature"

// SignatureRequired validates the gateway's request signature before the
// payload is trusted. The signature is HMAC-SHA256 over the raw body,
// keyed with the shared webhook secret, hex encoded. A "sha256=" prefix
// on the header value is accepted.
func SignatureRequired(cfg config.TelephonyConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := cfg.GetTelephonyWebhookSecret()
		if secret == "" {
			// Development convenience: no secret configured means open access.
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		provided := strings.TrimPrefix(c.GetHeader(SignatureHeader), "sha256=")
		receivedSig, err := hex.DecodeString(provided)
		if err != nil || len(receivedSig) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed signature"})
			return
		}

		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		if !hmac.Equal(receivedSig, mac.Sum(nil)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		c.Next()
	}
}

// Sign computes the signature header value for a body. Used by tests and
// by local tooling that replays gateway callbacks.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
