package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac>".
const SignatureHeader = "X-Signbridge-Signature"

// Sign computes an HMAC-SHA256 over "<unix seconds>.<payload>".
func Sign(secret string, ts time.Time, payload []byte) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + unix + ",v1=" + digest(secret, unix, payload)
}

// Verify checks a signature header against payload. A positive tolerance
// also rejects signatures older or newer than tolerance relative to now.
func Verify(secret string, payload []byte, header string, tolerance time.Duration, now time.Time) bool {
	var unix, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			unix = v
		case "v1":
			sig = v
		}
	}
	if unix == "" || sig == "" {
		return false
	}

	if tolerance > 0 {
		secs, err := strconv.ParseInt(unix, 10, 64)
		if err != nil {
			return false
		}
		skew := now.Sub(time.Unix(secs, 0))
		if skew < -tolerance || skew > tolerance {
			return false
		}
	}
	return hmac.Equal([]byte(digest(secret, unix, payload)), []byte(sig))
}

func digest(secret, unix string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unix))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
