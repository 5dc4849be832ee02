package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the header carrying the webhook signature.
const SignatureHeader = "Payment-Signature"

// DefaultTolerance is how far the signed timestamp may drift from now.
const DefaultTolerance = 5 * time.Minute

// Sign computes the header value for payload signed at t. The gateway
// does the same on its side, it is exported for tooling and tests.
func Sign(payload []byte, secret string, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(computeMAC(ts, payload, []byte(secret))))
}

func computeMAC(ts string, payload, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// parsedHeader is "t=<unix>,v1=<hex>[,v1=<hex>...]". Unknown schemes are ignored.
type parsedHeader struct {
	timestamp  string
	signatures [][]byte
}

func parseHeader(header string) (parsedHeader, error) {
	var h parsedHeader
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			h.timestamp = value
		case "v1":
			sig, err := hex.DecodeString(strings.ToLower(value))
			if err != nil {
				continue
			}
			h.signatures = append(h.signatures, sig)
		}
	}
	if h.timestamp == "" {
		return h, fmt.Errorf("%w: missing timestamp", ErrSignature)
	}
	if len(h.signatures) == 0 {
		return h, fmt.Errorf("%w: no v1 signature", ErrSignature)
	}
	return h, nil
}

func verifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return fmt.Errorf("%w: webhook secret is not configured", ErrSignature)
	}
	h, err := parseHeader(header)
	if err != nil {
		return err
	}

	unix, err := strconv.ParseInt(h.timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrSignature)
	}
	if tolerance > 0 {
		drift := now.Sub(time.Unix(unix, 0))
		if drift < 0 {
			drift = -drift
		}
		if drift > tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrSignature)
		}
	}

	expected := computeMAC(h.timestamp, payload, []byte(secret))
	for _, sig := range h.signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", ErrSignature)
}
