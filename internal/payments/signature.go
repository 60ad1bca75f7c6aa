package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

const signatureField = "signature"

var errInvalidSignature = pkgerrors.New(pkgerrors.CodeInvalidSignature, "signature verification failed")

func sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(secret string, message []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hmac.Equal(got, mac.Sum(nil))
}

// canonical joins fields as k=v pairs sorted by key. The signature field
// itself never takes part.
func canonical(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == signatureField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

// signFields computes the signature of a canonical field set.
func signFields(secret string, fields map[string]string) string {
	return sign(secret, []byte(canonical(fields)))
}

func verifyFields(secret string, fields map[string]string) error {
	sig := fields[signatureField]
	if sig == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "signature missing")
	}
	if !verify(secret, []byte(canonical(fields)), sig) {
		return errInvalidSignature
	}
	return nil
}

// timestampedSignature is the "t=<unix>,v1=<hex>" header format.
type timestampedSignature struct {
	Timestamp int64
	V1        string
}

func parseTimestampedSignature(header string) (timestampedSignature, error) {
	var out timestampedSignature
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return out, pkgerrors.Wrap(pkgerrors.CodeInvalidSignature, err, "malformed signature timestamp")
			}
			out.Timestamp = ts
		case "v1":
			out.V1 = value
		}
	}
	if out.Timestamp == 0 || out.V1 == "" {
		return out, pkgerrors.New(pkgerrors.CodeInvalidSignature, "signature header incomplete")
	}
	return out, nil
}

func verifyTimestamped(secret, header string, body []byte, now time.Time, tolerance time.Duration) error {
	parsed, err := parseTimestampedSignature(header)
	if err != nil {
		return err
	}
	signedAt := time.Unix(parsed.Timestamp, 0)
	skew := now.Sub(signedAt)
	if skew < 0 {
		skew = -skew
	}
	if tolerance > 0 && skew > tolerance {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "signature timestamp outside tolerance")
	}
	if !verify(secret, timestampedMessage(parsed.Timestamp, body), parsed.V1) {
		return errInvalidSignature
	}
	return nil
}

func timestampedMessage(ts int64, body []byte) []byte {
	prefix := strconv.FormatInt(ts, 10) + "."
	msg := make([]byte, 0, len(prefix)+len(body))
	msg = append(msg, prefix...)
	return append(msg, body...)
}
