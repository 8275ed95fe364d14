package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Signature is a parsed signature header of the form "t=<unix>,v1=<hex>".
// Several v1 entries may be present during secret rotation.
type Signature struct {
	Timestamp int64
	Values    []string
}

// String renders the header value.
func (s Signature) String() string {
	var b strings.Builder
	b.WriteString("t=")
	b.WriteString(strconv.FormatInt(s.Timestamp, 10))
	for _, v := range s.Values {
		b.WriteString(",v1=")
		b.WriteString(v)
	}
	return b.String()
}

// Sign signs payload at the current time and returns the header value.
func Sign(secret string, payload []byte) (string, error) {
	return SignAt(secret, payload, time.Now())
}

// SignAt signs payload as if sent at ts.
// The MAC is HMAC-SHA256(secret, "<unix ts>.<payload>").
func SignAt(secret string, payload []byte, ts time.Time) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	if len(payload) == 0 {
		return "", ErrInvalidPayload
	}
	unix := ts.Unix()
	return Signature{Timestamp: unix, Values: []string{computeMAC(secret, unix, payload)}}.String(), nil
}

// ParseHeader parses a "t=...,v1=..." header. Unknown keys are ignored.
func ParseHeader(header string) (Signature, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Signature{}, ErrMissingSignature
	}

	var sig Signature
	for part := range strings.SplitSeq(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return Signature{}, fmt.Errorf("%w: %q", ErrMalformedHeader, part)
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Signature{}, errors.Join(ErrMalformedHeader, err)
			}
			sig.Timestamp = ts
		case "v1":
			sig.Values = append(sig.Values, value)
		}
	}

	if sig.Timestamp == 0 || len(sig.Values) == 0 {
		return Signature{}, ErrMalformedHeader
	}
	return sig, nil
}

// Verify checks header against payload. With tolerance > 0 the signature
// timestamp must be within tolerance of now; a minute of clock skew into the
// future is accepted. Comparison is constant time.
func Verify(secret string, payload []byte, header string, tolerance time.Duration) error {
	return VerifyAt(secret, payload, header, tolerance, time.Now())
}

// VerifyAt is Verify evaluated at the given instant.
func VerifyAt(secret string, payload []byte, header string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return ErrMissingSecret
	}
	if len(payload) == 0 {
		return ErrInvalidPayload
	}

	sig, err := ParseHeader(header)
	if err != nil {
		return err
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(sig.Timestamp, 0))
		if age > tolerance || age < -time.Minute {
			return fmt.Errorf("%w: age %s", ErrSignatureExpired, age.Truncate(time.Second))
		}
	}

	expected := []byte(computeMAC(secret, sig.Timestamp, payload))
	for _, v := range sig.Values {
		if hmac.Equal(expected, []byte(v)) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

func computeMAC(secret string, ts int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte{'.'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
