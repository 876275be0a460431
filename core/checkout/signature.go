package checkout

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// SignatureHeader carries `t=<unix seconds>,v1=<hex hmac-sha256 of "t.payload">`.
const SignatureHeader = "Coursekit-Signature"

// Verifier checks webhook signatures made with the secret shared with the payments provider.
type Verifier struct {
	secret    []byte
	tolerance time.Duration // 0 disables the timestamp check
	nowFunc   func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance, nowFunc: time.Now}
}

// Verify fails with ErrInvalidSignature unless one v1 signature of header matches payload
// and its timestamp is within the tolerance.
func (v *Verifier) Verify(header string, payload []byte) error {
	if len(v.secret) == 0 {
		return errors.Wrap(ErrInvalidSignature, "no webhook secret configured")
	}

	ts, sigs, err := parseSignatureHeader(header)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}
	if v.tolerance > 0 {
		age := v.nowFunc().Sub(time.Unix(ts, 0))
		if age < 0 {
			age = -age
		}
		if age > v.tolerance {
			return errors.Wrap(ErrInvalidSignature, "timestamp outside the tolerance")
		}
	}

	expected := computeSignature(v.secret, ts, payload)
	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return errors.Wrap(ErrInvalidSignature, "no matching signature")
}

// Sign returns the header value for payload signed at t.
func (v *Verifier) Sign(payload []byte, t time.Time) string {
	ts := t.Unix()
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + hex.EncodeToString(computeSignature(v.secret, ts, payload))
}

func computeSignature(secret []byte, ts int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	var ts int64
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			t, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, errors.New("malformed timestamp")
			}
			ts = t
		case "v1":
			sig, err := hex.DecodeString(kv[1])
			if err != nil {
				continue
			}
			sigs = append(sigs, sig)
		}
	}
	if ts == 0 {
		return 0, nil, errors.New("missing timestamp")
	}
	if len(sigs) == 0 {
		return 0, nil, errors.New("missing signature")
	}
	return ts, sigs, nil
}
