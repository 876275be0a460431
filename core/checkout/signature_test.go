package checkout

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestVerifier_Verify(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	v := NewVerifier("whsec_test", 5*time.Minute)
	v.nowFunc = func() time.Time { return now }
	payload := []byte(`{"id":"evt_1"}`)
	valid := v.Sign(payload, now)

	tests := []struct {
		name    string
		header  string
		payload []byte
		wantErr bool
	}{
		{name: "valid", header: valid, payload: payload},
		{name: "rotated secrets", header: "t=1714564800,v1=00ff," + valid[len("t=1714564800,"):], payload: payload},
		{name: "tampered payload", header: valid, payload: []byte(`{"id":"evt_2"}`), wantErr: true},
		{name: "too old", header: v.Sign(payload, now.Add(-6*time.Minute)), payload: payload, wantErr: true},
		{name: "in the future", header: v.Sign(payload, now.Add(6*time.Minute)), payload: payload, wantErr: true},
		{name: "within tolerance", header: v.Sign(payload, now.Add(-4*time.Minute)), payload: payload},
		{name: "no timestamp", header: valid[len("t=1714564800,"):], payload: payload, wantErr: true},
		{name: "bad timestamp", header: "t=abc," + valid[len("t=1714564800,"):], payload: payload, wantErr: true},
		{name: "no signature", header: "t=1714564800", payload: payload, wantErr: true},
		{name: "non hex signature", header: "t=1714564800,v1=zz", payload: payload, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.header, tt.payload)
			if tt.wantErr {
				assert.Equal(t, ErrInvalidSignature, errors.Cause(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifier_Verify_noSecret(t *testing.T) {
	v := NewVerifier("", 0)
	payload := []byte("{}")
	err := v.Verify(v.Sign(payload, time.Now()), payload)
	assert.Equal(t, ErrInvalidSignature, errors.Cause(err))
}

func TestVerifier_Verify_noTolerance(t *testing.T) {
	v := NewVerifier("whsec_test", 0)
	payload := []byte("{}")
	assert.NoError(t, v.Verify(v.Sign(payload, time.Now().Add(-72*time.Hour)), payload))
}
