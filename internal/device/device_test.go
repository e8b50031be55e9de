package device

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintHash(t *testing.T) {
	assert.Equal(t, "", FingerprintHash("   "))
	assert.Equal(t, FingerprintHash("laptop-1"), FingerprintHash(" laptop-1 "))
	assert.Len(t, FingerprintHash("laptop-1"), 64)
}

func TestKnownDeviceEvaluator(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.TrustDevice(ctx, TrustedDevice{AccountID: "alice", FingerprintHash: FingerprintHash("laptop-1")}))
	e := NewKnownDeviceEvaluator(store)

	cases := []struct {
		name    string
		account string
		sig     *Signal
		want    Verdict
	}{
		{"known device", "alice", &Signal{Fingerprint: "laptop-1"}, Trusted},
		{"unknown device", "alice", &Signal{Fingerprint: "phone-9"}, Untrusted},
		{"other account", "bob", &Signal{Fingerprint: "laptop-1"}, Untrusted},
		{"blank fingerprint", "alice", &Signal{}, Untrusted},
		{"no signal", "alice", nil, Untrusted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Evaluate(ctx, tc.account, tc.sig)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

type brokenStore struct{ *MemoryStore }

func (brokenStore) IsTrustedDevice(context.Context, string, string) (bool, error) {
	return false, errors.New("timeout")
}

func TestEvaluatorPropagatesStoreError(t *testing.T) {
	e := NewKnownDeviceEvaluator(brokenStore{NewMemoryStore()})
	v, err := e.Evaluate(context.Background(), "alice", &Signal{Fingerprint: "x"})
	require.Error(t, err)
	assert.Equal(t, Untrusted, v)
}

func TestMemoryStoreRevokeAndList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	h := FingerprintHash("laptop-1")
	require.NoError(t, s.TrustDevice(ctx, TrustedDevice{AccountID: "alice", FingerprintHash: h, Label: "work laptop"}))

	list, err := s.ListDevices(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "work laptop", list[0].Label)

	require.NoError(t, s.RevokeDevice(ctx, "alice", h))
	assert.ErrorIs(t, s.RevokeDevice(ctx, "alice", h), ErrNotFound)

	ok, err := s.IsTrustedDevice(ctx, "alice", h)
	require.NoError(t, err)
	assert.False(t, ok)
}
