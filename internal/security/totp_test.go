package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rfcSecret = []byte("12345678901234567890")

func TestCurrentCodeRFC6238Vectors(t *testing.T) {
	tests := []struct {
		unix int64
		want string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
	}

	for _, tt := range tests {
		code, err := CurrentCode(rfcSecret, time.Unix(tt.unix, 0))
		require.NoError(t, err)
		assert.Equal(t, tt.want, code, "unix=%d", tt.unix)
	}
}

func TestVerifySelfConsistent(t *testing.T) {
	for i := 0; i < 5; i++ {
		secret, err := GenerateSecret()
		require.NoError(t, err)

		for _, ts := range []time.Time{
			time.Unix(0, 0),
			time.Unix(1700000000, 0),
			time.Unix(1700000029, 0),
			time.Date(2026, 10, 16, 12, 0, 15, 0, time.UTC),
		} {
			code, err := CurrentCode(secret, ts)
			require.NoError(t, err)
			assert.True(t, Verify(secret, code, ts, 0), "code must verify at the instant it was generated")
		}
	}
}

func TestVerifyRejectsCodeBeyondTolerance(t *testing.T) {
	issued := time.Unix(1111111109, 0)
	code, err := CurrentCode(rfcSecret, issued)
	require.NoError(t, err)

	assert.False(t, Verify(rfcSecret, code, issued.Add(61*time.Second), 1))
	assert.False(t, Verify(rfcSecret, code, issued.Add(-61*time.Second), 1))
}

func TestToleranceChangesCheckedSteps(t *testing.T) {
	issued := time.Unix(1234567890, 0)
	code, err := CurrentCode(rfcSecret, issued)
	require.NoError(t, err)

	next := issued.Add(30 * time.Second)
	assert.False(t, Verify(rfcSecret, code, next, 0), "adjacent step must fail without tolerance")
	assert.True(t, Verify(rfcSecret, code, next, 1), "adjacent step must pass with tolerance 1")

	prev := issued.Add(-30 * time.Second)
	assert.False(t, Verify(rfcSecret, code, prev, 0))
	assert.True(t, Verify(rfcSecret, code, prev, 1))
}

func TestToleranceIsClamped(t *testing.T) {
	issued := time.Unix(1234567890, 0)
	code, err := CurrentCode(rfcSecret, issued)
	require.NoError(t, err)

	assert.False(t, Verify(rfcSecret, code, issued.Add(60*time.Second), 10))
	assert.False(t, Verify(rfcSecret, code, issued.Add(30*time.Second), -3))
}

func TestMatchStepReturnsMatchedStep(t *testing.T) {
	issued := time.Unix(2000000000, 0)
	code, err := CurrentCode(rfcSecret, issued)
	require.NoError(t, err)

	step, ok := MatchStep(rfcSecret, code, issued.Add(30*time.Second), 1)
	require.True(t, ok)
	assert.Equal(t, StepIndex(issued), step)
}

func TestVerifyMalformedInput(t *testing.T) {
	now := time.Unix(1700000000, 0)
	code, err := CurrentCode(rfcSecret, now)
	require.NoError(t, err)

	assert.False(t, Verify(rfcSecret, "", now, 1))
	assert.False(t, Verify(rfcSecret, "12345", now, 1))
	assert.False(t, Verify(rfcSecret, "12a456", now, 1))
	assert.False(t, Verify(rfcSecret, code+"0", now, 1))
	assert.False(t, Verify(nil, code, now, 1))
	assert.False(t, Verify([]byte("short"), code, now, 1))
}

func TestStepIndex(t *testing.T) {
	assert.Equal(t, int64(0), StepIndex(time.Unix(29, 0)))
	assert.Equal(t, int64(1), StepIndex(time.Unix(30, 0)))
	assert.Equal(t, int64(-1), StepIndex(time.Unix(-1, 0)))
}

func TestConsumedWindow(t *testing.T) {
	assert.Equal(t, 30*time.Second, ConsumedWindow(0))
	assert.Equal(t, 90*time.Second, ConsumedWindow(1))
	assert.Equal(t, 90*time.Second, ConsumedWindow(4))
}
