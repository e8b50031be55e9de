package session

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/otherjamesbrown/admin-auth-service/internal/policy"
)

func TestManagerIssueAndValidate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := NewManager(NewMemoryStore(clock), clock)

	token, s, err := m.Issue(ctx, "acct-1", []policy.Factor{policy.FactorPassword, policy.FactorTOTP}, 8*time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, now, s.IssuedAt)
	assert.Equal(t, now.Add(8*time.Hour), s.ExpiresAt)
	assert.Equal(t, []policy.Factor{policy.FactorPassword, policy.FactorTOTP}, s.FactorsSatisfied)

	got, err := m.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	_, err = m.Validate(ctx, token+"x")
	assert.ErrorIs(t, err, ErrNotFound)

	now = now.Add(8 * time.Hour)
	_, err = m.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound, "session expires at issuedAt + timeout")
}

func TestManagerRevoke(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(nil), nil)

	token, _, err := m.Issue(ctx, "acct-1", []policy.Factor{policy.FactorPassword}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, token))

	_, err = m.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerRevokeAccount(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(nil), nil)

	t1, _, err := m.Issue(ctx, "acct-1", nil, time.Hour)
	require.NoError(t, err)
	t2, _, err := m.Issue(ctx, "acct-1", nil, time.Hour)
	require.NoError(t, err)
	other, _, err := m.Issue(ctx, "acct-2", nil, time.Hour)
	require.NoError(t, err)

	n, err := m.RevokeAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, tok := range []string{t1, t2} {
		_, err := m.Validate(ctx, tok)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	_, err = m.Validate(ctx, other)
	assert.NoError(t, err)
}

func TestManagerRejectsZeroTimeout(t *testing.T) {
	m := NewManager(NewMemoryStore(nil), nil)
	_, _, err := m.Issue(context.Background(), "acct-1", nil, 0)
	assert.ErrorIs(t, err, ErrInvalidTimeout)
}

func TestHashTokenIsStable(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.Len(t, HashToken("abc"), 64)
}

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine",
		testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	m := NewManager(NewRedisStore(client, "test"), nil)

	token, issued, err := m.Issue(ctx, "acct-1", []policy.Factor{policy.FactorPassword}, time.Hour)
	require.NoError(t, err)

	got, err := m.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, issued.ID, got.ID)
	assert.True(t, issued.ExpiresAt.Equal(got.ExpiresAt))

	ttl, err := client.TTL(ctx, "test:session:"+HashToken(token)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	second, _, err := m.Issue(ctx, "acct-1", nil, 2*time.Hour)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, token))
	_, err = m.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := m.RevokeAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = m.Validate(ctx, second)
	assert.ErrorIs(t, err, ErrNotFound)
}
