package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndValidateSession(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	r, err := svc.CreateSession(ctx, "sub-1", time.Hour)
	require.NoError(t, err)
	assert.Len(t, r, 64)

	sess, err := svc.ValidateRefresh(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sess.Sub)

	require.NoError(t, svc.DeleteRefresh(ctx, r))
	_, err = svc.ValidateRefresh(ctx, r)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestValidateRefresh_Expired(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	r, err := svc.CreateSession(ctx, "sub-1", time.Minute)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	_, err = svc.ValidateRefresh(ctx, r)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRotate(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	old, err := svc.CreateSession(ctx, "sub-9", time.Hour)
	require.NoError(t, err)

	next, sess, err := svc.Rotate(ctx, old, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, old, next)
	assert.Equal(t, "sub-9", sess.Sub)

	_, err = svc.ValidateRefresh(ctx, old)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	got, err := svc.ValidateRefresh(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, "sub-9", got.Sub)

	_, _, err = svc.Rotate(ctx, old, time.Hour)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
