package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"gatehouse.dev/internal/auth"
)

type captureSink struct{ entries []auth.AuditEntry }

func (c *captureSink) Record(_ context.Context, e auth.AuditEntry) { c.entries = append(c.entries, e) }

func TestPutPublicDelete(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	svc := NewService(NewMemoryStore(), sink)
	admin := &auth.Principal{ID: 4, Kind: auth.KindAdmin}
	yes, no := true, false
	desc := "shown in footer"

	s, err := svc.Put(ctx, admin, "app_name", Input{Value: "Gatehouse", IsPublic: &yes, Description: &desc})
	require.NoError(t, err)
	require.True(t, s.IsPublic)
	_, err = svc.Put(ctx, admin, "smtp.password", Input{Value: "hunter2", IsEncrypted: &yes})
	require.NoError(t, err)

	public, err := svc.Public(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"app_name": "Gatehouse"}, public)

	updated, err := svc.Put(ctx, admin, "app_name", Input{Value: "Gate", IsPublic: &no})
	require.NoError(t, err)
	require.Equal(t, s.ID, updated.ID)
	require.Equal(t, "shown in footer", updated.Description)
	require.False(t, updated.IsPublic)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, svc.Delete(ctx, admin, "app_name"))
	require.ErrorIs(t, svc.Delete(ctx, admin, "app_name"), auth.ErrNotFound)
	_, err = svc.Get(ctx, "app_name")
	require.ErrorIs(t, err, auth.ErrNotFound)

	require.Len(t, sink.entries, 4)
	require.Equal(t, auth.AuditSettingsUpdate, sink.entries[0].Action)
	require.Equal(t, "Setting 'app_name' created", sink.entries[0].Description)
	require.Equal(t, "Setting 'app_name' updated", sink.entries[2].Description)
	require.Equal(t, auth.AuditDelete, sink.entries[3].Action)
	require.Equal(t, int64(4), *sink.entries[3].AdminID)
}

func TestPutMany(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	svc := NewService(NewMemoryStore(), sink)
	yes := true

	_, err := svc.Put(ctx, nil, "email", Input{Value: "a@x.com"})
	require.NoError(t, err)

	created, updated, err := svc.PutMany(ctx, nil, map[string]string{"email": "b@x.com", "url": "https://x.com"}, nil, &yes)
	require.NoError(t, err)
	require.Equal(t, 1, created)
	require.Equal(t, 1, updated)

	public, err := svc.Public(ctx)
	require.NoError(t, err)
	require.Equal(t, "b@x.com", public["email"])

	last := sink.entries[len(sink.entries)-1]
	require.Equal(t, []string{"email", "url"}, last.ExtraData["keys"])
}

func TestInvalidKeys(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)
	for _, key := range []string{"", "has space", "slash/key"} {
		_, err := svc.Put(context.Background(), nil, key, Input{Value: "v"})
		require.ErrorIs(t, err, auth.ErrInvalidInput, key)
	}
	_, _, err := svc.PutMany(context.Background(), nil, nil, nil, nil)
	require.ErrorIs(t, err, auth.ErrInvalidInput)
}
