package repository

import (
	"context"
	"testing"

	"github.com/jotion/jotion/backend/go-services/internal/document"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepoCRUD(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()
	d := &document.Document{Title: "Plans", OwnerID: "u1", Content: "hello"}
	require.NoError(t, r.Insert(ctx, d))
	require.NotEmpty(t, d.ID)
	require.False(t, d.CreatedAt.IsZero())

	got, err := r.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", got.Content)

	upd, err := r.Update(ctx, d.ID, document.Patch{Content: document.String("new"), Icon: document.String("📄")})
	require.NoError(t, err)
	require.Equal(t, "new", upd.Content)
	require.Equal(t, "📄", upd.Icon)

	upd, err = r.Update(ctx, d.ID, document.Patch{ClearIcon: true})
	require.NoError(t, err)
	require.Empty(t, upd.Icon)

	removed, err := r.Delete(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, d.ID, removed.ID)
	_, err = r.Get(ctx, d.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.Update(ctx, d.ID, document.Patch{Title: document.String("x")})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.Delete(ctx, d.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepoReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()
	parent := "p1"
	d := &document.Document{Title: "child", OwnerID: "u1", ParentID: &parent}
	require.NoError(t, r.Insert(ctx, d))

	got, err := r.Get(ctx, d.ID)
	require.NoError(t, err)
	got.Title = "mutated"
	*got.ParentID = "other"

	again, err := r.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "child", again.Title)
	require.Equal(t, "p1", *again.ParentID)
}

func TestMemoryRepoListFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()
	insert := func(title, owner string, parent *string, archived bool) *document.Document {
		d := &document.Document{Title: title, OwnerID: owner, ParentID: parent, IsArchived: archived}
		require.NoError(t, r.Insert(ctx, d))
		return d
	}
	a := insert("a", "u1", nil, false)
	b := insert("b", "u1", nil, false)
	c := insert("c", "u1", &a.ID, false)
	insert("d", "u1", nil, true)
	insert("e", "u2", nil, false)

	roots, err := r.List(ctx, Filter{OwnerID: "u1", ByParent: true, Archived: document.Bool(false)})
	require.NoError(t, err)
	require.Len(t, roots, 2)
	require.Equal(t, b.ID, roots[0].ID, "newest first")
	require.Equal(t, a.ID, roots[1].ID)

	children, err := r.List(ctx, Filter{OwnerID: "u1", ByParent: true, ParentID: &a.ID})
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, c.ID, children[0].ID)

	archived, err := r.List(ctx, Filter{OwnerID: "u1", Archived: document.Bool(true)})
	require.NoError(t, err)
	require.Len(t, archived, 1)
	require.Equal(t, "d", archived[0].Title)

	all, err := r.List(ctx, Filter{OwnerID: "u1"})
	require.NoError(t, err)
	require.Len(t, all, 4)
}
