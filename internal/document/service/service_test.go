package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/jotion/jotion/backend/go-services/internal/config"
	"github.com/jotion/jotion/backend/go-services/internal/document"
	"github.com/jotion/jotion/backend/go-services/internal/document/repository"
	"github.com/jotion/jotion/backend/go-services/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "user-alice"
	bob   = "user-bob"
)

func ids(docs []*document.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}

func mustCreate(t *testing.T, s Service, caller, title string, parent *document.Document) *document.Document {
	t.Helper()
	in := CreateInput{Title: title}
	if parent != nil {
		in.ParentID = document.String(parent.ID)
	}
	d, err := s.Create(context.Background(), caller, in)
	require.NoError(t, err)
	return d
}

func TestCreate_DefaultsAndSidebar(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryService()

	root := mustCreate(t, s, alice, "", nil)
	assert.Equal(t, document.DefaultTitle, root.Title)
	assert.Equal(t, alice, root.OwnerID)
	assert.False(t, root.IsArchived)
	assert.False(t, root.IsPublished)
	assert.True(t, root.IsRoot())

	child := mustCreate(t, s, alice, "Child", root)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, root.ID, *child.ParentID)

	top, err := s.GetSidebar(ctx, alice, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{root.ID}, ids(top))

	under, err := s.GetSidebar(ctx, alice, &root.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{child.ID}, ids(under))

	_, err = s.Create(ctx, "", CreateInput{Title: "x"})
	assert.ErrorIs(t, err, document.ErrUnauthenticated)
}

func TestCreate_ValidatesParent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryService()
	mine := mustCreate(t, s, alice, "Mine", nil)

	_, err := s.Create(ctx, bob, CreateInput{Title: "Intruder", ParentID: &mine.ID})
	assert.ErrorIs(t, err, document.ErrForbidden)

	_, err = s.Create(ctx, alice, CreateInput{Title: "Lost", ParentID: document.String("missing")})
	assert.ErrorIs(t, err, document.ErrNotFound)

	_, _, err = s.Archive(ctx, alice, mine.ID)
	require.NoError(t, err)
	_, err = s.Create(ctx, alice, CreateInput{Title: "Under trash", ParentID: &mine.ID})
	assert.ErrorIs(t, err, document.ErrConflict)

	_, err = s.Create(ctx, alice, CreateInput{Title: strings.Repeat("x", MaxTitleLength+1)})
	assert.ErrorIs(t, err, document.ErrValidation)
}

func TestArchive_CascadesToSubtree(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryService()
	a := mustCreate(t, s, alice, "A", nil)
	b := mustCreate(t, s, alice, "B", a)
	c := mustCreate(t, s, alice, "C", b)

	d, job, err := s.Archive(ctx, alice, a.ID)
	require.NoError(t, err)
	assert.True(t, d.IsArchived)
	require.NotNil(t, job)
	assert.Equal(t, StatusSucceeded, job.Status)
	assert.Equal(t, 2, job.Updated)

	trash, err := s.GetTrash(ctx, alice, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID, c.ID}, ids(trash))

	top, err := s.GetSidebar(ctx, alice, nil)
	require.NoError(t, err)
	assert.Empty(t, top)

	search, err := s.GetSearch(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, search)
}

func TestArchive_Ownership(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryService()
	a := mustCreate(t, s, alice, "A", nil)

	_, _, err := s.Archive(ctx, bob, a.ID)
	assert.ErrorIs(t, err, document.ErrForbidden)
	_, _, err = s.Archive(ctx, "", a.ID)
	assert.ErrorIs(t, err, document.ErrUnauthenticated)
	_, _, err = s.Archive(ctx, alice, "missing")
	assert.ErrorIs(t, err, document.ErrNotFound)
}

func TestRestore_ParentHandling(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryService()
	a := mustCreate(t, s, alice, "A", nil)
	b := mustCreate(t, s, alice, "B", a)
	c := mustCreate(t, s, alice, "C", b)

	_, _, err := s.Archive(ctx, alice, a.ID)
	require.NoError(t, err)

	// parent still archived: B moves to the root, its own child keeps the link
	restored, job, err := s.Restore(ctx, alice, b.ID)
	require.NoError(t, err)
	assert.False(t, restored.IsArchived)
	assert.Nil(t, restored.ParentID)
	assert.Equal(t, 1, job.Updated)

	got, err := s.GetDocument(ctx, alice, c.ID)
	require.NoError(t, err)
	assert.False(t, got.IsArchived)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, b.ID, *got.ParentID)

	top, err := s.GetSidebar(ctx, alice, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, ids(top))

	// parent active: reference unchanged
	x := mustCreate(t, s, alice, "X", nil)
	y := mustCreate(t, s, alice, "Y", x)
	_, _, err = s.Archive(ctx, alice, y.ID)
	require.NoError(t, err)
	restored, _, err = s.Restore(ctx, alice, y.ID)
	require.NoError(t, err)
	require.NotNil(t, restored.ParentID)
	assert.Equal(t, x.ID, *restored.ParentID)
}

func TestRestore_MissingParentPromotesToRoot(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryService()
	a := mustCreate(t, s, alice, "A", nil)
	b := mustCreate(t, s, alice, "B", a)
	_, _, err := s.Archive(ctx, alice, b.ID)
	require.NoError(t, err)
	_, err = s.Remove(ctx, alice, a.ID, RemoveOrphan)
	require.NoError(t, err)

	restored, _, err := s.Restore(ctx, alice, b.ID)
	require.NoError(t, err)
	assert.Nil(t, restored.ParentID)
}

func TestRemove_OrphanLeavesChildrenResolvable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryService()
	a := mustCreate(t, s, alice, "A", nil)
	b := mustCreate(t, s, alice, "B", a)

	_, err := s.Remove(ctx, alice, a.ID, RemoveOrphan)
	require.NoError(t, err)

	_, err = s.GetDocument(ctx, alice, a.ID)
	assert.ErrorIs(t, err, document.ErrNotFound)

	got, err := s.GetDocument(ctx, alice, b.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, *got.ParentID)

	top, err := s.GetSidebar(ctx, alice, nil)
	require.NoError(t, err)
	assert.Empty(t, top)
	trash, err := s.GetTrash(ctx, alice, "")
	require.NoError(t, err)
	assert.Empty(t, trash)
}

func TestRemove_Policies(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepo()
	s := New(repo, Options{})
	a := mustCreate(t, s, alice, "A", nil)
	b := mustCreate(t, s, alice, "B", a)
	mustCreate(t, s, alice, "C", b)
	other := mustCreate(t, s, alice, "Other", nil)

	_, err := s.Remove(ctx, alice, a.ID, RemoveReject)
	assert.ErrorIs(t, err, document.ErrConflict)
	assert.Equal(t, 4, repo.Len())

	_, err = s.Remove(ctx, bob, a.ID, RemoveSubtree)
	assert.ErrorIs(t, err, document.ErrForbidden)

	_, err = s.Remove(ctx, alice, a.ID, RemoveSubtree)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.Len())

	_, err = s.Remove(ctx, alice, other.ID, RemoveReject)
	require.NoError(t, err)
	assert.Equal(t, 0, repo.Len())
}

func TestParseRemovePolicy(t *testing.T) {
	p, err := ParseRemovePolicy("")
	require.NoError(t, err)
	assert.Equal(t, RemoveOrphan, p)
	p, err = ParseRemovePolicy(" Subtree ")
	require.NoError(t, err)
	assert.Equal(t, RemoveSubtree, p)
	_, err = ParseRemovePolicy("everything")
	assert.ErrorIs(t, err, document.ErrValidation)
}

func TestUpdate_PartialAndValidation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryService()
	a := mustCreate(t, s, alice, "A", nil)

	d, err := s.Update(ctx, alice, a.ID, UpdateInput{Title: document.String("Renamed"), Icon: document.String("📄")})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", d.Title)
	assert.Equal(t, "📄", d.Icon)
	assert.Empty(t, d.Content)

	d, err = s.Update(ctx, alice, a.ID, UpdateInput{})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", d.Title)

	_, err = s.Update(ctx, alice, a.ID, UpdateInput{CoverImage: document.String("javascript:alert(1)")})
	assert.ErrorIs(t, err, document.ErrValidation)
	d, err = s.Update(ctx, alice, a.ID, UpdateInput{CoverImage: document.String("https://images.example.com/c.png")})
	require.NoError(t, err)
	assert.Equal(t, "https://images.example.com/c.png", d.CoverImage)

	_, err = s.Update(ctx, bob, a.ID, UpdateInput{Title: document.String("mine now")})
	assert.ErrorIs(t, err, document.ErrForbidden)

	d, err = s.RemoveIcon(ctx, alice, a.ID)
	require.NoError(t, err)
	assert.Empty(t, d.Icon)
	d, err = s.RemoveCoverImage(ctx, alice, a.ID)
	require.NoError(t, err)
	assert.Empty(t, d.CoverImage)
	assert.Equal(t, "Renamed", d.Title)
}

func TestGetDocument_Visibility(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryService()
	a := mustCreate(t, s, alice, "A", nil)

	_, err := s.GetDocument(ctx, "", a.ID)
	assert.ErrorIs(t, err, document.ErrUnauthenticated)
	_, err = s.GetDocument(ctx, bob, a.ID)
	assert.ErrorIs(t, err, document.ErrForbidden)

	_, err = s.Update(ctx, alice, a.ID, UpdateInput{IsPublished: document.Bool(true)})
	require.NoError(t, err)
	got, err := s.GetDocument(ctx, "", a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	_, err = s.GetDocument(ctx, bob, a.ID)
	require.NoError(t, err)

	_, _, err = s.Archive(ctx, alice, a.ID)
	require.NoError(t, err)
	_, err = s.GetDocument(ctx, "", a.ID)
	assert.ErrorIs(t, err, document.ErrUnauthenticated)
	_, err = s.GetDocument(ctx, bob, a.ID)
	assert.ErrorIs(t, err, document.ErrForbidden)
	_, err = s.GetDocument(ctx, alice, a.ID)
	require.NoError(t, err)
}

func TestReaders_ScopedToCaller(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryService()
	mustCreate(t, s, alice, "Alpha notes", nil)
	old := mustCreate(t, s, alice, "Beta plan", nil)
	mustCreate(t, s, bob, "Bob's", nil)

	search, err := s.GetSearch(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, search, 2)
	assert.Equal(t, "Beta plan", search[0].Title, "newest first")

	_, _, err = s.Archive(ctx, alice, old.ID)
	require.NoError(t, err)
	trash, err := s.GetTrash(ctx, alice, "BETA")
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID}, ids(trash))
	trash, err = s.GetTrash(ctx, alice, "alpha")
	require.NoError(t, err)
	assert.Empty(t, trash)

	bobTrash, err := s.GetTrash(ctx, bob, "")
	require.NoError(t, err)
	assert.Empty(t, bobTrash)

	for _, call := range []func() error{
		func() error { _, err := s.GetSidebar(ctx, "", nil); return err },
		func() error { _, err := s.GetTrash(ctx, "", ""); return err },
		func() error { _, err := s.GetSearch(ctx, ""); return err },
	} {
		assert.ErrorIs(t, call(), document.ErrUnauthenticated)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func TestMutations_PublishEvents(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	s := New(repository.NewMemoryRepo(), Options{Events: pub})
	a := mustCreate(t, s, alice, "A", nil)
	_, err := s.Update(ctx, alice, a.ID, UpdateInput{Title: document.String("A2")})
	require.NoError(t, err)
	_, _, err = s.Archive(ctx, alice, a.ID)
	require.NoError(t, err)
	_, err = s.Remove(ctx, alice, a.ID, RemoveOrphan)
	require.NoError(t, err)

	assert.Equal(t, []string{
		events.Created, events.Updated, events.Cascaded, events.Archived, events.Removed,
	}, pub.types())
}

type fakeFiles struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newFakeFiles() *fakeFiles { return &fakeFiles{objects: map[string][]byte{}} }

func (f *fakeFiles) UploadFile(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if f.failPut {
		return errors.New("storage down")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = b
	return nil
}

func (f *fakeFiles) RemoveFile(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeFiles) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func TestUploadCover(t *testing.T) {
	ctx := context.Background()
	files := newFakeFiles()
	s := New(repository.NewMemoryRepo(), Options{Files: files})
	a := mustCreate(t, s, alice, "A", nil)

	up := func(name string) CoverUpload {
		body := []byte("png-bytes")
		return CoverUpload{Reader: bytes.NewReader(body), Size: int64(len(body)), ContentType: "image/png", Filename: name}
	}

	d, err := s.UploadCover(ctx, alice, a.ID, up("cover.PNG"))
	require.NoError(t, err)
	key, ok := HostedKey(d.CoverImage)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(key, "covers/"+alice+"/"))
	assert.True(t, strings.HasSuffix(key, ".png"))
	assert.Equal(t, 1, files.len())

	// replacing drops the previous object
	d, err = s.UploadCover(ctx, alice, a.ID, up("next.png"))
	require.NoError(t, err)
	assert.Equal(t, 1, files.len())

	_, err = s.RemoveCoverImage(ctx, alice, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, files.len())

	_, err = s.UploadCover(ctx, alice, a.ID, CoverUpload{Reader: strings.NewReader("x"), Size: 1, ContentType: "text/plain"})
	assert.ErrorIs(t, err, document.ErrValidation)

	_, err = s.UploadCover(ctx, bob, a.ID, up("c.png"))
	assert.ErrorIs(t, err, document.ErrForbidden)

	_, err = NewMemoryService().UploadCover(ctx, alice, a.ID, up("c.png"))
	assert.Error(t, err)
}

func TestRemoveSubtree_DropsHostedCovers(t *testing.T) {
	ctx := context.Background()
	files := newFakeFiles()
	s := New(repository.NewMemoryRepo(), Options{Files: files})
	a := mustCreate(t, s, alice, "A", nil)
	b := mustCreate(t, s, alice, "B", a)
	body := []byte("img")
	_, err := s.UploadCover(ctx, alice, b.ID, CoverUpload{Reader: bytes.NewReader(body), Size: 3, ContentType: "image/jpeg", Filename: "b.jpg"})
	require.NoError(t, err)
	require.Equal(t, 1, files.len())

	_, err = s.Remove(ctx, alice, a.ID, RemoveSubtree)
	require.NoError(t, err)
	assert.Equal(t, 0, files.len())
}

func TestCover_ForeignHostedKeyIsNeverDeleted(t *testing.T) {
	ctx := context.Background()
	files := newFakeFiles()
	repo := repository.NewMemoryRepo()
	s := New(repo, Options{Files: files})
	a := mustCreate(t, s, alice, "A", nil)
	body := []byte("img")
	d, err := s.UploadCover(ctx, alice, a.ID, CoverUpload{Reader: bytes.NewReader(body), Size: 3, ContentType: "image/png", Filename: "a.png"})
	require.NoError(t, err)
	aliceCover := d.CoverImage

	// bob cannot point his document at alice's object
	b := mustCreate(t, s, bob, "B", nil)
	_, err = s.Update(ctx, bob, b.ID, UpdateInput{CoverImage: document.String(aliceCover)})
	assert.ErrorIs(t, err, document.ErrValidation)

	// a foreign key that reached storage some other way is left alone by
	// every path that drops covers
	plant := func() *document.Document {
		d := &document.Document{Title: "planted", OwnerID: bob, CoverImage: aliceCover}
		require.NoError(t, repo.Insert(ctx, d))
		return d
	}
	_, err = s.Update(ctx, bob, plant().ID, UpdateInput{CoverImage: document.String("https://cdn.example.com/x.png")})
	require.NoError(t, err)
	_, err = s.RemoveCoverImage(ctx, bob, plant().ID)
	require.NoError(t, err)
	_, err = s.Remove(ctx, bob, plant().ID, RemoveOrphan)
	require.NoError(t, err)
	assert.Equal(t, 1, files.len(), "alice's cover must survive bob's mutations")

	// alice may still reference her own upload
	_, err = s.Update(ctx, alice, a.ID, UpdateInput{CoverImage: document.String(aliceCover)})
	require.NoError(t, err)
}

func TestHostedKey(t *testing.T) {
	k, ok := HostedKey("/api/files/covers/u/x.png")
	assert.True(t, ok)
	assert.Equal(t, "covers/u/x.png", k)
	_, ok = HostedKey("https://cdn.example.com/x.png")
	assert.False(t, ok)
	_, ok = HostedKey("/api/files/../secrets")
	assert.False(t, ok)
}

func TestGetCascade_AsyncArchive(t *testing.T) {
	ctx := context.Background()
	s := New(repository.NewMemoryRepo(), Options{Mode: config.CascadeAsync, Workers: 2})
	a := mustCreate(t, s, alice, "A", nil)
	b := mustCreate(t, s, alice, "B", a)

	_, job, err := s.Archive(ctx, alice, a.ID)
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	s.Cascader().Wait()

	got, err := s.GetCascade(ctx, alice, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, 1, got.Updated)
	assert.True(t, got.Done())

	child, err := s.GetDocument(ctx, alice, b.ID)
	require.NoError(t, err)
	assert.True(t, child.IsArchived)

	_, err = s.GetCascade(ctx, bob, job.ID)
	assert.ErrorIs(t, err, document.ErrForbidden)
	_, err = s.GetCascade(ctx, alice, "nope")
	assert.ErrorIs(t, err, document.ErrNotFound)

	require.NoError(t, s.Close(ctx))
}

func TestArchiveThenRestore_AsyncLeavesSubtreeActive(t *testing.T) {
	ctx := context.Background()
	s := New(repository.NewMemoryRepo(), Options{Mode: config.CascadeAsync, Workers: 4})
	a := mustCreate(t, s, alice, "A", nil)
	b := mustCreate(t, s, alice, "B", a)
	c := mustCreate(t, s, alice, "C", b)

	_, _, err := s.Archive(ctx, alice, a.ID)
	require.NoError(t, err)
	_, _, err = s.Restore(ctx, alice, a.ID)
	require.NoError(t, err)
	s.Cascader().Wait()

	for _, d := range []*document.Document{a, b, c} {
		got, err := s.GetDocument(ctx, alice, d.ID)
		require.NoError(t, err)
		assert.False(t, got.IsArchived, d.Title)
	}
	search, err := s.GetSearch(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, search, 3)
}
