package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookshare/pkg/domain"
)

func seedUser(t *testing.T, m *MemoryStore, id, username string) domain.User {
	t.Helper()
	user := domain.User{
		ID:        id,
		Username:  username,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, m.CreateUser(user))
	return user
}

func seedBook(t *testing.T, m *MemoryStore, id, ownerID, title, genre string) domain.Book {
	t.Helper()
	book := domain.Book{
		ID:               id,
		OwnerID:          ownerID,
		Title:            title,
		Genre:            genre,
		StoredFilename:   id + ".pdf",
		OriginalFilename: title + ".pdf",
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, m.CreateBook(book))
	return book
}

func TestMemoryStoreListBooksPopulatesOwnerUsername(t *testing.T) {
	m := NewMemoryStore(time.Hour)
	seedUser(t, m, "u1", "alice")
	seedBook(t, m, "b1", "u1", "Dune", "science fiction")
	seedBook(t, m, "b2", "u1", "Hyperion", "science fiction")

	entries, err := m.ListBooks(15)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Dune", entries[0].Title)
	assert.Equal(t, "alice", entries[0].OwnerUsername)

	limited, err := m.ListBooks(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryStoreOwnerFilteredWritesAreNoOpsOnMismatch(t *testing.T) {
	m := NewMemoryStore(time.Hour)
	seedUser(t, m, "u1", "alice")
	seedUser(t, m, "u2", "bob")
	before := seedBook(t, m, "b1", "u1", "Dune", "science fiction")

	require.NoError(t, m.UpdateBookOwned("b1", "u2", "Hijacked", "", ""))
	_, deleted, err := m.DeleteBookOwned("b1", "u2")
	require.NoError(t, err)
	assert.False(t, deleted)

	after, ok, err := m.GetBook("b1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, before.Title, after.Title)
	assert.Equal(t, before.Genre, after.Genre)

	gone, deleted, err := m.DeleteBookOwned("b1", "u1")
	require.NoError(t, err)
	require.True(t, deleted)
	assert.Equal(t, "b1", gone.ID)
	_, ok, err = m.GetBook("b1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreSearchRanksTitleAboveGenre(t *testing.T) {
	m := NewMemoryStore(time.Hour)
	seedUser(t, m, "u1", "alice")
	seedBook(t, m, "b1", "u1", "Cooking Basics", "reference")
	seedBook(t, m, "b2", "u1", "Kitchen Tales", "cooking")

	entries, err := m.SearchBooks("cooking")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b1", entries[0].ID, "title match should outrank genre match")
	assert.Equal(t, "b2", entries[1].ID)

	missing, err := m.SearchBooks("astronomy")
	require.NoError(t, err)
	assert.Empty(t, missing)

	blank, err := m.SearchBooks("   ")
	require.NoError(t, err)
	assert.Empty(t, blank)
}

func TestMemoryStoreSessions(t *testing.T) {
	m := NewMemoryStore(50 * time.Millisecond)
	seedUser(t, m, "u1", "alice")

	token, err := m.NewSession("u1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	uid, ok, err := m.GetUserIDByToken(token)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u1", uid)

	require.NoError(t, m.DeleteSession(token))
	_, ok, err = m.GetUserIDByToken(token)
	require.NoError(t, err)
	assert.False(t, ok)

	// expiry
	token, err = m.NewSession("u1")
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, ok, err = m.GetUserIDByToken(token)
	require.NoError(t, err)
	assert.False(t, ok)
}
