package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"bookshare/internal/util"
	"bookshare/pkg/domain"
)

// MemoryStore keeps all data in-process. It backs tests and mirrors the
// SQL store's semantics, including owner-filtered writes and weighted
// search ranking.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User // key: user ID
	names    map[string]string      // username -> user ID
	books    map[string]domain.Book
	order    []string // book insertion order
	sessions map[string]domain.Session
	ttl      time.Duration
}

// NewMemoryStore initializes an empty in-memory store with the given
// session TTL.
func NewMemoryStore(sessionTTL time.Duration) *MemoryStore {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &MemoryStore{
		users:    make(map[string]domain.User),
		names:    make(map[string]string),
		books:    make(map[string]domain.Book),
		sessions: make(map[string]domain.Session),
		ttl:      sessionTTL,
	}
}

// CreateUser registers a user.
func (m *MemoryStore) CreateUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.names[u.Username] = u.ID
	return nil
}

// HasUsername checks whether a username exists.
func (m *MemoryStore) HasUsername(username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.names[username]
	return ok, nil
}

// GetUserByUsername looks up a user by exact username.
func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.names[username]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// CreateBook stores a book and tracks insertion order.
func (m *MemoryStore) CreateBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; !exists {
		m.order = append(m.order, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooks returns up to limit books in insertion order with owner
// usernames populated.
func (m *MemoryStore) ListBooks(limit int) ([]domain.CatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]domain.CatalogEntry, 0, len(m.order))
	for _, id := range m.order {
		if limit > 0 && len(entries) >= limit {
			break
		}
		if b, ok := m.books[id]; ok {
			entries = append(entries, m.entryLocked(b))
		}
	}
	return entries, nil
}

// UpdateBookOwned updates metadata only when both id and owner match.
func (m *MemoryStore) UpdateBookOwned(bookID, ownerID, title, author, genre string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[bookID]
	if !ok || b.OwnerID != ownerID {
		return nil
	}
	b.Title = title
	b.Author = author
	b.Genre = genre
	b.UpdatedAt = time.Now().UTC()
	m.books[bookID] = b
	return nil
}

// DeleteBookOwned removes the book only when both id and owner match.
func (m *MemoryStore) DeleteBookOwned(bookID, ownerID string) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[bookID]
	if !ok || b.OwnerID != ownerID {
		return domain.Book{}, false, nil
	}
	delete(m.books, bookID)
	filtered := m.order[:0]
	for _, id := range m.order {
		if id != bookID {
			filtered = append(filtered, id)
		}
	}
	m.order = filtered
	return b, true, nil
}

// SearchBooks matches query terms against title and genre, ranking a
// title hit three times a genre hit. Insertion order breaks ties.
func (m *MemoryStore) SearchBooks(query string) ([]domain.CatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	type ranked struct {
		entry domain.CatalogEntry
		score int
		pos   int
	}
	var matches []ranked
	for pos, id := range m.order {
		b, ok := m.books[id]
		if !ok {
			continue
		}
		title := strings.ToLower(b.Title)
		genre := strings.ToLower(b.Genre)
		score := 0
		for _, term := range terms {
			if strings.Contains(title, term) {
				score += 3
			}
			if strings.Contains(genre, term) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, ranked{entry: m.entryLocked(b), score: score, pos: pos})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].pos < matches[j].pos
	})
	entries := make([]domain.CatalogEntry, 0, len(matches))
	for _, match := range matches {
		entries = append(entries, match.entry)
	}
	return entries, nil
}

func (m *MemoryStore) entryLocked(b domain.Book) domain.CatalogEntry {
	entry := domain.CatalogEntry{Book: b}
	if owner, ok := m.users[b.OwnerID]; ok {
		entry.OwnerUsername = owner.Username
	}
	return entry
}

// NewSession creates a session token bound to a user.
func (m *MemoryStore) NewSession(userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	token := util.NewToken()
	m.sessions[token] = domain.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}
	return token, nil
}

// GetUserIDByToken resolves a live session, sliding its expiry forward.
func (m *MemoryStore) GetUserIDByToken(token string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[token]
	if !ok {
		return "", false, nil
	}
	now := time.Now().UTC()
	if sess.Expired(now) {
		delete(m.sessions, token)
		return "", false, nil
	}
	sess.ExpiresAt = now.Add(m.ttl)
	m.sessions[token] = sess
	return sess.UserID, true, nil
}

// DeleteSession removes a token. Unknown tokens are not an error.
func (m *MemoryStore) DeleteSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}
