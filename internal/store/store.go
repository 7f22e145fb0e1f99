package store

import "bookshare/pkg/domain"

// Store defines persistence operations for users and books.
type Store interface {
	// users
	CreateUser(u domain.User) error
	HasUsername(username string) (bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// books
	CreateBook(b domain.Book) error
	GetBook(id string) (domain.Book, bool, error)
	ListBooks(limit int) ([]domain.CatalogEntry, error)

	// UpdateBookOwned updates title/author/genre of the book matching both
	// id and owner. A non-matching row is left untouched and no error is
	// returned; the write is atomic at the row level.
	UpdateBookOwned(bookID, ownerID, title, author, genre string) error

	// DeleteBookOwned removes the book matching both id and owner and
	// returns it so callers can clean up stored files. Absence or an
	// owner mismatch reports deleted=false with no error.
	DeleteBookOwned(bookID, ownerID string) (book domain.Book, deleted bool, err error)

	// SearchBooks returns relevance-ranked matches over title and genre,
	// title weighted above genre.
	SearchBooks(query string) ([]domain.CatalogEntry, error)
}

// SessionStore persists opaque session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
