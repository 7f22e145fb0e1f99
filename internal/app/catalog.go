package app

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookshare/internal/storage"
	"bookshare/pkg/domain"
)

// DefaultCatalogLimit caps the catalog listing when no limit is given.
const DefaultCatalogLimit = 15

// Upload describes an incoming book file.
type Upload struct {
	Filename string
	Size     int64
	Reader   io.Reader
}

// CreateBook stores the uploaded file and then the book record, in that
// order, so the record never references missing bytes. The owner is fixed
// from the authenticated session and never reassigned.
func (a *App) CreateBook(ownerID, title, author, genre string, upload *Upload) (domain.Book, error) {
	title = strings.TrimSpace(title)
	if title == "" || upload == nil {
		return domain.Book{}, fmt.Errorf("%w: please upload a book and add its title", ErrValidation)
	}
	now := time.Now().UTC()
	book := domain.Book{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		Title:            title,
		Author:           strings.TrimSpace(author),
		Genre:            strings.TrimSpace(genre),
		StoredFilename:   storage.StoredName(upload.Filename),
		OriginalFilename: filepath.Base(upload.Filename),
		SizeBytes:        upload.Size,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(upload.Filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.files.Save(context.Background(), book.StoredFilename, upload.Reader, upload.Size, contentType); err != nil {
		return domain.Book{}, fmt.Errorf("save file: %w", err)
	}
	if err := a.store.CreateBook(book); err != nil {
		_ = a.files.Delete(context.Background(), book.StoredFilename)
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// ListBooks returns up to limit catalog entries in insertion order, owner
// usernames populated.
func (a *App) ListBooks(limit int) ([]domain.CatalogEntry, error) {
	if limit <= 0 {
		limit = DefaultCatalogLimit
	}
	return a.store.ListBooks(limit)
}

// GetBook retrieves a book by ID.
func (a *App) GetBook(bookID string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrNotFound
	}
	return book, nil
}

// OpenBookFile streams the stored bytes of a book. Callers must close the
// reader.
func (a *App) OpenBookFile(book domain.Book) (io.ReadCloser, error) {
	return a.files.Open(context.Background(), book.StoredFilename)
}

// UpdateBook applies new metadata to a book the user owns. An id/owner
// mismatch is a silent no-op, so existence is never leaked.
func (a *App) UpdateBook(bookID, ownerID, title, author, genre string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	return a.store.UpdateBookOwned(bookID, ownerID, title, strings.TrimSpace(author), strings.TrimSpace(genre))
}

// DeleteBook removes a book the user owns together with its stored file.
// An id/owner mismatch is a silent no-op, mirroring UpdateBook.
func (a *App) DeleteBook(bookID, ownerID string) error {
	book, deleted, err := a.store.DeleteBookOwned(bookID, ownerID)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if !deleted {
		return nil
	}
	if err := a.files.Delete(context.Background(), book.StoredFilename); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// Search returns relevance-ranked matches over titles and genres. A blank
// query yields an empty result set.
func (a *App) Search(query string) ([]domain.CatalogEntry, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	return a.store.SearchBooks(query)
}
