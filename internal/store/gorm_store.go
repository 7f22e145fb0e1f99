package store

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bookshare/pkg/domain"
)

// searchVector is the weighted text-search expression over books: title
// carries weight A, genre weight B.
const searchVector = `setweight(to_tsvector('simple', coalesce(title, '')), 'A') || setweight(to_tsvector('simple', coalesce(genre, '')), 'B')`

// searchRankWeights maps {D, C, B, A} positions so that a genre hit ranks
// a third of a title hit.
const searchRankWeights = `'{0.1, 0.2, 0.3333, 1.0}'`

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB, runs auto-migrations, and ensures the
// weighted text-search index over book titles and genres.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &BookModel{}, &SessionModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	indexSQL := "CREATE INDEX IF NOT EXISTS idx_book_models_text_search ON book_models USING GIN ((" + searchVector + "))"
	if err := db.Exec(indexSQL).Error; err != nil {
		return nil, fmt.Errorf("create search index: %w", err)
	}
	return &GormStore{db: db}, nil
}

// CreateUser inserts a new user row.
func (s *GormStore) CreateUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Create(&model).Error
}

// HasUsername checks whether a username exists (case-sensitive).
func (s *GormStore) HasUsername(username string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByUsername looks up a user by exact username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("username = ?", username).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreateBook inserts a new book row.
func (s *GormStore) CreateBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Create(&model).Error
}

// GetBook retrieves a book by ID.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

type catalogRow struct {
	ID               string
	OwnerID          string
	Title            string
	Author           string
	Genre            string
	StoredFilename   string
	OriginalFilename string
	SizeBytes        int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	OwnerUsername    string
}

func (r catalogRow) entry() domain.CatalogEntry {
	return domain.CatalogEntry{
		Book: domain.Book{
			ID:               r.ID,
			OwnerID:          r.OwnerID,
			Title:            r.Title,
			Author:           r.Author,
			Genre:            r.Genre,
			StoredFilename:   r.StoredFilename,
			OriginalFilename: r.OriginalFilename,
			SizeBytes:        r.SizeBytes,
			CreatedAt:        r.CreatedAt,
			UpdatedAt:        r.UpdatedAt,
		},
		OwnerUsername: r.OwnerUsername,
	}
}

func (s *GormStore) catalogQuery() *gorm.DB {
	return s.db.Table("book_models").
		Select("book_models.*, user_models.username AS owner_username").
		Joins("JOIN user_models ON user_models.id = book_models.owner_id")
}

// ListBooks returns up to limit books in insertion order, each with the
// owner's username populated.
func (s *GormStore) ListBooks(limit int) ([]domain.CatalogEntry, error) {
	var rows []catalogRow
	tx := s.catalogQuery().Order("book_models.created_at ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rowsToEntries(rows), nil
}

// UpdateBookOwned applies new metadata to the book matching both id and
// owner. A non-matching row is simply not touched.
func (s *GormStore) UpdateBookOwned(bookID, ownerID, title, author, genre string) error {
	return s.db.Model(&BookModel{}).
		Where("id = ? AND owner_id = ?", bookID, ownerID).
		Updates(map[string]any{
			"title":      title,
			"author":     author,
			"genre":      genre,
			"updated_at": time.Now().UTC(),
		}).Error
}

// DeleteBookOwned removes the book matching both id and owner, returning
// the deleted row so callers can remove its stored file.
func (s *GormStore) DeleteBookOwned(bookID, ownerID string) (domain.Book, bool, error) {
	var model BookModel
	deleted := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, "id = ? AND owner_id = ?", bookID, ownerID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		if err := tx.Delete(&BookModel{}, "id = ? AND owner_id = ?", bookID, ownerID).Error; err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return domain.Book{}, false, err
	}
	if !deleted {
		return domain.Book{}, false, nil
	}
	return bookFromModel(model), true, nil
}

// SearchBooks runs a weighted full-text query over title and genre and
// returns matches ordered by rank.
func (s *GormStore) SearchBooks(query string) ([]domain.CatalogEntry, error) {
	var rows []catalogRow
	rank := clause.OrderBy{
		Expression: clause.Expr{
			SQL:  "ts_rank(" + searchRankWeights + ", " + searchVector + ", plainto_tsquery('simple', ?)) DESC",
			Vars: []any{query},
		},
	}
	err := s.catalogQuery().
		Where(searchVector+" @@ plainto_tsquery('simple', ?)", query).
		Clauses(rank).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rowsToEntries(rows), nil
}

func rowsToEntries(rows []catalogRow) []domain.CatalogEntry {
	entries := make([]domain.CatalogEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}
	return entries
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:               b.ID,
		OwnerID:          b.OwnerID,
		Title:            b.Title,
		Author:           b.Author,
		Genre:            b.Genre,
		StoredFilename:   b.StoredFilename,
		OriginalFilename: b.OriginalFilename,
		SizeBytes:        b.SizeBytes,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:               m.ID,
		OwnerID:          m.OwnerID,
		Title:            m.Title,
		Author:           m.Author,
		Genre:            m.Genre,
		StoredFilename:   m.StoredFilename,
		OriginalFilename: m.OriginalFilename,
		SizeBytes:        m.SizeBytes,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
