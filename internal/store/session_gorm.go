package store

import (
	"time"

	"gorm.io/gorm"

	"bookshare/internal/util"
)

// GormSessionStore keeps sessions in the same Postgres database as the
// rest of the data, so they survive process restarts.
type GormSessionStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewGormSessionStore builds a session store sharing the GormStore's DB.
func NewGormSessionStore(s *GormStore, ttl time.Duration) *GormSessionStore {
	return &GormSessionStore{db: s.db, ttl: ttl}
}

// NewSession writes a token -> userID mapping with a server-side expiry.
func (s *GormSessionStore) NewSession(userID string) (string, error) {
	now := time.Now().UTC()
	model := SessionModel{
		Token:     util.NewToken(),
		UserID:    userID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.db.Create(&model).Error; err != nil {
		return "", err
	}
	return model.Token, nil
}

// GetUserIDByToken resolves a live session to its user ID. A hit slides
// the expiry forward; an expired record is removed and reported as a miss.
func (s *GormSessionStore) GetUserIDByToken(token string) (string, bool, error) {
	var model SessionModel
	if err := s.db.First(&model, "token = ?", token).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	now := time.Now().UTC()
	if !model.ExpiresAt.After(now) {
		_ = s.db.Delete(&SessionModel{}, "token = ?", token).Error
		return "", false, nil
	}
	if err := s.db.Model(&SessionModel{}).
		Where("token = ?", token).
		Update("expires_at", now.Add(s.ttl)).Error; err != nil {
		return "", false, err
	}
	return model.UserID, true, nil
}

// DeleteSession removes a token mapping. Unknown tokens are not an error.
func (s *GormSessionStore) DeleteSession(token string) error {
	return s.db.Delete(&SessionModel{}, "token = ?", token).Error
}
