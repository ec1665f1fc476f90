package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUserNotFound indicates no token record exists for the requested user id.
var ErrUserNotFound = errors.New("users: user not found")

// upsertColumns are the fields replaced when a token write hits an existing
// row. Profile overrides (first/last name), timezone and welcome-form state are
// deliberately absent so a re-link does not wipe them.
var upsertColumns = []string{
	"email",
	"display_name",
	"access_token",
	"refresh_token",
	"token_type",
	"token_expiration_s",
	"scope",
	"client_id",
	"client_secret",
	"has_calendar_access",
	"updated_at",
}

// StoreConfig describes the dependencies required by the token store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Store persists user token records, one row per user id. Every write is a
// single-row statement; the driver's per-row write guarantee is the only
// atomicity this store needs.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore constructs the token store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: cfg.Database, now: clock}, nil
}

// Upsert writes the record keyed on user id, creating it when absent and
// replacing the token and identity columns when present.
func (s *Store) Upsert(ctx context.Context, record *UserTokenRecord) error {
	if record == nil || record.UserID == "" {
		return fmt.Errorf("users: record with user id required")
	}
	record.UpdatedAt = s.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.UpdatedAt
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).
		Create(record).
		Error
}

// Get loads the record for the user id, or ErrUserNotFound.
func (s *Store) Get(ctx context.Context, userID string) (*UserTokenRecord, error) {
	var record UserTokenRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&record).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ApplyPartialUpdate mutates the named columns for an existing record and
// bumps updated_at. Missing users surface as ErrUserNotFound.
func (s *Store) ApplyPartialUpdate(ctx context.Context, userID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	updates := make(map[string]any, len(fields)+1)
	for column, value := range fields {
		updates[column] = value
	}
	updates["updated_at"] = s.now().UTC()

	result := s.db.WithContext(ctx).
		Model(&UserTokenRecord{}).
		Where("user_id = ?", userID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return nil
}

// ClientCredentials is the projection used when only the per-user OAuth client
// pair is needed.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// GetClientCredentials reads only the stored OAuth client pair for the user.
func (s *Store) GetClientCredentials(ctx context.Context, userID string) (ClientCredentials, error) {
	var record UserTokenRecord
	err := s.db.WithContext(ctx).
		Select("client_id", "client_secret").
		Where("user_id = ?", userID).
		Take(&record).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ClientCredentials{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return ClientCredentials{}, err
	}
	return ClientCredentials{ClientID: record.ClientID, ClientSecret: record.ClientSecret}, nil
}
