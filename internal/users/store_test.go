package users

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newStoreForTest(t *testing.T, clock func() time.Time) *Store {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "store.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := database.AutoMigrate(&UserTokenRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewStore(StoreConfig{Database: database, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func TestUpsertCreatesRecord(t *testing.T) {
	store := newStoreForTest(t, nil)
	ctx := context.Background()

	record := &UserTokenRecord{
		UserID:            "user-123",
		Email:             "jane@example.com",
		AccessToken:       "access-1",
		RefreshToken:      "refresh-1",
		TokenType:         "Bearer",
		TokenExpiration:   1767225600,
		Scope:             "email openid",
		ClientID:          "client-id",
		ClientSecret:      "client-secret",
		HasCalendarAccess: true,
	}
	if err := store.Upsert(ctx, record); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	loaded, err := store.Get(ctx, "user-123")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.Email != "jane@example.com" || loaded.AccessToken != "access-1" {
		t.Fatalf("unexpected record %+v", loaded)
	}
	if loaded.TokenExpiration != 1767225600 || !loaded.HasCalendarAccess {
		t.Fatalf("unexpected token state %+v", loaded)
	}
	if loaded.CreatedAt.IsZero() || loaded.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be populated")
	}
}

func TestUpsertReplacesTokensAndPreservesProfileState(t *testing.T) {
	currentTime := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newStoreForTest(t, func() time.Time { return currentTime })
	ctx := context.Background()

	initial := &UserTokenRecord{
		UserID:       "user-123",
		Email:        "jane@example.com",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Scope:        "email openid",
	}
	if err := store.Upsert(ctx, initial); err != nil {
		t.Fatalf("initial upsert failed: %v", err)
	}

	profileUpdates := map[string]any{
		"first_name":             "Janet",
		"last_name":              "Doe",
		"timezone":               "America/New_York",
		"welcome_form_completed": true,
		"welcome_form_data":      `{"team":"ops"}`,
	}
	if err := store.ApplyPartialUpdate(ctx, "user-123", profileUpdates); err != nil {
		t.Fatalf("partial update failed: %v", err)
	}

	firstVersion, err := store.Get(ctx, "user-123")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	currentTime = currentTime.Add(time.Hour)
	relink := &UserTokenRecord{
		UserID:            "user-123",
		Email:             "jane@example.com",
		AccessToken:       "access-2",
		RefreshToken:      "refresh-2",
		TokenType:         "Bearer",
		Scope:             "calendar email openid",
		HasCalendarAccess: true,
	}
	if err := store.Upsert(ctx, relink); err != nil {
		t.Fatalf("relink upsert failed: %v", err)
	}

	loaded, err := store.Get(ctx, "user-123")
	if err != nil {
		t.Fatalf("get after relink failed: %v", err)
	}

	if loaded.AccessToken != "access-2" || loaded.RefreshToken != "refresh-2" {
		t.Fatalf("expected token columns to be replaced, got %+v", loaded)
	}
	if !loaded.HasCalendarAccess || loaded.Scope != "calendar email openid" {
		t.Fatalf("expected grant columns to be replaced, got %+v", loaded)
	}
	if loaded.FirstName != "Janet" || loaded.LastName != "Doe" {
		t.Fatalf("relink must preserve name overrides, got %+v", loaded)
	}
	if loaded.Timezone != "America/New_York" {
		t.Fatalf("relink must preserve timezone, got %q", loaded.Timezone)
	}
	if !loaded.WelcomeFormCompleted || loaded.WelcomeFormData != `{"team":"ops"}` {
		t.Fatalf("relink must preserve welcome form state, got %+v", loaded)
	}
	if loaded.UpdatedAt.Before(firstVersion.UpdatedAt) {
		t.Fatalf("updated_at must not move backwards: %v then %v", firstVersion.UpdatedAt, loaded.UpdatedAt)
	}
}

func TestUpsertKeepsOneRowPerUser(t *testing.T) {
	store := newStoreForTest(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		record := &UserTokenRecord{UserID: "user-123", AccessToken: "access"}
		if err := store.Upsert(ctx, record); err != nil {
			t.Fatalf("upsert %d failed: %v", i, err)
		}
	}

	var count int64
	if err := store.db.Model(&UserTokenRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row, got %d", count)
	}
}

func TestGetUnknownUserReturnsNotFound(t *testing.T) {
	store := newStoreForTest(t, nil)

	_, err := store.Get(context.Background(), "missing-user")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestApplyPartialUpdateUnknownUserReturnsNotFound(t *testing.T) {
	store := newStoreForTest(t, nil)

	err := store.ApplyPartialUpdate(context.Background(), "missing-user", map[string]any{"timezone": "UTC"})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestGetClientCredentialsProjectsStoredPair(t *testing.T) {
	store := newStoreForTest(t, nil)
	ctx := context.Background()

	record := &UserTokenRecord{
		UserID:       "user-123",
		AccessToken:  "access-1",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	}
	if err := store.Upsert(ctx, record); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	credentials, err := store.GetClientCredentials(ctx, "user-123")
	if err != nil {
		t.Fatalf("credentials lookup failed: %v", err)
	}
	if credentials.ClientID != "client-id" || credentials.ClientSecret != "client-secret" {
		t.Fatalf("unexpected credentials %+v", credentials)
	}

	if _, err := store.GetClientCredentials(ctx, "missing-user"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
