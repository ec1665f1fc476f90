package users

import (
	"sort"
	"strings"
	"time"
)

// UserTokenRecord holds the Google OAuth credentials and profile state for one
// admin-panel user. Uniqueness is keyed on the PropelAuth user id: re-linking
// the same account overwrites the row, it never duplicates it.
type UserTokenRecord struct {
	UserID               string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email                string    `gorm:"column:email;size:320"`
	DisplayName          string    `gorm:"column:display_name;size:320"`
	FirstName            string    `gorm:"column:first_name;size:160"`
	LastName             string    `gorm:"column:last_name;size:160"`
	AccessToken          string    `gorm:"column:access_token;size:4096"`
	RefreshToken         string    `gorm:"column:refresh_token;size:4096"`
	TokenType            string    `gorm:"column:token_type;size:32"`
	TokenExpiration      int64     `gorm:"column:token_expiration_s"`
	Scope                string    `gorm:"column:scope;size:2048"`
	ClientID             string    `gorm:"column:client_id;size:320"`
	ClientSecret         string    `gorm:"column:client_secret;size:320"`
	HasCalendarAccess    bool      `gorm:"column:has_calendar_access;not null;default:false"`
	Timezone             string    `gorm:"column:timezone;size:64"`
	WelcomeFormCompleted bool      `gorm:"column:welcome_form_completed;not null;default:false"`
	WelcomeFormData      string    `gorm:"column:welcome_form_data"`
	CreatedAt            time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user token records.
func (UserTokenRecord) TableName() string {
	return "user_tokens"
}

// GrantedScopes splits the stored scope string into individual scope grants.
func (r UserTokenRecord) GrantedScopes() []string {
	return splitScopes(r.Scope)
}

// HasScopes reports whether every required scope is present in the granted set.
// Order is irrelevant; duplicates are harmless.
func (r UserTokenRecord) HasScopes(required ...string) bool {
	granted := make(map[string]struct{})
	for _, scope := range r.GrantedScopes() {
		granted[scope] = struct{}{}
	}
	for _, scope := range required {
		if _, ok := granted[scope]; !ok {
			return false
		}
	}
	return true
}

// TokenExpired reports whether the stored absolute expiry has passed. A zero
// expiry means the provider never reported one and the token is treated as live.
func (r UserTokenRecord) TokenExpired(now time.Time) bool {
	return r.TokenExpiration > 0 && now.Unix() >= r.TokenExpiration
}

// JoinScopes renders a scope set in the stored space-separated form.
func JoinScopes(scopes []string) string {
	cleaned := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if trimmed := strings.TrimSpace(scope); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	sort.Strings(cleaned)
	return strings.Join(cleaned, " ")
}

func splitScopes(value string) []string {
	return strings.Fields(value)
}
