package users

import (
	"testing"
	"time"
)

func TestHasScopesRequiresEveryScope(t *testing.T) {
	record := UserTokenRecord{Scope: "https://www.googleapis.com/auth/calendar email openid"}

	if !record.HasScopes("email", "openid") {
		t.Fatalf("expected granted subset to pass")
	}
	if !record.HasScopes("openid", "email") {
		t.Fatalf("scope order must not matter")
	}
	if record.HasScopes("email", "https://www.googleapis.com/auth/calendar.events") {
		t.Fatalf("missing scope must fail the whole check")
	}
	if !record.HasScopes() {
		t.Fatalf("empty requirement is always satisfied")
	}
}

func TestTokenExpiredUsesAbsoluteExpiry(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	live := UserTokenRecord{TokenExpiration: now.Add(time.Hour).Unix()}
	if live.TokenExpired(now) {
		t.Fatalf("future expiry must not be expired")
	}

	expired := UserTokenRecord{TokenExpiration: now.Add(-time.Second).Unix()}
	if !expired.TokenExpired(now) {
		t.Fatalf("past expiry must be expired")
	}

	boundary := UserTokenRecord{TokenExpiration: now.Unix()}
	if !boundary.TokenExpired(now) {
		t.Fatalf("expiry at the current instant counts as expired")
	}

	unreported := UserTokenRecord{}
	if unreported.TokenExpired(now) {
		t.Fatalf("zero expiry means the provider reported none; treat as live")
	}
}

func TestJoinScopesSortsAndTrims(t *testing.T) {
	joined := JoinScopes([]string{"  openid ", "email", "", "calendar"})
	if joined != "calendar email openid" {
		t.Fatalf("unexpected join result %q", joined)
	}
	if JoinScopes(nil) != "" {
		t.Fatalf("empty input must join to empty string")
	}
}
