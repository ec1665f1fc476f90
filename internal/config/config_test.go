package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func completeViper() *viper.Viper {
	v := NewViper()
	v.Set("google.client_id", "client-id")
	v.Set("google.client_secret", "client-secret")
	v.Set("google.redirect_uri", "https://api.example.com/auth/google/callback")
	v.Set("propelauth.url", "https://auth.example.com")
	v.Set("propelauth.api_key", "service-api-key")
	return v
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(completeViper())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.HTTPAddress != "0.0.0.0:8001" {
		t.Fatalf("unexpected address %q", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != "calendar.db" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.DefaultTimezone != "America/New_York" || cfg.MaxCalendarEvents != 10 {
		t.Fatalf("unexpected calendar defaults %+v", cfg)
	}
	if cfg.UpstreamTimeout != 10*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.UpstreamTimeout)
	}
}

func TestLoadRejectsMissingRequiredValues(t *testing.T) {
	cases := []struct {
		clearedKey string
	}{
		{clearedKey: "google.client_id"},
		{clearedKey: "google.client_secret"},
		{clearedKey: "google.redirect_uri"},
		{clearedKey: "propelauth.url"},
		{clearedKey: "propelauth.api_key"},
	}
	for _, testCase := range cases {
		t.Run(testCase.clearedKey, func(t *testing.T) {
			v := completeViper()
			v.Set(testCase.clearedKey, "")
			_, err := Load(v)
			if err == nil {
				t.Fatalf("expected validation error for missing %s", testCase.clearedKey)
			}
			if !strings.Contains(err.Error(), testCase.clearedKey) {
				t.Fatalf("error %v must name the missing key", err)
			}
		})
	}
}

func TestLoadRejectsNonPositiveTimeout(t *testing.T) {
	v := completeViper()
	v.Set("upstream.timeout_seconds", 0)
	if _, err := Load(v); err == nil {
		t.Fatalf("expected validation error for zero timeout")
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	v := completeViper()
	v.Set("http.address", "127.0.0.1:9000")
	v.Set("calendar.max_events", 25)
	v.Set("upstream.timeout_seconds", 3)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTPAddress != "127.0.0.1:9000" || cfg.MaxCalendarEvents != 25 {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.UpstreamTimeout != 3*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.UpstreamTimeout)
	}
}
