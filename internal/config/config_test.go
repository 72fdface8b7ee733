package config

import (
	"strings"
	"testing"
)

func TestLoadSessionModeDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.mode", AuthModeSession)
	configViper.Set("session.signing_secret", "local-secret")
	configViper.Set("admins.emails", " root@example.com, ,ops@example.com ")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.StorageBackend != StorageBackendFilesystem || cfg.UploadsDir != defaultUploadsDir {
		t.Fatalf("unexpected storage defaults: %s %s", cfg.StorageBackend, cfg.UploadsDir)
	}
	if cfg.MaxAPKBytes != 300*1024*1024 {
		t.Fatalf("unexpected apk limit %d", cfg.MaxAPKBytes)
	}
	if len(cfg.AdminEmails) != 2 || cfg.AdminEmails[0] != "root@example.com" || cfg.AdminEmails[1] != "ops@example.com" {
		t.Fatalf("unexpected admin emails %#v", cfg.AdminEmails)
	}
	if cfg.AdminMasterKey != "" {
		t.Fatalf("expected no operator secret by default, got %q", cfg.AdminMasterKey)
	}
}

func TestLoadAcceptsAdminEmailList(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.mode", AuthModeSession)
	configViper.Set("session.signing_secret", "local-secret")
	configViper.Set("admins.emails", []string{"a@example.com", "b@example.com"})
	configViper.Set("admins.master_key", "operator-secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if len(cfg.AdminEmails) != 2 {
		t.Fatalf("unexpected admin emails %#v", cfg.AdminEmails)
	}
	if cfg.AdminMasterKey != "operator-secret" {
		t.Fatalf("unexpected master key %q", cfg.AdminMasterKey)
	}
}

func TestLoadValidationFailures(t *testing.T) {
	testCases := []struct {
		name    string
		values  map[string]any
		wantKey string
	}{
		{
			name:    "firebase-project",
			values:  map[string]any{"auth.mode": AuthModeFirebase},
			wantKey: "firebase.project_id",
		},
		{
			name:    "session-secret",
			values:  map[string]any{"auth.mode": AuthModeSession},
			wantKey: "session.signing_secret",
		},
		{
			name:    "unknown-mode",
			values:  map[string]any{"auth.mode": "ldap"},
			wantKey: "auth.mode",
		},
		{
			name: "s3-bucket",
			values: map[string]any{
				"auth.mode":              AuthModeSession,
				"session.signing_secret": "secret",
				"storage.backend":        StorageBackendS3,
			},
			wantKey: "storage.s3.bucket",
		},
		{
			name: "database-driver",
			values: map[string]any{
				"auth.mode":              AuthModeSession,
				"session.signing_secret": "secret",
				"database.driver":        "mysql",
			},
			wantKey: "database.driver",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range testCase.values {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), testCase.wantKey) {
				t.Fatalf("expected error to mention %s, got %v", testCase.wantKey, err)
			}
		})
	}
}
