package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix = "CINEFLOW"

	AuthModeFirebase = "firebase"
	AuthModeSession  = "session"

	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"

	StorageBackendFilesystem = "filesystem"
	StorageBackendS3         = "s3"

	defaultHTTPAddress        = "0.0.0.0:3000"
	defaultDatabaseDSN        = "cineflow-admin.db"
	defaultLogLevel           = "info"
	defaultLogEncoding        = "json"
	defaultFirebaseJWKSURL    = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
	defaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com"
	defaultSessionIssuer      = "cineflow-admin"
	defaultSessionTTLMinutes  = 60
	defaultUploadsDir         = "uploads"
	defaultMaxAPKBytes        = 300 * 1024 * 1024
	defaultMaxContentBytes    = 50 * 1024 * 1024
	defaultS3Region           = "us-east-1"
)

// AppConfig captures runtime configuration for the admin server.
type AppConfig struct {
	HTTPAddress   string
	PublicBaseURL string
	StaticDir     string

	LogLevel    string
	LogEncoding string

	DatabaseDriver string
	DatabaseDSN    string

	AuthMode string

	FirebaseProjectID          string
	FirebaseJWKSURL            string
	FirebaseCredentialsFile    string
	FirebaseIdentityToolkitURL string

	SessionSigningSecret string
	SessionIssuer        string
	SessionTTLMinutes    int

	AdminEmails         []string
	AdminMasterKey      string
	AdminReloadSchedule string

	StorageBackend string
	UploadsDir     string
	S3             S3Config

	MaxAPKBytes     int64
	MaxContentBytes int64
}

// S3Config describes the optional S3-compatible artifact bucket.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Prefix       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.public_base_url", "")
	configViper.SetDefault("http.static_dir", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
	configViper.SetDefault("database.driver", DatabaseDriverSQLite)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("auth.mode", AuthModeFirebase)
	configViper.SetDefault("firebase.project_id", "")
	configViper.SetDefault("firebase.jwks_url", defaultFirebaseJWKSURL)
	configViper.SetDefault("firebase.credentials_file", "")
	configViper.SetDefault("firebase.identity_toolkit_url", defaultIdentityToolkitURL)
	configViper.SetDefault("session.signing_secret", "")
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.ttl_minutes", defaultSessionTTLMinutes)
	configViper.SetDefault("admins.emails", "")
	configViper.SetDefault("admins.master_key", "")
	configViper.SetDefault("admins.reload_schedule", "")
	configViper.SetDefault("storage.backend", StorageBackendFilesystem)
	configViper.SetDefault("storage.uploads_dir", defaultUploadsDir)
	configViper.SetDefault("storage.s3.bucket", "")
	configViper.SetDefault("storage.s3.region", defaultS3Region)
	configViper.SetDefault("storage.s3.endpoint", "")
	configViper.SetDefault("storage.s3.access_key", "")
	configViper.SetDefault("storage.s3.secret_key", "")
	configViper.SetDefault("storage.s3.use_path_style", false)
	configViper.SetDefault("storage.s3.prefix", "")
	configViper.SetDefault("uploads.max_apk_bytes", defaultMaxAPKBytes)
	configViper.SetDefault("uploads.max_content_bytes", defaultMaxContentBytes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:                configViper.GetString("http.address"),
		PublicBaseURL:              strings.TrimRight(strings.TrimSpace(configViper.GetString("http.public_base_url")), "/"),
		StaticDir:                  strings.TrimSpace(configViper.GetString("http.static_dir")),
		LogLevel:                   configViper.GetString("log.level"),
		LogEncoding:                configViper.GetString("log.encoding"),
		DatabaseDriver:             strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:                configViper.GetString("database.dsn"),
		AuthMode:                   strings.ToLower(strings.TrimSpace(configViper.GetString("auth.mode"))),
		FirebaseProjectID:          strings.TrimSpace(configViper.GetString("firebase.project_id")),
		FirebaseJWKSURL:            strings.TrimSpace(configViper.GetString("firebase.jwks_url")),
		FirebaseCredentialsFile:    strings.TrimSpace(configViper.GetString("firebase.credentials_file")),
		FirebaseIdentityToolkitURL: strings.TrimSpace(configViper.GetString("firebase.identity_toolkit_url")),
		SessionSigningSecret:       configViper.GetString("session.signing_secret"),
		SessionIssuer:              strings.TrimSpace(configViper.GetString("session.issuer")),
		SessionTTLMinutes:          configViper.GetInt("session.ttl_minutes"),
		AdminEmails:                stringList(configViper, "admins.emails"),
		AdminMasterKey:             configViper.GetString("admins.master_key"),
		AdminReloadSchedule:        strings.TrimSpace(configViper.GetString("admins.reload_schedule")),
		StorageBackend:             strings.ToLower(strings.TrimSpace(configViper.GetString("storage.backend"))),
		UploadsDir:                 strings.TrimSpace(configViper.GetString("storage.uploads_dir")),
		S3: S3Config{
			Bucket:       strings.TrimSpace(configViper.GetString("storage.s3.bucket")),
			Region:       strings.TrimSpace(configViper.GetString("storage.s3.region")),
			Endpoint:     strings.TrimSpace(configViper.GetString("storage.s3.endpoint")),
			AccessKey:    configViper.GetString("storage.s3.access_key"),
			SecretKey:    configViper.GetString("storage.s3.secret_key"),
			UsePathStyle: configViper.GetBool("storage.s3.use_path_style"),
			Prefix:       strings.Trim(strings.TrimSpace(configViper.GetString("storage.s3.prefix")), "/"),
		},
		MaxAPKBytes:     configViper.GetInt64("uploads.max_apk_bytes"),
		MaxContentBytes: configViper.GetInt64("uploads.max_content_bytes"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite, DatabaseDriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q", DatabaseDriverSQLite, DatabaseDriverPostgres)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.AuthMode {
	case AuthModeFirebase:
		if c.FirebaseProjectID == "" {
			return fmt.Errorf("firebase.project_id is required")
		}
		if c.FirebaseJWKSURL == "" {
			return fmt.Errorf("firebase.jwks_url is required")
		}
	case AuthModeSession:
		if strings.TrimSpace(c.SessionSigningSecret) == "" {
			return fmt.Errorf("session.signing_secret is required")
		}
		if c.SessionIssuer == "" {
			return fmt.Errorf("session.issuer is required")
		}
	default:
		return fmt.Errorf("auth.mode must be %q or %q", AuthModeFirebase, AuthModeSession)
	}
	switch c.StorageBackend {
	case StorageBackendFilesystem:
		if c.UploadsDir == "" {
			return fmt.Errorf("storage.uploads_dir is required")
		}
	case StorageBackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q", StorageBackendFilesystem, StorageBackendS3)
	}
	if c.MaxAPKBytes <= 0 {
		return fmt.Errorf("uploads.max_apk_bytes must be positive")
	}
	if c.MaxContentBytes <= 0 {
		return fmt.Errorf("uploads.max_content_bytes must be positive")
	}
	return nil
}

// stringList accepts either a comma separated string (env, flags) or a list (config file).
func stringList(configViper *viper.Viper, key string) []string {
	var raw []string
	if value, ok := configViper.Get(key).(string); ok {
		raw = strings.Split(value, ",")
	} else {
		raw = configViper.GetStringSlice(key)
	}
	values := make([]string, 0, len(raw))
	for _, entry := range raw {
		if trimmed := strings.TrimSpace(entry); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
