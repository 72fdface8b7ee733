package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/admins"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/appversion"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/artifacts"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/audit"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/auth"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/config"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/database"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/documents"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/logging"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/metrics"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/server"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cineflow-admin",
		Short: "CineFlow admin back-office service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newMintTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("public-base-url", defaults.GetString("http.public_base_url"), "Public base URL used in download links")
	cmd.PersistentFlags().String("static-dir", defaults.GetString("http.static_dir"), "Directory holding the admin UI")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("auth-mode", defaults.GetString("auth.mode"), "Credential verification mode (firebase, session)")
	cmd.PersistentFlags().String("firebase-project-id", defaults.GetString("firebase.project_id"), "Firebase project ID")
	cmd.PersistentFlags().String("firebase-credentials-file", defaults.GetString("firebase.credentials_file"), "Service account JSON used to list users")
	cmd.PersistentFlags().String("session-signing-secret", "", "Session token signing secret (overrides env)")
	cmd.PersistentFlags().String("admin-emails", defaults.GetString("admins.emails"), "Comma separated seed administrator emails")
	cmd.PersistentFlags().String("admin-reload-schedule", defaults.GetString("admins.reload_schedule"), "Cron schedule for re-reading the allow-list")
	cmd.PersistentFlags().String("storage-backend", defaults.GetString("storage.backend"), "Artifact storage backend (filesystem, s3)")
	cmd.PersistentFlags().String("uploads-dir", defaults.GetString("storage.uploads_dir"), "Directory for the filesystem artifact backend")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-encoding", defaults.GetString("log.encoding"), "Log encoding (json, console)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.public_base_url", "public-base-url")
	bindFlag(cmd, "http.static_dir", "static-dir")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.mode", "auth-mode")
	bindFlag(cmd, "firebase.project_id", "firebase-project-id")
	bindFlag(cmd, "firebase.credentials_file", "firebase-credentials-file")
	bindFlag(cmd, "session.signing_secret", "session-signing-secret")
	bindFlag(cmd, "admins.emails", "admin-emails")
	bindFlag(cmd, "admins.reload_schedule", "admin-reload-schedule")
	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "storage.uploads_dir", "uploads-dir")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.encoding", "log-encoding")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metrics.New()

	documentStore, err := documents.NewStore(documents.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	recorder, err := audit.NewRecorder(audit.RecorderConfig{
		Database: db,
		Logger:   logger,
		Failures: registry.AuditFailures,
	})
	if err != nil {
		return err
	}

	adminStore, err := admins.NewStore(admins.StoreConfig{
		Documents:  documentStore,
		SeedEmails: appConfig.AdminEmails,
		MasterKey:  appConfig.AdminMasterKey,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if err := adminStore.Reload(signalCtx); err != nil {
		return err
	}
	if adminStore.UsesFallbackMasterKey() {
		logger.Warn("admins.master_key is not set; the built-in development key is accepted")
	}
	reloader, err := admins.NewReloader(admins.ReloaderConfig{
		Store:    adminStore,
		Schedule: appConfig.AdminReloadSchedule,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if reloader != nil {
		go reloader.Run(signalCtx)
	}

	verifier, directory, err := buildIdentity(signalCtx, appConfig, db, logger)
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database:  db,
		Directory: directory,
		Audit:     recorder,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	versionService, err := appversion.NewService(appversion.ServiceConfig{
		Documents: documentStore,
		Audit:     recorder,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	backend, err := buildBackend(signalCtx, appConfig)
	if err != nil {
		return err
	}
	artifactService, err := artifacts.NewService(artifacts.ServiceConfig{
		Backend:         backend,
		AppVersion:      versionService,
		Audit:           recorder,
		MaxAPKBytes:     appConfig.MaxAPKBytes,
		MaxContentBytes: appConfig.MaxContentBytes,
		UploadedBytes:   registry.UploadedBytes,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Verifier:      verifier,
		Admins:        adminStore,
		Users:         userService,
		AppVersion:    versionService,
		Artifacts:     artifactService,
		Metrics:       registry,
		Health:        sqlDB.PingContext,
		PublicBaseURL: appConfig.PublicBaseURL,
		StaticDir:     appConfig.StaticDir,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("auth_mode", appConfig.AuthMode),
			zap.String("storage_backend", appConfig.StorageBackend))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildIdentity selects the credential verifier and the user directory for
// the configured auth mode.
func buildIdentity(ctx context.Context, appConfig config.AppConfig, db *gorm.DB, logger *zap.Logger) (auth.Verifier, users.Directory, error) {
	if appConfig.AuthMode == config.AuthModeSession {
		verifier, err := auth.NewSessionVerifier(auth.SessionVerifierConfig{
			SigningSecret: []byte(appConfig.SessionSigningSecret),
			Issuer:        appConfig.SessionIssuer,
		})
		if err != nil {
			return nil, nil, err
		}
		directory, err := users.NewDatabaseDirectory(users.DatabaseDirectoryConfig{Database: db})
		if err != nil {
			return nil, nil, err
		}
		return verifier, directory, nil
	}

	verifier, err := auth.NewFirebaseVerifier(auth.FirebaseVerifierConfig{
		ProjectID: appConfig.FirebaseProjectID,
		JWKSURL:   appConfig.FirebaseJWKSURL,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, err
	}
	client, err := users.NewServiceAccountClient(ctx, appConfig.FirebaseCredentialsFile)
	if err != nil {
		return nil, nil, err
	}
	directory, err := users.NewFirebaseDirectory(users.FirebaseDirectoryConfig{
		ProjectID:  appConfig.FirebaseProjectID,
		BaseURL:    appConfig.FirebaseIdentityToolkitURL,
		HTTPClient: client,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return verifier, directory, nil
}

func buildBackend(ctx context.Context, appConfig config.AppConfig) (artifacts.Backend, error) {
	if appConfig.StorageBackend == config.StorageBackendS3 {
		return artifacts.NewS3Backend(ctx, artifacts.S3BackendConfig{
			Bucket:       appConfig.S3.Bucket,
			Region:       appConfig.S3.Region,
			Endpoint:     appConfig.S3.Endpoint,
			AccessKey:    appConfig.S3.AccessKey,
			SecretKey:    appConfig.S3.SecretKey,
			UsePathStyle: appConfig.S3.UsePathStyle,
			Prefix:       appConfig.S3.Prefix,
		})
	}
	return artifacts.NewFilesystemBackend(appConfig.UploadsDir)
}

func newMintTokenCommand() *cobra.Command {
	var (
		email   string
		subject string
		name    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mint-token",
		Short: "Register a local user and print a session bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if appConfig.AuthMode != config.AuthModeSession {
				return fmt.Errorf("mint-token requires auth.mode %q", config.AuthModeSession)
			}
			db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, nil)
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			directory, err := users.NewDatabaseDirectory(users.DatabaseDirectoryConfig{Database: db})
			if err != nil {
				return err
			}
			registered, err := directory.Register(cmd.Context(), users.ProviderUser{UID: subject, Email: email, DisplayName: name})
			if err != nil {
				return err
			}

			tokenTTL := ttl
			if tokenTTL <= 0 {
				tokenTTL = time.Duration(appConfig.SessionTTLMinutes) * time.Minute
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SessionSigningSecret),
				Issuer:        appConfig.SessionIssuer,
				TokenTTL:      tokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(auth.Identity{Subject: registered.UID, Email: registered.Email}, registered.DisplayName)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address carried by the token")
	cmd.Flags().StringVar(&subject, "subject", "", "Stable user id (uid)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to session.ttl_minutes)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
