package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/waldoclick/waldo-project-sub000/internal/docgen"
	"github.com/waldoclick/waldo-project-sub000/internal/gateway/webpay"
	"github.com/waldoclick/waldo-project-sub000/internal/httpapi"
	"github.com/waldoclick/waldo-project-sub000/internal/notify"
	"github.com/waldoclick/waldo-project-sub000/internal/scheduler"
	"github.com/waldoclick/waldo-project-sub000/internal/store/gormstore"
	"github.com/waldoclick/waldo-project-sub000/internal/store/pgstore"
	"github.com/waldoclick/waldo-project-sub000/pkg/ads"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL       = "database-url"
	flagListenAddr        = "listen-addr"
	flagAllowedOrigins    = "allowed-origins"
	flagSessionSigningKey = "session-signing-key"
	flagReturnURL         = "return-url"

	configKeyDatabaseURL       = "database_url"
	configKeyListenAddr        = "listen_addr"
	configKeyAllowedOrigins    = "allowed_origins"
	configKeySessionSigningKey = "session_signing_key"
	configKeyReturnURL         = "return_url"

	defaultDatabaseURL = "sqlite:///tmp/waldo.db"
	defaultListenAddr  = ":9090"

	schedulerInterval = time.Minute
)

type runtimeConfig struct {
	DatabaseURL       string
	ListenAddr        string
	AllowedOrigins    string
	SessionSigningKey string
	ReturnURL         string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "waldod: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "waldod",
		Short:         "Classified ads and payment orchestration server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL connection string or sqlite path")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated CORS origins")
	cmd.Flags().String(flagSessionSigningKey, "", "JWT session signing key")
	cmd.Flags().String(flagReturnURL, "", "payment return URL handed to the gateway")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:       "DATABASE_URL",
		configKeyListenAddr:        "HTTP_LISTEN_ADDR",
		configKeyAllowedOrigins:    "ALLOWED_ORIGINS",
		configKeySessionSigningKey: "SESSION_SIGNING_KEY",
		configKeyReturnURL:         "PAYMENT_RETURN_URL",
	}
	for configKey, envName := range bindings {
		if err := viper.BindEnv(configKey, envName); err != nil {
			return err
		}
	}
	flags := map[string]string{
		configKeyDatabaseURL:       flagDatabaseURL,
		configKeyListenAddr:        flagListenAddr,
		configKeyAllowedOrigins:    flagAllowedOrigins,
		configKeySessionSigningKey: flagSessionSigningKey,
		configKeyReturnURL:         flagReturnURL,
	}
	for configKey, flagName := range flags {
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.SessionSigningKey = viper.GetString(configKeySessionSigningKey)
	cfg.ReturnURL = viper.GetString(configKeyReturnURL)

	if cfg.SessionSigningKey == "" {
		return fmt.Errorf("session signing key is required")
	}
	if cfg.ReturnURL == "" {
		return fmt.Errorf("payment return url is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	service, err := buildService(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("ads service init: %w", err)
	}

	server, err := httpapi.New(httpapi.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    httpapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		SessionSigningKey: cfg.SessionSigningKey,
		SessionIssuer:     viper.GetString("session_issuer"),
		SessionCookieName: viper.GetString("session_cookie_name"),
		AdminRole:         viper.GetString("admin_role"),
	}, service, logger)
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}

	daily := scheduler.New(service, logger, schedulerInterval)
	go func() {
		if schedulerErr := daily.Run(ctx); schedulerErr != nil && ctx.Err() == nil {
			logger.Error("scheduler stopped", zap.Error(schedulerErr))
		}
	}()

	return server.Run(ctx)
}

func buildService(cfg *runtimeConfig, store ads.Store, logger *zap.Logger) (*ads.Service, error) {
	options := []ads.ServiceOption{
		ads.WithOperationLogger(&zapOperationLogger{logger: logger}),
	}

	if webpayBaseURL := viper.GetString("webpay_base_url"); webpayBaseURL != "" {
		options = append(options, ads.WithPaymentGateway(webpay.New(webpay.Config{
			BaseURL:      webpayBaseURL,
			CommerceCode: viper.GetString("webpay_commerce_code"),
			APIKey:       viper.GetString("webpay_api_key"),
		})))
	}
	if docgenBaseURL := viper.GetString("docgen_base_url"); docgenBaseURL != "" {
		options = append(options, ads.WithDocumentGenerator(docgen.New(docgen.Config{
			BaseURL:  docgenBaseURL,
			APIToken: viper.GetString("docgen_api_token"),
		})))
	}
	options = append(options, ads.WithNotifier(buildNotifier(logger)))

	clock := func() int64 { return time.Now().UTC().Unix() }
	return ads.NewService(store, clock, ads.Config{
		FeaturedPriceCents:  viper.GetInt64("featured_price_cents"),
		FreeQuota:           viper.GetInt("free_quota"),
		DefaultDurationDays: viper.GetInt("default_duration_days"),
		ReturnURL:           cfg.ReturnURL,
		AdminEmail:          viper.GetString("admin_email"),
	}, options...)
}

func buildNotifier(logger *zap.Logger) ads.Notifier {
	smtpNotifier, err := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     viper.GetString("smtp_host"),
		Port:     viper.GetString("smtp_port"),
		Username: viper.GetString("smtp_username"),
		Password: viper.GetString("smtp_password"),
		FromAddr: viper.GetString("smtp_from_addr"),
		FromName: viper.GetString("smtp_from_name"),
	})
	if err != nil {
		logger.Info("smtp relay not configured, logging notifications instead")
		return notify.NewLogNotifier(logger)
	}
	return smtpNotifier
}

type zapOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger *zapOperationLogger) LogOperation(ctx context.Context, entry ads.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.UserID != "" {
		fields = append(fields, zap.String("user_id", entry.UserID))
	}
	if entry.AdID != "" {
		fields = append(fields, zap.String("ad_id", entry.AdID))
	}
	if entry.CreditID != "" {
		fields = append(fields, zap.String("credit_id", entry.CreditID))
	}
	if entry.BuyOrder != "" {
		fields = append(fields, zap.String("buy_order", entry.BuyOrder))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("operation failed", fields...)
		return
	}
	operationLogger.logger.Info("operation completed", fields...)
}

// openStore picks the backend from the DSN scheme. PostgreSQL runs through
// gorm by default, or through the raw pgx store when DATABASE_BACKEND=pgx.
// Schema migration only runs on sqlite; the PostgreSQL schema is managed
// out of band.
func openStore(ctx context.Context, dsn string) (ads.Store, func(), error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	if driver == "postgres" {
		if viper.GetString("database_backend") == "pgx" {
			pool, err := pgxpool.New(ctx, dsn)
			if err != nil {
				return nil, nil, err
			}
			if err := pool.Ping(ctx); err != nil {
				pool.Close()
				return nil, nil, err
			}
			return pgstore.New(pool), pool.Close, nil
		}
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return gormstore.New(db.WithContext(ctx)), func() { _ = sqlDB.Close() }, nil
	}

	db, err := gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return nil, nil, fmt.Errorf("auto migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = sqlDB.Close() }
	return gormstore.New(db.WithContext(ctx)), cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "waldo.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

