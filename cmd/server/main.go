// Command server starts the ClipVault catalog HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"clipvault/internal/api"
	"clipvault/internal/auth"
	"clipvault/internal/media"
	"clipvault/internal/observability/logging"
	"clipvault/internal/observability/metrics"
	"clipvault/internal/server"
	"clipvault/internal/storage"
)

const (
	defaultDataPath        = "data/clipvault.json"
	defaultSessionTTL      = 24 * time.Hour
	defaultPurgeInterval   = 15 * time.Minute
	defaultShutdownTimeout = 10 * time.Second
)

func main() {
	addrFlag := flag.String("addr", "", "listen address (CLIPVAULT_ADDR)")
	modeFlag := flag.String("mode", "", "deployment mode: development or production (CLIPVAULT_MODE)")
	dataFlag := flag.String("data", "", "path to the JSON datastore file (CLIPVAULT_DATA_PATH)")
	storageDriverFlag := flag.String("storage-driver", "", "datastore driver: json or postgres (CLIPVAULT_STORAGE_DRIVER)")
	postgresDSNFlag := flag.String("postgres-dsn", "", "Postgres DSN (CLIPVAULT_POSTGRES_DSN, DATABASE_URL)")
	sessionStoreFlag := flag.String("session-store", "", "session store driver: memory or redis (CLIPVAULT_SESSION_STORE)")
	sessionTTLFlag := flag.Duration("session-ttl", 0, "session lifetime (CLIPVAULT_SESSION_TTL)")
	tlsCertFlag := flag.String("tls-cert", "", "TLS certificate file (CLIPVAULT_TLS_CERT_FILE)")
	tlsKeyFlag := flag.String("tls-key", "", "TLS private key file (CLIPVAULT_TLS_KEY_FILE)")
	corsOriginsFlag := flag.String("cors-allowed-origins", "", "comma-separated origins allowed to call the API (CLIPVAULT_CORS_ALLOWED_ORIGINS)")
	logLevelFlag := flag.String("log-level", "", "log level: debug, info, warn, error (CLIPVAULT_LOG_LEVEL)")
	logFormatFlag := flag.String("log-format", "", "log format: json or text (CLIPVAULT_LOG_FORMAT)")
	countViewsFlag := flag.Bool("count-views", false, "increment view counters on authenticated fetches (CLIPVAULT_COUNT_VIEWS)")
	lenientCleanupFlag := flag.Bool("lenient-thumbnail-cleanup", false, "tolerate failed removal of replaced thumbnails (CLIPVAULT_LENIENT_THUMBNAIL_CLEANUP)")
	stagingDirFlag := flag.String("upload-staging-dir", "", "directory for staging multipart uploads (CLIPVAULT_UPLOAD_STAGING_DIR)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevelFlag, os.Getenv("CLIPVAULT_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormatFlag, os.Getenv("CLIPVAULT_LOG_FORMAT")),
	})

	mode := modeValue(firstNonEmpty(*modeFlag, os.Getenv("CLIPVAULT_MODE")))
	addr := resolveListenAddr(*addrFlag, os.Getenv("CLIPVAULT_ADDR"), mode)

	postgresDSN := resolvePostgresDSN(*postgresDSNFlag)
	storageDriver, _, err := resolveStorageDriver(*storageDriverFlag, os.Getenv("CLIPVAULT_STORAGE_DRIVER"), postgresDSN)
	if err != nil {
		fatal(logger, "resolve storage driver", err)
	}
	if mode == "production" {
		if err := validateProductionDatastore(storageDriver, postgresDSN, os.Getenv("CLIPVAULT_POSTGRES_DSN")); err != nil {
			fatal(logger, "validate production datastore", err)
		}
	}

	dataPath := firstNonEmpty(*dataFlag, os.Getenv("CLIPVAULT_DATA_PATH"), defaultDataPath)

	var store storage.Repository
	switch storageDriver {
	case "postgres":
		pgCfg := storage.PostgresConfig{
			DSN:                 postgresDSN,
			MaxConnections:      int32(resolveInt("CLIPVAULT_POSTGRES_MAX_CONNS", 0)),
			MinConnections:      int32(resolveInt("CLIPVAULT_POSTGRES_MIN_CONNS", 0)),
			MaxConnLifetime:     resolveDuration("CLIPVAULT_POSTGRES_CONN_LIFETIME", 0),
			MaxConnIdleTime:     resolveDuration("CLIPVAULT_POSTGRES_CONN_IDLE_TIME", 0),
			HealthCheckInterval: resolveDuration("CLIPVAULT_POSTGRES_HEALTHCHECK_INTERVAL", 0),
			AcquireTimeout:      resolveDuration("CLIPVAULT_POSTGRES_ACQUIRE_TIMEOUT", 0),
			ApplicationName:     "clipvault",
		}
		connectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		repo, err := storage.NewPostgresRepository(connectCtx, pgCfg)
		cancel()
		if err != nil {
			fatal(logger, "connect postgres", err)
		}
		store = repo
	default:
		jsonStore, err := storage.NewStorage(dataPath)
		if err != nil {
			fatal(logger, "open datastore", err)
		}
		store = jsonStore
	}

	sessionCfg, err := resolveSessionStoreConfig(
		*sessionStoreFlag,
		os.Getenv("CLIPVAULT_SESSION_STORE"),
		os.Getenv("CLIPVAULT_SESSION_REDIS_ADDR"),
		mode == "production",
	)
	if err != nil {
		fatal(logger, "resolve session store", err)
	}

	sessionTTL := *sessionTTLFlag
	if sessionTTL <= 0 {
		sessionTTL = resolveDuration("CLIPVAULT_SESSION_TTL", defaultSessionTTL)
	}

	sessionOpts := []auth.SessionOption{}
	var sessionStoreCloser interface{ Close() error }
	if sessionCfg.Driver == "redis" {
		redisStore, err := auth.NewRedisSessionStore(auth.RedisSessionConfig{
			Addr:         sessionCfg.RedisAddr,
			Addrs:        splitAndTrim(os.Getenv("CLIPVAULT_SESSION_REDIS_ADDRS")),
			Username:     os.Getenv("CLIPVAULT_SESSION_REDIS_USERNAME"),
			Password:     os.Getenv("CLIPVAULT_SESSION_REDIS_PASSWORD"),
			KeyPrefix:    os.Getenv("CLIPVAULT_SESSION_REDIS_KEY_PREFIX"),
			DialTimeout:  resolveDuration("CLIPVAULT_SESSION_REDIS_DIAL_TIMEOUT", 0),
			ReadTimeout:  resolveDuration("CLIPVAULT_SESSION_REDIS_READ_TIMEOUT", 0),
			WriteTimeout: resolveDuration("CLIPVAULT_SESSION_REDIS_WRITE_TIMEOUT", 0),
			PoolSize:     resolveInt("CLIPVAULT_SESSION_REDIS_POOL_SIZE", 0),
			MasterName:   os.Getenv("CLIPVAULT_SESSION_REDIS_MASTER_NAME"),
			TLS: auth.RedisTLSConfig{
				CAFile:             os.Getenv("CLIPVAULT_SESSION_REDIS_TLS_CA_FILE"),
				CertFile:           os.Getenv("CLIPVAULT_SESSION_REDIS_TLS_CERT_FILE"),
				KeyFile:            os.Getenv("CLIPVAULT_SESSION_REDIS_TLS_KEY_FILE"),
				ServerName:         os.Getenv("CLIPVAULT_SESSION_REDIS_TLS_SERVER_NAME"),
				InsecureSkipVerify: resolveBool("CLIPVAULT_SESSION_REDIS_TLS_INSECURE_SKIP_VERIFY", false),
			},
		})
		if err != nil {
			fatal(logger, "connect session redis", err)
		}
		sessionOpts = append(sessionOpts, auth.WithStore(redisStore))
		sessionStoreCloser = redisStore
	}
	sessions := auth.NewSessionManager(sessionTTL, sessionOpts...)

	mediaCfg := media.Config{
		Endpoint:       os.Getenv("CLIPVAULT_MEDIA_ENDPOINT"),
		PublicEndpoint: os.Getenv("CLIPVAULT_MEDIA_PUBLIC_ENDPOINT"),
		Bucket:         os.Getenv("CLIPVAULT_MEDIA_BUCKET"),
		Region:         os.Getenv("CLIPVAULT_MEDIA_REGION"),
		AccessKey:      os.Getenv("CLIPVAULT_MEDIA_ACCESS_KEY"),
		SecretKey:      os.Getenv("CLIPVAULT_MEDIA_SECRET_KEY"),
		Prefix:         os.Getenv("CLIPVAULT_MEDIA_PREFIX"),
		UseSSL:         resolveBool("CLIPVAULT_MEDIA_USE_SSL", true),
		RequestTimeout: resolveDuration("CLIPVAULT_MEDIA_TIMEOUT", 0),
	}
	mediaStore := media.NewStore(mediaCfg)
	if !mediaStore.Enabled() {
		logger.Warn("object storage disabled; uploaded assets will not be persisted remotely")
	}

	rateLimit := server.RateLimitConfig{
		GlobalRPS:     resolveFloat("CLIPVAULT_GLOBAL_RPS", 0),
		GlobalBurst:   resolveInt("CLIPVAULT_GLOBAL_BURST", 0),
		LoginLimit:    resolveInt("CLIPVAULT_LOGIN_LIMIT", 10),
		LoginWindow:   resolveDuration("CLIPVAULT_LOGIN_WINDOW", time.Minute),
		RedisAddr:     os.Getenv("CLIPVAULT_LOGIN_REDIS_ADDR"),
		RedisPassword: os.Getenv("CLIPVAULT_LOGIN_REDIS_PASSWORD"),
		RedisTimeout:  resolveDuration("CLIPVAULT_LOGIN_REDIS_TIMEOUT", 0),
	}

	recorder := metrics.Default()

	handler := api.NewHandler(store, sessions)
	handler.Media = mediaStore
	handler.Logger = logging.WithComponent(logger, "api")
	handler.Metrics = recorder
	handler.SessionCookiePolicy = api.SessionCookiePolicy{
		SameSite:   http.SameSiteStrictMode,
		SecureMode: resolveSessionCookieSecureMode(mode),
	}
	handler.CountViews = *countViewsFlag || resolveBool("CLIPVAULT_COUNT_VIEWS", false)
	handler.LenientThumbnailCleanup = *lenientCleanupFlag || resolveBool("CLIPVAULT_LENIENT_THUMBNAIL_CLEANUP", false)
	handler.UploadStagingDir = firstNonEmpty(*stagingDirFlag, os.Getenv("CLIPVAULT_UPLOAD_STAGING_DIR"))
	handler.MaxUploadBytes = resolveInt64("CLIPVAULT_MAX_UPLOAD_BYTES", 0)

	srv, err := server.New(handler, server.Config{
		Addr: addr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCertFlag, os.Getenv("CLIPVAULT_TLS_CERT_FILE")),
			KeyFile:  firstNonEmpty(*tlsKeyFlag, os.Getenv("CLIPVAULT_TLS_KEY_FILE")),
		},
		RateLimit:   rateLimit,
		CORS:        server.CORSConfig{AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOriginsFlag, os.Getenv("CLIPVAULT_CORS_ALLOWED_ORIGINS")))},
		Logger:      logging.WithComponent(logger, "http"),
		AuditLogger: logging.WithComponent(logger, "audit"),
		Metrics:     recorder,
	})
	if err != nil {
		fatal(logger, "configure server", err)
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	stopPurge := startSessionPurgeWorker(workerCtx, logger, sessions, resolveDuration("CLIPVAULT_SESSION_PURGE_INTERVAL", defaultPurgeInterval))
	defer stopPurge()

	summary := newStartupSummary(startupSummaryInput{
		Addr:          addr,
		Mode:          mode,
		StorageDriver: storageDriver,
		StoragePath:   dataPath,
		StorageDSN:    postgresDSN,
		SessionConfig: sessionCfg,
		RateLimit:     rateLimit,
		MediaEnabled:  mediaStore.Enabled(),
		MediaBucket:   mediaCfg.Bucket,
		CountViews:    handler.CountViews,
	})
	logger.Info("starting clipvault", summary.LogArgs()...)

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server stopped", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	stopPurge()
	if sessionStoreCloser != nil {
		if err := sessionStoreCloser.Close(); err != nil {
			logger.Error("failed to close session store", "error", err)
		}
	}
	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
		if err := closer.Close(closeCtx); err != nil {
			logger.Error("failed to close datastore", "error", err)
		}
		cancelClose()
	}
	logger.Info("shutdown complete")
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func resolveInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func resolveInt64(name string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

func resolveFloat(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func resolveDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}

func resolveBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func modeValue(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	default:
		return "development"
	}
}

func resolveListenAddr(flagValue, envValue, mode string) string {
	if addr := firstNonEmpty(flagValue, envValue); addr != "" {
		return addr
	}
	return defaultListenForMode(mode)
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":8080"
	}
	return "127.0.0.1:8080"
}

// resolveStorageDriver decides between the JSON file store and Postgres. An
// explicit driver always wins; otherwise a configured DSN selects Postgres.
func resolveStorageDriver(flagValue, envValue, postgresDSN string) (driver string, explicit bool, err error) {
	raw := strings.ToLower(firstNonEmpty(flagValue, envValue))
	switch raw {
	case "json":
		return "json", true, nil
	case "postgres":
		if strings.TrimSpace(postgresDSN) == "" {
			return "", true, errors.New("storage driver postgres requires a DSN (CLIPVAULT_POSTGRES_DSN)")
		}
		return "postgres", true, nil
	case "":
		if strings.TrimSpace(postgresDSN) != "" {
			return "postgres", false, nil
		}
		return "json", false, nil
	default:
		return "", false, fmt.Errorf("unknown storage driver %q", raw)
	}
}

// validateProductionDatastore rejects configurations that would lose data on
// restart when running in production mode.
func validateProductionDatastore(driver, resolvedDSN, envDSN string) error {
	if driver != "postgres" {
		return fmt.Errorf("production mode requires the postgres storage driver, got %q", driver)
	}
	if strings.TrimSpace(envDSN) == "" {
		return errors.New("production mode requires CLIPVAULT_POSTGRES_DSN to be set")
	}
	if strings.TrimSpace(resolvedDSN) == "" {
		return errors.New("production mode resolved an empty Postgres DSN")
	}
	return nil
}

func resolvePostgresDSN(flagValue string) string {
	return firstNonEmpty(flagValue, os.Getenv("CLIPVAULT_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
}

type sessionStoreConfig struct {
	Driver    string
	RedisAddr string
}

// resolveSessionStoreConfig picks the session backend. Redis is selected when
// asked for explicitly or when an address is configured; production refuses
// the in-memory store because sessions would neither survive a restart nor be
// shared across replicas.
func resolveSessionStoreConfig(flagDriver, envDriver, redisAddr string, requireShared bool) (sessionStoreConfig, error) {
	driver := strings.ToLower(firstNonEmpty(flagDriver, envDriver))
	addr := strings.TrimSpace(redisAddr)
	switch driver {
	case "redis":
		if addr == "" {
			return sessionStoreConfig{}, errors.New("session store redis requires CLIPVAULT_SESSION_REDIS_ADDR")
		}
	case "memory":
		if requireShared {
			return sessionStoreConfig{}, errors.New("production mode requires the redis session store")
		}
		return sessionStoreConfig{Driver: "memory"}, nil
	case "":
		if addr == "" {
			if requireShared {
				return sessionStoreConfig{}, errors.New("production mode requires the redis session store")
			}
			return sessionStoreConfig{Driver: "memory"}, nil
		}
	default:
		return sessionStoreConfig{}, fmt.Errorf("unknown session store driver %q", driver)
	}
	return sessionStoreConfig{Driver: "redis", RedisAddr: addr}, nil
}

func resolveSessionCookieSecureMode(mode string) api.SessionCookieSecureMode {
	if modeValue(mode) == "production" {
		return api.SessionCookieSecureAlways
	}
	return api.SessionCookieSecureAuto
}

type startupSummaryInput struct {
	Addr          string
	Mode          string
	StorageDriver string
	StoragePath   string
	StorageDSN    string
	SessionConfig sessionStoreConfig
	RateLimit     server.RateLimitConfig
	MediaEnabled  bool
	MediaBucket   string
	CountViews    bool
}

type startupSummary struct {
	input startupSummaryInput
}

func newStartupSummary(input startupSummaryInput) startupSummary {
	return startupSummary{input: input}
}

// LogArgs renders the summary as slog key/value pairs with credentials
// stripped from any DSN.
func (s startupSummary) LogArgs() []any {
	datastore := map[string]any{"driver": s.input.StorageDriver}
	if s.input.StorageDriver == "postgres" {
		datastore["dsn"] = redactDSN(s.input.StorageDSN)
	} else {
		datastore["path"] = s.input.StoragePath
	}

	sessionStore := map[string]any{"driver": s.input.SessionConfig.Driver}
	if s.input.SessionConfig.Driver == "redis" {
		sessionStore["addr"] = s.input.SessionConfig.RedisAddr
	}

	loginThrottle := map[string]any{"driver": "memory"}
	if strings.TrimSpace(s.input.RateLimit.RedisAddr) != "" {
		loginThrottle["driver"] = "redis"
		loginThrottle["addr"] = s.input.RateLimit.RedisAddr
	}
	loginThrottle["limit"] = s.input.RateLimit.LoginLimit
	loginThrottle["window"] = s.input.RateLimit.LoginWindow.String()

	mediaSummary := map[string]any{"enabled": s.input.MediaEnabled}
	if s.input.MediaEnabled {
		mediaSummary["bucket"] = s.input.MediaBucket
	}

	return []any{
		"addr", s.input.Addr,
		"mode", s.input.Mode,
		"datastore", datastore,
		"session_store", sessionStore,
		"login_throttle", loginThrottle,
		"media", mediaSummary,
		"count_views", s.input.CountViews,
	}
}

// redactDSN replaces any password in a URL-style DSN with asterisks so the
// startup log never leaks credentials.
func redactDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return ""
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.User == nil {
		return trimmed
	}
	if _, hasPassword := parsed.User.Password(); hasPassword {
		parsed.User = url.UserPassword(parsed.User.Username(), "*****")
	}
	return parsed.String()
}
