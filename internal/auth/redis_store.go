package auth

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisSessionConfig configures the Redis-backed session store.
type RedisSessionConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MasterName   string
	TLS          RedisTLSConfig
}

const defaultSessionKeyPrefix = "clipvault:session:"

// RedisSessionStore persists sessions in Redis so multiple replicas share
// login state. Tokens are hashed before use as keys, and every key carries a
// TTL at the session's absolute expiry, so PurgeExpired has nothing to do.
type RedisSessionStore struct {
	client    redis.UniversalClient
	keyPrefix string
	opTimeout time.Duration
}

type redisSessionRecord struct {
	UserID            string    `json:"userId"`
	ExpiresAt         time.Time `json:"expiresAt"`
	AbsoluteExpiresAt time.Time `json:"absoluteExpiresAt"`
}

// NewRedisSessionStore connects to Redis and verifies connectivity before
// returning.
func NewRedisSessionStore(cfg RedisSessionConfig) (*RedisSessionStore, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, errors.New("redis addr is required")
	}
	keyPrefix := strings.TrimSpace(cfg.KeyPrefix)
	if keyPrefix == "" {
		keyPrefix = defaultSessionKeyPrefix
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	store := &RedisSessionStore{
		client:    client,
		keyPrefix: keyPrefix,
		opTimeout: 5 * time.Second,
	}
	ctx, cancel := store.opContext()
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return store, nil
}

func (s *RedisSessionStore) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

// sessionKey derives the Redis key for a token. Tokens never reach Redis in
// the clear; the key carries their SHA-256 digest instead.
func (s *RedisSessionStore) sessionKey(token string) (string, error) {
	if token == "" {
		return "", errors.New("session token required")
	}
	digest := sha256.Sum256([]byte(token))
	return s.keyPrefix + hex.EncodeToString(digest[:]), nil
}

// Save writes the session record with a TTL at the absolute expiry.
func (s *RedisSessionStore) Save(token, userID string, expiresAt, absoluteExpiresAt time.Time) error {
	key, err := s.sessionKey(token)
	if err != nil {
		return err
	}
	if absoluteExpiresAt.IsZero() {
		absoluteExpiresAt = expiresAt
	}
	payload, err := json.Marshal(redisSessionRecord{
		UserID:            userID,
		ExpiresAt:         expiresAt.UTC(),
		AbsoluteExpiresAt: absoluteExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	ttl := time.Until(absoluteExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	ctx, cancel := s.opContext()
	defer cancel()
	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Get(token string) (SessionRecord, bool, error) {
	key, err := s.sessionKey(token)
	if err != nil {
		return SessionRecord{}, false, err
	}
	ctx, cancel := s.opContext()
	defer cancel()
	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, fmt.Errorf("load session: %w", err)
	}
	var record redisSessionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return SessionRecord{}, false, fmt.Errorf("decode session record: %w", err)
	}
	return SessionRecord{
		Token:             token,
		UserID:            record.UserID,
		ExpiresAt:         record.ExpiresAt,
		AbsoluteExpiresAt: record.AbsoluteExpiresAt,
	}, true, nil
}

func (s *RedisSessionStore) Delete(token string) error {
	key, err := s.sessionKey(token)
	if err != nil {
		return err
	}
	ctx, cancel := s.opContext()
	defer cancel()
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op; Redis evicts expired keys via per-key TTLs.
func (s *RedisSessionStore) PurgeExpired(now time.Time) error {
	return nil
}

// Ping verifies Redis is reachable.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		caPath := filepath.Clean(cfg.CAFile)
		pemData, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		certPath := filepath.Clean(cfg.CertFile)
		keyPath := filepath.Clean(cfg.KeyFile)
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
