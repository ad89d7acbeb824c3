// Package redispool provides the single shared Redis connection pool.
// This package is internal and should not be imported by external projects.
package redispool

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/traveler-leon/aeroflow/types"
)

// =============================================================================
// 💾 连接池管理器
// =============================================================================

// Config 连接池配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 连接池大小（并发连接上限）
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 取连接的最长等待时间，超时即失败而不是无限排队
	PoolTimeout time.Duration `yaml:"pool_timeout" json:"pool_timeout"`

	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig 返回默认连接池配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		Password:            "",
		DB:                  0,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		PoolTimeout:         3 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Manager owns the process-wide pool. Connections are established
// lazily on first use and re-established after Close, so a turn that
// arrives after a shutdown or a Redis restart gets a fresh pool
// instead of a stale handle.
type Manager struct {
	config Config
	logger *zap.Logger

	mu     sync.Mutex
	client *redis.Client
	closed bool
}

// NewManager 创建连接池管理器，不立即建连
func NewManager(config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		config: config,
		logger: logger.With(zap.String("component", "redispool")),
	}
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Client returns the shared pooled client, dialing if the pool is
// absent or was closed. A backend that cannot be reached surfaces as a
// retryable PERSISTENCE_UNAVAILABLE error.
func (m *Manager) Client(ctx context.Context) (redis.UniversalClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil && !m.closed {
		return m.client, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         m.config.Addr,
		Password:     m.config.Password,
		DB:           m.config.DB,
		MaxRetries:   m.config.MaxRetries,
		PoolSize:     m.config.PoolSize,
		MinIdleConns: m.config.MinIdleConns,
		PoolTimeout:  m.config.PoolTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, types.NewError(types.ErrPersistenceUnavailable, "redis unreachable").
			WithCause(err).WithRetryable(true)
	}

	m.client = client
	m.closed = false
	m.logger.Info("redis pool established",
		zap.String("addr", m.config.Addr),
		zap.Int("pool_size", m.config.PoolSize),
	)

	if m.config.HealthCheckInterval > 0 {
		go m.healthCheckLoop(client)
	}
	return m.client, nil
}

// Ping 探活
func (m *Manager) Ping(ctx context.Context) error {
	client, err := m.Client(ctx)
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

// Close 关闭连接池，之后的 Client 调用会重新建连
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.client == nil {
		m.closed = true
		return nil
	}
	m.closed = true
	m.logger.Info("closing redis pool")
	err := m.client.Close()
	m.client = nil
	return err
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (m *Manager) healthCheckLoop(client *redis.Client) {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		stale := m.closed || m.client != client
		m.mu.Unlock()
		if stale {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Ping(ctx).Err(); err != nil {
			m.logger.Error("redis health check failed", zap.Error(err))
		} else {
			m.logger.Debug("redis health check passed")
		}
		cancel()
	}
}
