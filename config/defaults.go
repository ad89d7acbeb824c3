// =============================================================================
// 📦 aeroflow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:   DefaultServerConfig(),
		Redis:    DefaultRedisConfig(),
		FlightDB: DefaultFlightDBConfig(),
		Engine:   DefaultEngineConfig(),
		Reasoner: DefaultReasonerConfig(),
		Log:      DefaultLogConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:    8080,
		ReadTimeout: 15 * time.Second,
		// SSE 响应可能持续整轮会话，写超时要宽于 turn_timeout
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  4 * time.Second,
		KeyPrefix:    "aeroflow",
		// 默认保留七天会话
		CheckpointTTL: 7 * 24 * time.Hour,
	}
}

// DefaultFlightDBConfig 返回默认航班数据库配置
func DefaultFlightDBConfig() FlightDBConfig {
	return FlightDBConfig{
		Path: "flights.db",
	}
}

// DefaultEngineConfig 返回默认会话引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TurnTimeout:     60 * time.Second,
		ContextTurns:    5,
		TokenBudget:     0,
		ExactTokenCount: false,
	}
}

// DefaultReasonerConfig 返回默认推理协作方配置
func DefaultReasonerConfig() ReasonerConfig {
	return ReasonerConfig{
		Endpoint: "",
		APIKey:   "",
		Model:    "",
		Timeout:  30 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}
