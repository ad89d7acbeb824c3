// Package config 提供 aeroflow 的配置管理功能。
//
// 包含配置加载与热重载。
// 支持从 YAML 文件和环境变量加载配置，
// 优先级为默认值、文件、环境变量依次覆盖。
package config
