/*
Package main 提供 aeroflow 服务端程序入口。

# 概述

cmd/aeroflow 是机场智能客服编排服务的可执行入口，提供 HTTP 会话
接口、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集以及配置热重载。

# 核心类型

  - Server           — 主服务器，装配协作方与编排器并管理优雅关闭
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 会话接口：POST /v1/chat/{thread} 以 SSE 逐步流式返回助手消息，
    POST /v1/chat/{thread}/summary 生成摘要，DELETE 清空线程
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger
  - 配置热重载：Reloader 监听文件变更，日志级别即时生效
  - 指标：/metrics 暴露 Prometheus 指标
  - 优雅关闭：信号监听 → 停止热重载 → 关闭 HTTP → 关闭 Redis 池
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
