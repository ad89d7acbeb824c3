/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖会话轮次、
检查点与外部协作方三大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 主要能力

  - 会话轮次指标：轮次总数（按结局分组）、轮次耗时、单轮超步数、
    流式输出事件数，按 workflow 分组。
  - 检查点指标：写入总数与耗时、读取总数（命中/未命中/失败），
    按 workflow/status 分组。
  - 协作方指标：外部协作方调用总数与耗时，按 collaborator 分组。
*/
package metrics
