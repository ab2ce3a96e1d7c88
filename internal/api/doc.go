// Package api 暴露 HTTP 服务入口：POST /chat 运行一轮对话并返回全部输出块，
// 另提供 /healthz 与 /metrics。所有请求共享进程内唯一的 Agent。
package api
