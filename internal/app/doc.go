// Package app 负责把配置装配成单进程运行时：钱包会话、动作注册表、决策模型、
// 审计发布器、会话记录与智能体。前端（控制台、自主模式、HTTP）共享同一个 Runtime。
package app
