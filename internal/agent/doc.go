// Package agent 实现决策循环：把委托人的消息交给决策模型，执行模型请求的链上动作，
// 并将模型文本与动作结果按顺序以事件流的形式交给前端。
//
// 一个进程只有一个 Agent，同一时刻只运行一轮对话；会话记忆按轮次追加，
// 可通过 transcript 仓库在重启后恢复。
package agent
