// Package frontend holds the two terminal front ends: the interactive console
// and the autonomous timer loop. Both render turns through stream.ConsoleSink
// and share the process-wide agent.
package frontend
