// Package session persists the wallet credential so the same wallet is
// rebuilt across restarts. Bootstrap runs once per process before any
// action traffic.
package session
