// Package transcript persists completed agent turns so a restarted process can
// continue the same conversation. Turns are stored either as JSON lines in a
// local file or in MySQL; schema migrations are embedded from deploy/migrations.
package transcript
