// Package pythonbridge runs an external script as the decision oracle. The
// request is written to the script's stdin as JSON and the decision is read
// back from stdout.
package pythonbridge
