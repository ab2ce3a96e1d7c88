package frontend

import (
	"context"

	xerrors "AgneticGOD/internal/errors"
	"AgneticGOD/internal/stream"
)

// Runner runs one turn and writes its output to sink. *agent.Agent satisfies it.
type Runner interface {
	Run(ctx context.Context, message string, sink stream.Sink) (int, error)
}

// fatal reports whether a turn error should end the front end. Codes that
// are not registered as fatal, such as an aborted turn, have already been
// narrated to the user.
func fatal(err error) bool {
	return xerrors.IsFatal(err)
}
