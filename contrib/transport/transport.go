package transport

import "context"

// Server is a transport server lifecycle: HTTP listener, pprof
// endpoint, metrics endpoint, or any other component app.Run starts
// and stops in lockstep.
type Server interface {
	Start(context.Context) error
	Stop(context.Context) error
}
