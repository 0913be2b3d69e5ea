package core

import "context"

// ShutdownFunc releases one resource during shutdown. It must honour ctx:
// once ctx is done the process is about to exit whatever the handler does.
//
// Example:
//
//	var closeLedger ShutdownFunc = func(ctx context.Context) error {
//	    return repo.Stop(5 * time.Second)
//	}
type ShutdownFunc func(ctx context.Context) error
