package netmon

import "context"

// Watcher waits for network change events. *Monitor is the rtnetlink
// implementation; the Service only depends on this interface.
type Watcher interface {
	// WaitForChangeEvent blocks until at least one change is observed,
	// ctx is done or the watcher is closed.
	WaitForChangeEvent(ctx context.Context) (NetworkChangeEvent, error)
	Close() error
}

var _ Watcher = (*Monitor)(nil)
