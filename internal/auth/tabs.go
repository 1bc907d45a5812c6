package auth

import "context"

// TabID identifies a browser tab.
type TabID int

// TabEvent reports a navigation or closure of a tab.
type TabEvent struct {
	TabID  TabID
	URL    string
	Closed bool
}

// Tabs is the host's tab manager.
//
// Watch registers fn for events on every tab and returns a function that
// unregisters it. Neither the stop function nor Remove may wait for callbacks
// that are already running.
type Tabs interface {
	Create(ctx context.Context, url string) (TabID, error)
	Remove(ctx context.Context, id TabID) error
	Watch(fn func(TabEvent)) (stop func())
}
