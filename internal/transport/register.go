package transport

import "sync"

var (
	regMu         sync.Mutex
	defaultClient Client
)

// RegisterClient installs the wire implementation. Driver packages call it
// from init, and the entrypoint links exactly one driver with a blank
// import.
func RegisterClient(c Client) {
	regMu.Lock()
	defer regMu.Unlock()
	defaultClient = c
}

// DefaultClient returns the registered wire implementation, if any.
func DefaultClient() (Client, bool) {
	regMu.Lock()
	defer regMu.Unlock()
	return defaultClient, defaultClient != nil
}
