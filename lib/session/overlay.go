package session

// Status keys of the blocking overlay (translation keys of the dashboard)
const (
	StatusConnecting    = "connecting"
	StatusDisconnected  = "disconnected"
	StatusDisconnecting = "disconnecting"
	StatusError         = "error_occurred"
	StatusFetchingData  = "fetching_data"
)

// Overlay describes the blocking status presentation shown instead of the
// dashboard content while the session is not usable.
type Overlay struct {
	Open            bool   // The overlay blocks the content
	Status          string // Status key, empty when connected and loaded
	Spinner         bool   // Show a progress indicator
	CanReconnect    bool   // Offer the reconnect action
	CanLogout       bool   // Offer the logout action
	NeedsCredential bool   // Only the credential prompt is shown
}

// Overlay returns the current status presentation
func (c *Controller) Overlay() Overlay {
	if c.NeedsCredential() {
		return Overlay{Open: true, NeedsCredential: true}
	}

	state := c.State()
	_, infoState := c.store.AppInfo()

	o := Overlay{
		Open: state != StateConnected || infoState != LoadLoaded,
	}

	switch state {
	case StateInit, StateConnecting:
		o.Status = StatusConnecting
		o.Spinner = true
	case StateDisconnecting:
		o.Status = StatusDisconnecting
		o.Spinner = true
	case StateDisconnected:
		o.Status = StatusDisconnected
	case StateError:
		o.Status = StatusError
	}

	if infoState == LoadPending && state != StateError && state != StateDisconnected {
		o.Status = StatusFetchingData
		o.Spinner = true
	}

	o.CanReconnect = state == StateDisconnected || state == StateError
	o.CanLogout = o.CanReconnect
	return o
}
