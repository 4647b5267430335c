package relay

// FakeRelay is a test double with injectable failures.
type FakeRelay struct {
	// Active is the current relay state.
	Active bool

	// Activations and Deactivations count successful commands.
	Activations   int
	Deactivations int

	// ActivateError, DeactivateError, and IsActiveError, if set, are
	// returned by the corresponding method.
	ActivateError   error
	DeactivateError error
	IsActiveError   error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeRelay creates an inactive FakeRelay.
func NewFakeRelay() *FakeRelay {
	return &FakeRelay{}
}

// Activate energizes the fake relay.
func (f *FakeRelay) Activate() error {
	if f.ActivateError != nil {
		return f.ActivateError
	}
	f.Active = true
	f.Activations++
	return nil
}

// Deactivate de-energizes the fake relay.
func (f *FakeRelay) Deactivate() error {
	if f.DeactivateError != nil {
		return f.DeactivateError
	}
	f.Active = false
	f.Deactivations++
	return nil
}

// IsActive returns the fake relay state.
func (f *FakeRelay) IsActive() (bool, error) {
	if f.IsActiveError != nil {
		return false, f.IsActiveError
	}
	return f.Active, nil
}

// Close marks the relay as closed and de-energized.
func (f *FakeRelay) Close() error {
	f.Active = false
	f.Closed = true
	return nil
}

// Reset clears recorded state and injected errors.
func (f *FakeRelay) Reset() {
	*f = FakeRelay{}
}
