package watcher

// Recorder receives counters from the registry and its engines.
// internal/metrics provides the Prometheus implementation.
type Recorder interface {
	EngineStateChanged(from, to State)
	SubscriptionsChanged(delta int)
	EventReceived(t EventType)
	DuplicatesDropped(n int)
	EventDispatched(t EventType)
	CallbackPanicked()
	NativeFailure()
	Reinitialized()
}

type nopRecorder struct{}

func (nopRecorder) EngineStateChanged(State, State) {}
func (nopRecorder) SubscriptionsChanged(int)        {}
func (nopRecorder) EventReceived(EventType)         {}
func (nopRecorder) DuplicatesDropped(int)           {}
func (nopRecorder) EventDispatched(EventType)       {}
func (nopRecorder) CallbackPanicked()               {}
func (nopRecorder) NativeFailure()                  {}
func (nopRecorder) Reinitialized()                  {}
