package engine

// Observer receives engine activity for metrics. Implementations must be
// safe for use by several engines at once.
type Observer interface {
	FrameReceived(performative string)
	FrameSent(performative string)
	EventDispatched(kind string)
	BytesRead(n int)
	BytesWritten(n int)
	TransportFailed(condition string)
}

type nopObserver struct{}

func (nopObserver) FrameReceived(string)   {}
func (nopObserver) FrameSent(string)       {}
func (nopObserver) EventDispatched(string) {}
func (nopObserver) BytesRead(int)          {}
func (nopObserver) BytesWritten(int)       {}
func (nopObserver) TransportFailed(string) {}
