package tool

import "sync"

// InvokeObservation captures one registry invocation outcome.
type InvokeObservation struct {
	ToolName    string
	DurationMS  int64
	Success     bool
	FailureKind Kind
}

// RetryObservation captures one retry attempt against an upstream provider.
type RetryObservation struct {
	Upstream  string
	Attempt   int
	ErrorKind Kind
	Status    int
}

// Observer receives tool-level observability events.
type Observer interface {
	ObserveInvoke(observation InvokeObservation)
	ObserveRetry(observation RetryObservation)
}

type noopObserver struct{}

func (noopObserver) ObserveInvoke(InvokeObservation) {}
func (noopObserver) ObserveRetry(RetryObservation)   {}

var (
	observerMu     sync.RWMutex
	activeObserver Observer = noopObserver{}
)

// SetObserver sets the process-wide tool observability observer.
func SetObserver(observer Observer) {
	observerMu.Lock()
	defer observerMu.Unlock()
	if observer == nil {
		activeObserver = noopObserver{}
		return
	}
	activeObserver = observer
}

func currentObserver() Observer {
	observerMu.RLock()
	defer observerMu.RUnlock()
	return activeObserver
}

func emitInvokeObservation(observation InvokeObservation) {
	currentObserver().ObserveInvoke(observation)
}

// NotifyRetry reports a retry attempt made by a provider client.
func NotifyRetry(observation RetryObservation) {
	currentObserver().ObserveRetry(observation)
}
