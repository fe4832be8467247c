package sqlqueue

import "time"

// Metrics captures transport-level telemetry. Every call carries the recipient
// the event belongs to.
type Metrics interface {
	// AddSent increments the count of inserted messages.
	AddSent(recipient string, count int)
	// AddReceived increments the count of claimed messages.
	AddReceived(recipient string, count int)
	// AddExpired increments the count of rows removed by the sweeper.
	AddExpired(recipient string, count int)
	// AddErrors increments the count of failed receives and handler errors.
	AddErrors(recipient string, count int)
	// ObserveReceiveDuration records the time spent in a single receive, including throttle wait.
	ObserveReceiveDuration(recipient string, duration time.Duration)
	// SetInFlight updates the number of receives holding a throttle slot.
	SetInFlight(recipient string, count int)
	// SetPending updates the number of visible messages waiting for the recipient.
	SetPending(recipient string, count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// AddSent implements Metrics.
func (NopMetrics) AddSent(string, int) {}

// AddReceived implements Metrics.
func (NopMetrics) AddReceived(string, int) {}

// AddExpired implements Metrics.
func (NopMetrics) AddExpired(string, int) {}

// AddErrors implements Metrics.
func (NopMetrics) AddErrors(string, int) {}

// ObserveReceiveDuration implements Metrics.
func (NopMetrics) ObserveReceiveDuration(string, time.Duration) {}

// SetInFlight implements Metrics.
func (NopMetrics) SetInFlight(string, int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(string, int) {}
