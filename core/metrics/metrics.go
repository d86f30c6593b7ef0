// Package metrics defines the instrumentation port shared by the core
// packages. Backends plug in through adapters; core code never imports a
// metrics library directly.
package metrics

// Counter only goes up.
type Counter interface {
	Inc()
	// Add increments by delta, which must be >= 0.
	Add(delta float64)
}

// Gauge goes up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
}

// Histogram samples observations, typically durations.
type Histogram interface {
	Observe(value float64)
}

// Timer records the elapsed time since its creation when ObserveDuration is
// called.
type Timer interface {
	ObserveDuration()
}

// TimerFunc creates a Timer per measured operation, enabling
// defer m.LoadDuration().ObserveDuration().
type TimerFunc func() Timer
