package metrics

type (
	nopCounter   struct{}
	nopGauge     struct{}
	nopHistogram struct{}
	nopTimer     struct{}
)

func (nopCounter) Inc()              {}
func (nopCounter) Add(float64)       {}
func (nopGauge) Set(float64)         {}
func (nopGauge) Inc()                {}
func (nopGauge) Dec()                {}
func (nopGauge) Add(float64)         {}
func (nopHistogram) Observe(float64) {}
func (nopTimer) ObserveDuration()    {}

func NopCounter() Counter     { return nopCounter{} }
func NopGauge() Gauge         { return nopGauge{} }
func NopHistogram() Histogram { return nopHistogram{} }
func NopTimer() Timer         { return nopTimer{} }

func NopTimerFunc() TimerFunc { return func() Timer { return nopTimer{} } }
