package metrics

func (m *ServerMetrics) IncEvent(source, decision, reason string) {
	m.eventsTotal.WithLabelValues(source, decision, reason).Inc()
}

func (m *ServerMetrics) IncInvalidation(outcome string) {
	m.invalidationsTotal.WithLabelValues(outcome).Inc()
}

func (m *ServerMetrics) ObserveDispatchDuration(seconds float64) {
	m.dispatchDuration.Observe(seconds)
}

func (m *ServerMetrics) ObserveInvalidationPaths(n int) {
	m.invalidationPaths.Observe(float64(n))
}

func (m *ServerMetrics) IncSettingsPolls() { m.settingsPolls.Inc() }
func (m *ServerMetrics) IncSettingsSwaps() { m.settingsSwaps.Inc() }

func (m *ServerMetrics) IncSettingsError(errType string) {
	m.settingsErrors.WithLabelValues(errType).Inc()
}

func (m *ServerMetrics) SetSettingsLastSuccess(unixSeconds float64) {
	m.settingsLastSuccess.Set(unixSeconds)
}

func (m *ServerMetrics) SetSettingsStale(stale bool) {
	m.settingsStale.Set(boolGauge(stale))
}

// SetSettingsInfo replaces the previous identity so only the active
// snapshot is reported.
func (m *ServerMetrics) SetSettingsInfo(hash, source string) {
	m.settingsInfo.Reset()
	m.settingsInfo.WithLabelValues(hash, source).Set(1)
}
