package metrics

// EngineRecorder receives counters from the monitoring engine.
type EngineRecorder interface {
	ObserveMonitors(count int)
	IncHeartbeat(accepted bool)
	IncPing(success bool)
	ObserveDelivery(delivered, pruned int)
}

type NoopEngineRecorder struct{}

func (NoopEngineRecorder) ObserveMonitors(count int)             {}
func (NoopEngineRecorder) IncHeartbeat(accepted bool)            {}
func (NoopEngineRecorder) IncPing(success bool)                  {}
func (NoopEngineRecorder) ObserveDelivery(delivered, pruned int) {}
