package meter

import "github.com/kriralabs/usagemeter"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ usagemeter.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnConsume(usagemeter.ConsumeEvent) {}
func (m *NoopMeter) OnReject(usagemeter.RejectEvent)   {}
