package usagemeter

// Meter observes accepted and rejected consumptions for monitoring/logging.
type Meter interface {
	// OnConsume is called after a consumption is durably recorded.
	OnConsume(event ConsumeEvent)

	// OnReject is called when a consumption is refused by a capacity check.
	OnReject(event RejectEvent)
}

// ConsumeEvent describes one recorded consumption.
type ConsumeEvent struct {
	ID       string // unique event id
	UserID   string
	Plan     string
	Amount   int64
	Tokens   int64
	Source   string
	Provider string
	Model    string
	Used     int64 // counter value after the increment
	Limit    int64 // effective limit at commit time
}

// RejectEvent describes a refused consumption.
type RejectEvent struct {
	UserID string
	Plan   string
	Amount int64
	Reason error
}
