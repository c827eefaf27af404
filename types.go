package usagemeter

import "time"

// UserAccount is the slice of a user record the metering layer works with.
// QuestionsUsed is owned by the Ledger: it is only ever mutated through
// ConsumeRequests, which writes the persisted total back onto the struct.
// The optional limit fields override the plan defaults per user.
type UserAccount struct {
	ID            string `json:"id"`
	Plan          string `json:"plan"`
	QuestionsUsed int64  `json:"questions_used"`

	QuestionLimit  *int64 `json:"question_limit,omitempty"`
	ChatbotLimit   *int64 `json:"chatbot_limit,omitempty"`
	StorageLimitMb *int64 `json:"storage_limit_mb,omitempty"`
	StorageUsedMb  int64  `json:"storage_used_mb"`
}

// Metadata annotates a consumption with where it came from. Tokens, when
// non-zero, is added to the token total of today's usage bucket.
type Metadata struct {
	Tokens   int64
	Source   string
	Provider string
	Model    string
}

// DayUsage is one persisted per-day aggregate row, unique per (user, day).
// Day is truncated to midnight UTC.
type DayUsage struct {
	Day      time.Time
	Requests int64
	Tokens   int64
}

// UsagePoint is one entry of a dense usage series. Days without recorded
// consumption appear with zero counts.
type UsagePoint struct {
	Date     time.Time `json:"date"`
	Requests int64     `json:"requests"`
	Tokens   int64     `json:"tokens"`
}

// UsageTotals reports current consumption against effective limits, with
// per-user overrides already applied.
type UsageTotals struct {
	RequestsUsed   int64 `json:"requests_used"`
	RequestLimit   int64 `json:"request_limit"`
	PipelinesUsed  int64 `json:"pipelines_used"`
	PipelineLimit  int64 `json:"pipeline_limit"`
	StorageUsedMb  int64 `json:"storage_used_mb"`
	StorageLimitMb int64 `json:"storage_limit_mb"`
}

// Summary combines a user's plan entitlements, current consumption, and the
// recent usage trend, ready for a dashboard response.
type Summary struct {
	Plan  PlanDefinition `json:"plan"`
	Usage UsageTotals    `json:"usage"`
	Trend []UsagePoint   `json:"trend"`
}

// Int64Ptr returns a pointer to the given int64.
func Int64Ptr(v int64) *int64 { return &v }

// startOfDayUTC truncates t to midnight UTC. Write and read paths must agree
// on this bucketing or the series join silently drops data.
func startOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
