package usagemeter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store persists usage counters and per-day aggregates. All mutation of a
// user's request counter and day rows is routed through the Ledger; no other
// component writes them.
type Store interface {
	// IncrementRequestsUsed atomically adds amount to the user's counter and
	// returns the new total. When limit > 0 the increment is conditional: a
	// result that would exceed limit is refused with ErrLimitExceeded and the
	// counter is left unchanged. limit <= 0 increments unconditionally.
	IncrementRequestsUsed(ctx context.Context, userID string, amount, limit int64) (int64, error)

	// AddDayUsage upserts the (userID, day) aggregate row, incrementing its
	// request and token counts. day must be truncated to midnight UTC.
	AddDayUsage(ctx context.Context, userID string, day time.Time, requests, tokens int64) error

	// DayUsageSince returns the user's day rows with day >= from, oldest
	// first. Days without consumption have no row.
	DayUsageSince(ctx context.Context, userID string, from time.Time) ([]DayUsage, error)
}

// UserCache stores serialized user records keyed by user id. It is a
// best-effort collaborator: the Ledger logs and continues when it fails.
type UserCache interface {
	CacheUser(ctx context.Context, user *UserAccount) error
}

// Ledger durably records consumption against a user's running counter and
// today's usage bucket. It is stateless with respect to the process; all
// state lives in the Store, so concurrent requests and multiple instances
// may share one Ledger configuration.
type Ledger struct {
	store   Store
	cache   UserCache
	meter   Meter
	catalog *Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCache sets the user cache refreshed after each consumption.
func WithCache(c UserCache) Option {
	return func(l *Ledger) { l.cache = c }
}

// WithMeter sets the consumption observer.
func WithMeter(m Meter) Option {
	return func(l *Ledger) { l.meter = m }
}

// WithCatalog resolves plans against a configured catalog instead of the
// built-in one.
func WithCatalog(c *Catalog) Option {
	return func(l *Ledger) { l.catalog = c }
}

// WithLogger sets the logger for best-effort failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithNow overrides the clock used for day bucketing.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a Ledger backed by store. Defaults: no cache, noop
// meter, built-in plan catalog, slog.Default(), time.Now.
func NewLedger(store Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("usagemeter: a store is required")
	}

	l := &Ledger{store: store}
	for _, opt := range opts {
		opt(l)
	}

	// Apply defaults after options.
	if l.meter == nil {
		l.meter = &noopMeter{}
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}

	return l, nil
}

func (l *Ledger) planFor(user *UserAccount) PlanDefinition {
	if l.catalog != nil {
		return l.catalog.Get(user.Plan)
	}
	return GetPlanDefinition(user.Plan)
}

// EnsureRequestCapacity runs the pre-flight capacity check against the
// Ledger's catalog. See the package-level function for semantics.
func (l *Ledger) EnsureRequestCapacity(user *UserAccount, amount int64) error {
	return ensureRequestCapacity(l.planFor(user), user, amount)
}

// ConsumeRequests records amount consumed requests for user: it re-runs the
// capacity check, commits the counter increment, updates today's usage
// bucket, and refreshes the user cache. On success user.QuestionsUsed is set
// to the persisted total.
//
// The counter increment and the day-row upsert are separate storage
// operations, not a transaction: if the upsert fails after the increment
// committed, the user is charged and the daily trend under-counts. Storage
// errors propagate to the caller without retries or rollback.
func (l *Ledger) ConsumeRequests(ctx context.Context, user *UserAccount, amount int64, meta Metadata) error {
	plan := l.planFor(user)

	if err := ensureRequestCapacity(plan, user, amount); err != nil {
		l.meter.OnReject(RejectEvent{UserID: user.ID, Plan: plan.ID, Amount: amount, Reason: err})
		return err
	}

	limit := effectiveLimit(user.QuestionLimit, plan.QuestionLimit)

	used, err := l.store.IncrementRequestsUsed(ctx, user.ID, amount, limit)
	if errors.Is(err, ErrLimitExceeded) {
		// A concurrent consumption won the remaining capacity between the
		// check above and the conditional increment.
		rejection := limitExceededError("Monthly request limit reached. Upgrade your plan to continue.")
		l.meter.OnReject(RejectEvent{UserID: user.ID, Plan: plan.ID, Amount: amount, Reason: rejection})
		return rejection
	}
	if err != nil {
		return fmt.Errorf("usagemeter: increment requests used: %w", err)
	}

	user.QuestionsUsed = used

	day := startOfDayUTC(l.now())
	if err := l.store.AddDayUsage(ctx, user.ID, day, amount, meta.Tokens); err != nil {
		return fmt.Errorf("usagemeter: record day usage: %w", err)
	}

	if l.cache != nil {
		if err := l.cache.CacheUser(ctx, user); err != nil {
			l.logger.Warn("user cache refresh failed",
				"user_id", user.ID,
				"error", err,
			)
		}
	}

	l.meter.OnConsume(ConsumeEvent{
		ID:       uuid.New().String(),
		UserID:   user.ID,
		Plan:     plan.ID,
		Amount:   amount,
		Tokens:   meta.Tokens,
		Source:   meta.Source,
		Provider: meta.Provider,
		Model:    meta.Model,
		Used:     used,
		Limit:    limit,
	})

	return nil
}

// UsageSeries returns one entry per day across [today-(days-1), today]
// inclusive, oldest first, with zero-filled entries for days without
// recorded consumption. days <= 0 selects the default window of 14.
func (l *Ledger) UsageSeries(ctx context.Context, userID string, days int) ([]UsagePoint, error) {
	if days <= 0 {
		days = 14
	}

	end := startOfDayUTC(l.now())
	start := end.AddDate(0, 0, -(days - 1))

	rows, err := l.store.DayUsageSince(ctx, userID, start)
	if err != nil {
		return nil, fmt.Errorf("usagemeter: load day usage: %w", err)
	}

	byDay := make(map[int64]DayUsage, len(rows))
	for _, row := range rows {
		byDay[startOfDayUTC(row.Day).Unix()] = row
	}

	series := make([]UsagePoint, 0, days)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		point := UsagePoint{Date: day}
		if row, ok := byDay[day.Unix()]; ok {
			point.Requests = row.Requests
			point.Tokens = row.Tokens
		}
		series = append(series, point)
	}

	return series, nil
}

// Summary combines the user's plan entitlements, current consumption, and
// the 14-day trend. activePipelines is supplied by the caller, which owns
// pipeline records.
func (l *Ledger) Summary(ctx context.Context, user *UserAccount, activePipelines int64) (Summary, error) {
	plan := l.planFor(user)

	trend, err := l.UsageSeries(ctx, user.ID, 14)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		Plan: plan,
		Usage: UsageTotals{
			RequestsUsed:   user.QuestionsUsed,
			RequestLimit:   effectiveLimit(user.QuestionLimit, plan.QuestionLimit),
			PipelinesUsed:  activePipelines,
			PipelineLimit:  effectiveLimit(user.ChatbotLimit, plan.ChatbotLimit),
			StorageUsedMb:  user.StorageUsedMb,
			StorageLimitMb: effectiveLimit(user.StorageLimitMb, plan.StorageLimitMb),
		},
		Trend: trend,
	}, nil
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnConsume(ConsumeEvent) {}
func (m *noopMeter) OnReject(RejectEvent)   {}
