package usagemeter_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	um "github.com/kriralabs/usagemeter"
	"github.com/kriralabs/usagemeter/store"
)

func newTestLedger(t *testing.T, s um.Store, opts ...um.Option) *um.Ledger {
	t.Helper()
	l, err := um.NewLedger(s, opts...)
	require.NoError(t, err)
	return l
}

// recordingMeter captures events for assertions.
type recordingMeter struct {
	mu       sync.Mutex
	consumed []um.ConsumeEvent
	rejected []um.RejectEvent
}

func (m *recordingMeter) OnConsume(e um.ConsumeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumed = append(m.consumed, e)
}

func (m *recordingMeter) OnReject(e um.RejectEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, e)
}

// failingCache always errors, standing in for an unreachable cache.
type failingCache struct{}

func (failingCache) CacheUser(context.Context, *um.UserAccount) error {
	return errors.New("cache unavailable")
}

// dayFailStore wraps a Store and fails the day-row upsert.
type dayFailStore struct {
	um.Store
}

func (dayFailStore) AddDayUsage(context.Context, string, time.Time, int64, int64) error {
	return errors.New("day row write failed")
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestConsumeRequests_RecordsCounterAndDayRow(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.SetRequestsUsed("u1", 7)

	l := newTestLedger(t, ms)
	user := &um.UserAccount{ID: "u1", Plan: um.PlanFree, QuestionsUsed: 7}

	err := l.ConsumeRequests(context.Background(), user, 3, um.Metadata{Tokens: 250, Source: "llm_test"})
	require.NoError(t, err)

	// Caller's copy stays coherent with the persisted value.
	assert.Equal(t, int64(10), user.QuestionsUsed)
	assert.Equal(t, int64(10), ms.RequestsUsed("u1"))

	series, err := l.UsageSeries(context.Background(), "u1", 1)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, int64(3), series[0].Requests)
	assert.Equal(t, int64(250), series[0].Tokens)
}

func TestConsumeRequests_TokensAccumulateWithinDay(t *testing.T) {
	ms := store.NewMemoryStore()
	l := newTestLedger(t, ms)
	user := &um.UserAccount{ID: "u1", Plan: um.PlanFree}

	require.NoError(t, l.ConsumeRequests(context.Background(), user, 1, um.Metadata{Tokens: 100}))
	require.NoError(t, l.ConsumeRequests(context.Background(), user, 1, um.Metadata{}))
	require.NoError(t, l.ConsumeRequests(context.Background(), user, 2, um.Metadata{Tokens: 40}))

	series, err := l.UsageSeries(context.Background(), "u1", 1)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, int64(4), series[0].Requests)
	assert.Equal(t, int64(140), series[0].Tokens)
}

func TestEnsureRequestCapacity_Boundary(t *testing.T) {
	limit := um.Int64Ptr(10)

	// One unit of headroom left: amount 1 fits, amount 2 does not.
	user := &um.UserAccount{ID: "u1", Plan: um.PlanFree, QuestionLimit: limit, QuestionsUsed: 9}
	assert.NoError(t, um.EnsureRequestCapacity(user, 1))

	err := um.EnsureRequestCapacity(user, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, um.ErrLimitExceeded)
	assert.Equal(t, http.StatusPaymentRequired, um.StatusCode(err))
}

func TestEnsureRequestCapacity_ZeroLimitMeansNoCapacity(t *testing.T) {
	// A zero override wins over the plan default regardless of usage.
	user := &um.UserAccount{ID: "u1", Plan: um.PlanFree, QuestionLimit: um.Int64Ptr(0)}
	err := um.EnsureRequestCapacity(user, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, um.ErrNoCapacity)
	assert.Equal(t, http.StatusPaymentRequired, um.StatusCode(err))

	user.QuestionsUsed = 50
	assert.ErrorIs(t, um.EnsureRequestCapacity(user, 1), um.ErrNoCapacity)
}

func TestEnsureRequestCapacity_RejectsBadAmount(t *testing.T) {
	user := &um.UserAccount{ID: "u1", Plan: um.PlanFree}
	assert.Error(t, um.EnsureRequestCapacity(user, 0))
	assert.Error(t, um.EnsureRequestCapacity(user, -3))
}

func TestConsumeRequests_MidnightCrossingCreatesTwoBuckets(t *testing.T) {
	ms := store.NewMemoryStore()

	beforeMidnight := time.Date(2026, 8, 28, 23, 59, 59, 0, time.UTC)
	afterMidnight := time.Date(2026, 8, 29, 0, 0, 1, 0, time.UTC)

	now := beforeMidnight
	l := newTestLedger(t, ms, um.WithNow(func() time.Time { return now }))
	user := &um.UserAccount{ID: "u1", Plan: um.PlanFree}

	require.NoError(t, l.ConsumeRequests(context.Background(), user, 1, um.Metadata{}))
	now = afterMidnight
	require.NoError(t, l.ConsumeRequests(context.Background(), user, 1, um.Metadata{}))

	series, err := l.UsageSeries(context.Background(), "u1", 2)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, int64(1), series[0].Requests)
	assert.Equal(t, int64(1), series[1].Requests)
	assert.True(t, series[0].Date.Before(series[1].Date))
}

func TestUsageSeries_DenseWithNoSnapshots(t *testing.T) {
	l := newTestLedger(t, store.NewMemoryStore(),
		um.WithNow(fixedNow(time.Date(2026, 8, 29, 15, 30, 0, 0, time.UTC))))

	series, err := l.UsageSeries(context.Background(), "ghost", 14)
	require.NoError(t, err)
	require.Len(t, series, 14)

	expected := time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC)
	for _, point := range series {
		assert.True(t, expected.Equal(point.Date), "expected %s, got %s", expected, point.Date)
		assert.Zero(t, point.Requests)
		assert.Zero(t, point.Tokens)
		expected = expected.AddDate(0, 0, 1)
	}
}

func TestUsageSeries_FillsGapsBetweenRecordedDays(t *testing.T) {
	ms := store.NewMemoryStore()
	today := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	now := today.AddDate(0, 0, -6)
	l := newTestLedger(t, ms, um.WithNow(func() time.Time { return now }))
	user := &um.UserAccount{ID: "u1", Plan: um.PlanFree}

	require.NoError(t, l.ConsumeRequests(context.Background(), user, 2, um.Metadata{}))
	now = today
	require.NoError(t, l.ConsumeRequests(context.Background(), user, 5, um.Metadata{}))

	series, err := l.UsageSeries(context.Background(), "u1", 7)
	require.NoError(t, err)
	require.Len(t, series, 7)
	assert.Equal(t, int64(2), series[0].Requests)
	for _, point := range series[1:6] {
		assert.Zero(t, point.Requests)
	}
	assert.Equal(t, int64(5), series[6].Requests)
}

func TestUsageSeries_DefaultWindow(t *testing.T) {
	l := newTestLedger(t, store.NewMemoryStore())
	series, err := l.UsageSeries(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Len(t, series, 14)
}

func TestConcurrentConsume_StaysWithinOvershootBound(t *testing.T) {
	const workers = 8

	limit := int64(10)
	ms := store.NewMemoryStore()
	ms.SetRequestsUsed("u1", limit-1)

	l := newTestLedger(t, ms)

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			// Each caller carries its own stale copy of the user record.
			user := &um.UserAccount{
				ID:            "u1",
				Plan:          um.PlanFree,
				QuestionLimit: &limit,
				QuestionsUsed: limit - 1,
			}
			errs[idx] = l.ConsumeRequests(context.Background(), user, 1, um.Metadata{})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, um.ErrLimitExceeded)
		}
	}

	// With one unit of headroom exactly one racer commits; the counter never
	// exceeds the bound limit + (workers - 1).
	assert.Equal(t, 1, successes)
	used := ms.RequestsUsed("u1")
	assert.GreaterOrEqual(t, used, limit)
	assert.LessOrEqual(t, used, limit+int64(workers-1))
}

func TestConsumeRequests_CacheFailureDoesNotFailConsumption(t *testing.T) {
	ms := store.NewMemoryStore()
	l := newTestLedger(t, ms, um.WithCache(failingCache{}))
	user := &um.UserAccount{ID: "u1", Plan: um.PlanFree}

	require.NoError(t, l.ConsumeRequests(context.Background(), user, 1, um.Metadata{}))
	assert.Equal(t, int64(1), ms.RequestsUsed("u1"))
}

func TestConsumeRequests_DayRowFailureLeavesCounterCharged(t *testing.T) {
	ms := store.NewMemoryStore()
	l := newTestLedger(t, dayFailStore{ms})
	user := &um.UserAccount{ID: "u1", Plan: um.PlanFree}

	err := l.ConsumeRequests(context.Background(), user, 1, um.Metadata{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, um.ErrLimitExceeded)

	// The increment committed before the upsert failed: the user is charged
	// and the daily trend under-counts. No rollback is attempted.
	assert.Equal(t, int64(1), ms.RequestsUsed("u1"))
	assert.Equal(t, int64(1), user.QuestionsUsed)
}

func TestConsumeRequests_EmitsMeterEvents(t *testing.T) {
	ms := store.NewMemoryStore()
	rec := &recordingMeter{}
	l := newTestLedger(t, ms, um.WithMeter(rec))

	user := &um.UserAccount{ID: "u1", Plan: um.PlanFree, QuestionLimit: um.Int64Ptr(1)}
	require.NoError(t, l.ConsumeRequests(context.Background(), user, 1, um.Metadata{
		Tokens: 33, Source: "evaluation", Provider: "openai", Model: "gpt-4o",
	}))

	require.Len(t, rec.consumed, 1)
	event := rec.consumed[0]
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "u1", event.UserID)
	assert.Equal(t, um.PlanFree, event.Plan)
	assert.Equal(t, int64(1), event.Amount)
	assert.Equal(t, int64(33), event.Tokens)
	assert.Equal(t, "evaluation", event.Source)
	assert.Equal(t, int64(1), event.Used)
	assert.Equal(t, int64(1), event.Limit)

	err := l.ConsumeRequests(context.Background(), user, 1, um.Metadata{})
	require.Error(t, err)
	require.Len(t, rec.rejected, 1)
	assert.ErrorIs(t, rec.rejected[0].Reason, um.ErrLimitExceeded)

	// The rejected call must not have touched the counter.
	assert.Equal(t, int64(1), ms.RequestsUsed("u1"))
}

func TestConsumeRequests_UsesConfiguredCatalog(t *testing.T) {
	catalog, err := um.NewCatalog([]um.PlanDefinition{
		{ID: "trial", DisplayName: "Trial", QuestionLimit: 2},
	}, "trial")
	require.NoError(t, err)

	ms := store.NewMemoryStore()
	l := newTestLedger(t, ms, um.WithCatalog(catalog))

	user := &um.UserAccount{ID: "u1", Plan: "trial"}
	require.NoError(t, l.ConsumeRequests(context.Background(), user, 2, um.Metadata{}))
	assert.ErrorIs(t, l.ConsumeRequests(context.Background(), user, 1, um.Metadata{}), um.ErrLimitExceeded)
	assert.ErrorIs(t, l.EnsureRequestCapacity(user, 1), um.ErrLimitExceeded)
}

func TestSummary_AppliesOverridesAndTrend(t *testing.T) {
	ms := store.NewMemoryStore()
	l := newTestLedger(t, ms)

	user := &um.UserAccount{
		ID:             "u1",
		Plan:           um.PlanFree,
		QuestionLimit:  um.Int64Ptr(250),
		StorageLimitMb: um.Int64Ptr(200),
		StorageUsedMb:  42,
	}
	require.NoError(t, l.ConsumeRequests(context.Background(), user, 4, um.Metadata{Tokens: 90}))

	summary, err := l.Summary(context.Background(), user, 1)
	require.NoError(t, err)

	assert.Equal(t, um.PlanFree, summary.Plan.ID)
	assert.Equal(t, int64(4), summary.Usage.RequestsUsed)
	assert.Equal(t, int64(250), summary.Usage.RequestLimit)
	assert.Equal(t, int64(1), summary.Usage.PipelinesUsed)
	assert.Equal(t, int64(1), summary.Usage.PipelineLimit)
	assert.Equal(t, int64(42), summary.Usage.StorageUsedMb)
	assert.Equal(t, int64(200), summary.Usage.StorageLimitMb)
	require.Len(t, summary.Trend, 14)
	assert.Equal(t, int64(4), summary.Trend[13].Requests)
	assert.Equal(t, int64(90), summary.Trend[13].Tokens)
}

func TestNewLedger_RequiresStore(t *testing.T) {
	_, err := um.NewLedger(nil)
	assert.Error(t, err)
}

func ExampleLedger_ConsumeRequests() {
	ledger, _ := um.NewLedger(store.NewMemoryStore())
	user := &um.UserAccount{ID: "user-1", Plan: um.PlanFree}

	_ = ledger.ConsumeRequests(context.Background(), user, 1, um.Metadata{Source: "playground"})
	fmt.Println(user.QuestionsUsed)
	// Output: 1
}
