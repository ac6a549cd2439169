package dashboard

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshworks/backoffice/internal/activity"
	"github.com/meshworks/backoffice/internal/collections"
	"github.com/meshworks/backoffice/internal/rbac"
	"github.com/meshworks/backoffice/internal/shared"
	"github.com/meshworks/backoffice/internal/store"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func day(y int, m time.Month, dd int) time.Time { return time.Date(y, m, dd, 10, 0, 0, 0, time.UTC) }

type fakeSource struct {
	leads    []collections.Lead
	expenses []collections.ExpenseEntry
	loads    atomic.Int32
	err      error
}

func (f *fakeSource) Leads(context.Context) ([]collections.Lead, error) {
	f.loads.Add(1)
	return f.leads, f.err
}

func (f *fakeSource) Expenses(_ context.Context, kind collections.ExpenseKind) ([]collections.ExpenseEntry, error) {
	var out []collections.ExpenseEntry
	for _, e := range f.expenses {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out, nil
}

func admin() context.Context {
	return rbac.ContextWithPrincipal(context.Background(), rbac.Principal{Name: "Owner", Role: rbac.RoleAdmin})
}

func TestBuildFunnelAndProfit(t *testing.T) {
	in := Inputs{
		Leads: []collections.Lead{
			{Status: collections.LeadConverted, Amount: d("12000")},
			{Status: collections.LeadConverted, Amount: d("8000.50")},
			{Status: collections.LeadNew, Amount: d("5000")},
			{Status: collections.LeadQuoted, Amount: d("7000")},
			{Status: collections.LeadFollowUp},
			{Status: collections.LeadLost, Amount: d("3000")},
		},
		Assets:   []collections.ExpenseEntry{{Amount: d("4000"), Date: day(2026, time.March, 3)}},
		Expenses: []collections.ExpenseEntry{{Amount: d("1500.25"), Date: day(2026, time.March, 9)}},
	}
	s := Build(in, day(2026, time.March, 20))

	assert.Equal(t, 6, s.Funnel.Total)
	assert.Equal(t, 2, s.Funnel.Converted)
	assert.Equal(t, 1, s.Funnel.Pending)
	assert.Equal(t, 2, s.Funnel.InProgress)
	assert.Equal(t, 1, s.Funnel.Lost)
	assert.Equal(t, "33.33", s.Funnel.ConversionRate.StringFixed(2))
	assert.Equal(t, "20000.50", s.Revenue.StringFixed(2))
	assert.Equal(t, "4000.00", s.TotalInvestment.StringFixed(2))
	assert.Equal(t, "1500.25", s.TotalExpenses.StringFixed(2))
	assert.Equal(t, "14500.25", s.ProfitLoss.StringFixed(2))
}

func TestBuildEmptyHasZeroRate(t *testing.T) {
	s := Build(Inputs{}, day(2026, time.June, 1))
	assert.True(t, s.Funnel.ConversionRate.IsZero())
	assert.True(t, s.ProfitLoss.IsZero())
	assert.Len(t, s.Trend, TrendMonths)
}

func TestBuildTrendCrossesYearBoundary(t *testing.T) {
	in := Inputs{
		Expenses: []collections.ExpenseEntry{
			{Amount: d("100"), Date: day(2025, time.November, 2)},
			{Amount: d("200"), Date: day(2026, time.January, 15)},
			// Same month a year earlier falls outside the window.
			{Amount: d("999"), Date: day(2025, time.January, 15)},
		},
		Assets: []collections.ExpenseEntry{{Amount: d("50"), Date: day(2026, time.February, 28)}},
	}
	s := Build(in, day(2026, time.February, 28))

	require.Len(t, s.Trend, 6)
	assert.Equal(t, "Sep 2025", s.Trend[0].Label)
	assert.Equal(t, "Feb 2026", s.Trend[5].Label)

	byLabel := map[string]TrendPoint{}
	for _, p := range s.Trend {
		byLabel[p.Label] = p
	}
	assert.Equal(t, "100.00", byLabel["Nov 2025"].Expenses.StringFixed(2))
	assert.Equal(t, "200.00", byLabel["Jan 2026"].Expenses.StringFixed(2))
	assert.Equal(t, "50.00", byLabel["Feb 2026"].Total.StringFixed(2))
	// The total still counts expenses outside the window.
	assert.Equal(t, "1299.00", s.TotalExpenses.StringFixed(2))
}

func newCachedService(t *testing.T, src Source) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewService(src, NewCache(client, time.Minute), nil)
	svc.clock = func() time.Time { return day(2026, time.March, 20) }
	return svc, mr
}

func TestSummaryCachesUntilInvalidated(t *testing.T) {
	src := &fakeSource{leads: []collections.Lead{{Status: collections.LeadConverted, Amount: d("1000")}}}
	svc, _ := newCachedService(t, src)
	ctx := admin()

	first, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", first.Revenue.StringFixed(2))

	src.leads = append(src.leads, collections.Lead{Status: collections.LeadConverted, Amount: d("500")})
	cached, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", cached.Revenue.StringFixed(2))
	assert.EqualValues(t, 1, src.loads.Load())

	svc.Invalidate(ctx)
	fresh, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1500.00", fresh.Revenue.StringFixed(2))
	assert.EqualValues(t, 2, src.loads.Load())
}

func TestSummaryConcurrentCallersShareOneLoad(t *testing.T) {
	src := &fakeSource{}
	svc, _ := newCachedService(t, src)
	ctx := admin()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Summary(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, src.loads.Load(), int32(10))
	_, err := svc.Summary(ctx)
	require.NoError(t, err)
	loads := src.loads.Load()
	_, err = svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, loads, src.loads.Load())
}

func TestSummaryWithoutRedis(t *testing.T) {
	src := &fakeSource{}
	svc := NewService(src, nil, nil)
	_, err := svc.Summary(admin())
	require.NoError(t, err)
	_, err = svc.Summary(admin())
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.loads.Load())
	svc.Invalidate(admin())
}

func TestSummaryRequiresDashboardAccess(t *testing.T) {
	src := &fakeSource{}
	svc := NewService(src, nil, nil)
	ctx := rbac.ContextWithPrincipal(context.Background(), rbac.Principal{
		Name:  "Staff",
		Role:  "staff",
		Menus: map[string]rbac.MenuPermission{rbac.MenuLeads: {View: true}},
	})
	_, err := svc.Summary(ctx)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	assert.Zero(t, src.loads.Load())

	require.NoError(t, svc.Warm(context.Background()))
}

func TestSummaryLoadError(t *testing.T) {
	src := &fakeSource{err: errors.New("boom")}
	svc := NewService(src, nil, nil)
	_, err := svc.Summary(admin())
	require.Error(t, err)
}

func TestRegistrySourceFeedsDashboard(t *testing.T) {
	s := store.NewMemoryStore()
	log := activity.NewLog(s, nil)
	reg := collections.NewRegistry(s, log, nil, nil)
	ctx := admin()

	_, err := reg.Leads.Create(ctx, collections.Lead{Name: "Anita", Phone: "98860 12345", Status: collections.LeadConverted, Amount: d("9000")})
	require.NoError(t, err)
	for _, e := range []collections.ExpenseEntry{
		{Title: "Drill", Amount: d("2500"), Category: "Tools", Kind: collections.ExpenseAsset, Date: day(2026, time.March, 2)},
		{Title: "Tea", Amount: d("120"), Category: "Office", Kind: collections.ExpenseDaily, Date: day(2026, time.March, 3)},
		{Title: "Rent", Amount: d("8000"), Category: "Office", Kind: collections.ExpenseMonthly, Date: day(2026, time.March, 1)},
	} {
		_, err := reg.Expenses.Create(ctx, e)
		require.NoError(t, err)
	}

	svc := NewService(RegistrySource{Registry: reg}, nil, nil)
	svc.clock = func() time.Time { return day(2026, time.March, 20) }
	var bumps atomic.Int32
	reg.OnDashboardInputChange(func(context.Context) { bumps.Add(1) })

	sum, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2500.00", sum.TotalInvestment.StringFixed(2))
	assert.Equal(t, "8120.00", sum.TotalExpenses.StringFixed(2))
	assert.Equal(t, "-1620.00", sum.ProfitLoss.StringFixed(2))

	_, err = reg.Leads.Create(ctx, collections.Lead{Name: "Ravi", Phone: "98860 54321", Status: collections.LeadNew})
	require.NoError(t, err)
	assert.EqualValues(t, 1, bumps.Load())
}

func TestWriteCSV(t *testing.T) {
	s := Build(Inputs{Leads: []collections.Lead{{Status: collections.LeadConverted, Amount: d("100")}}}, day(2026, time.March, 20))
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, s))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Metric,Value\n"))
	assert.Contains(t, out, "Revenue,100.00\n")
	assert.Contains(t, out, "Conversion Rate,100.00\n")
	assert.Contains(t, out, "Month,Expenses,Investment,Total\n")
	assert.Contains(t, out, "Mar 2026,0.00,0.00,0.00\n")
}

func TestHandlerRoutes(t *testing.T) {
	svc := NewService(&fakeSource{}, nil, nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(admin()))
		})
	})
	NewHandler(nil, svc).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"funnel"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard.csv", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard/trend.svg", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
}

func TestWriteTrendSVG(t *testing.T) {
	s := Build(Inputs{
		Expenses: []collections.ExpenseEntry{{Amount: d("250000"), Date: day(2026, time.March, 2)}},
		Assets:   []collections.ExpenseEntry{{Amount: d("4000"), Date: day(2026, time.January, 9)}},
	}, day(2026, time.March, 20))

	var buf bytes.Buffer
	require.NoError(t, WriteTrendSVG(&buf, s.Trend))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "<svg"))
	assert.True(t, strings.HasSuffix(out, "</svg>"))
	assert.Equal(t, 2*len(s.Trend), strings.Count(out, `aria-label="`))
	assert.Contains(t, out, "Mar 2026")
	assert.Contains(t, out, "2.5L")

	require.Error(t, WriteTrendSVG(&buf, nil))
}
