package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshworks/backoffice/internal/app"
	"github.com/meshworks/backoffice/internal/collections"
	"github.com/meshworks/backoffice/internal/ledger"
	"github.com/meshworks/backoffice/internal/rbac"
	"github.com/meshworks/backoffice/internal/store"
)

func newTestServices(t *testing.T) (*app.Services, *app.Config) {
	t.Helper()
	t.Setenv(apiKeyEnv, "")
	cfg := &app.Config{AppEnv: "test", StoreBackend: app.BackendMemory, DashboardCacheTTL: time.Minute}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return app.NewServices(store.NewMemoryStore(), nil, cfg, logger), cfg
}

func execute(t *testing.T, services *app.Services, cfg *app.Config, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(services, cfg)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func bootstrapKey(t *testing.T, services *app.Services, cfg *app.Config) string {
	t.Helper()
	out, err := execute(t, services, cfg, "bootstrap", "--name", "Owner")
	require.NoError(t, err)
	for _, line := range strings.Split(out, "\n") {
		if key, ok := strings.CutPrefix(line, "API key: "); ok {
			return key
		}
	}
	t.Fatalf("no key in output: %q", out)
	return ""
}

func TestBootstrapIsRepeatable(t *testing.T) {
	services, cfg := newTestServices(t)
	first := bootstrapKey(t, services, cfg)
	second := bootstrapKey(t, services, cfg)
	assert.NotEqual(t, first, second)

	p, err := services.RBAC.Authenticate(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, p.Role)
}

func TestGatedCommandsNeedAKey(t *testing.T) {
	services, cfg := newTestServices(t)
	_, err := execute(t, services, cfg, "dashboard")
	require.ErrorContains(t, err, apiKeyEnv)

	_, err = execute(t, services, cfg, "dashboard", "--api-key", "bogus")
	require.Error(t, err)
}

func TestCustomerAndWorkCommands(t *testing.T) {
	services, cfg := newTestServices(t)
	key := bootstrapKey(t, services, cfg)

	principal, err := services.RBAC.Authenticate(context.Background(), key)
	require.NoError(t, err)
	ctx := rbac.ContextWithPrincipal(context.Background(), principal)

	customer, err := services.Registry.Customers.Create(ctx, collections.Customer{Name: "Anita Rao", Phone: "98860 12345"})
	require.NoError(t, err)
	work, err := services.Ledger.AddWork(ctx, customer.ID, ledger.WorkInput{Name: "Kitchen"})
	require.NoError(t, err)
	_, err = services.Ledger.CreatePaymentRecord(ctx, customer.ID, ledger.PaymentRecordInput{WorkID: work.ID, TotalAmount: decimal.NewFromInt(5000)})
	require.NoError(t, err)

	out, err := execute(t, services, cfg, "work", customer.ID, work.ID, "--api-key", key)
	require.NoError(t, err)
	assert.Contains(t, out, "Revenue: 5000.00")
	assert.Contains(t, out, "Pending: 5000.00")

	out, err = execute(t, services, cfg, "customer", customer.ID, "--api-key", key)
	require.NoError(t, err)
	assert.Contains(t, out, "Totals")

	out, err = execute(t, services, cfg, "dashboard", "--api-key", key)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Metric,Value"))

	out, err = execute(t, services, cfg, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "No findings.")
}

func TestJobsTriggerRejectsUnknownJob(t *testing.T) {
	services, cfg := newTestServices(t)
	cfg.RedisURL = "redis://127.0.0.1:1/0"
	_, err := execute(t, services, cfg, "jobs", "trigger", "payroll:export")
	require.ErrorContains(t, err, "unsupported job")
}
