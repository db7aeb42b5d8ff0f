package billing_test

import (
	"context"
	"testing"
	"time"

	appbilling "github.com/stallmarket/backend/internal/application/billing"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestOverdueSweep(t *testing.T) {
	env := newTestEnv(t)
	lease := env.f.Lease(env.f.Vendor("ana"), env.f.Stall("A-01"), "100")
	pending := env.f.Invoice(lease, billing.Date(2024, time.March, 1))
	partial := env.f.Invoice(env.f.Lease(env.f.Vendor("ben"), env.f.Stall("B-01"), "100"), billing.Date(2024, time.March, 1))
	env.f.SetInvoiceState(partial.ID, billing.InvoiceStatusPartial, "40")
	dueToday := env.f.Invoice(lease, billing.Date(2024, time.April, 1))
	paid := env.f.Invoice(env.f.Lease(env.f.Vendor("cy"), env.f.Stall("C-01"), "100"), billing.Date(2024, time.March, 1))
	env.f.SetInvoiceState(paid.ID, billing.InvoiceStatusPaid, "100")

	core, logs := observer.New(zapcore.InfoLevel)
	sweep := appbilling.NewOverdueSweep(env.invoices, clockAt(2024, time.April, 1, 0), nil, zap.New(core))
	ctx := context.Background()

	n, err := sweep.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.Equal(t, billing.InvoiceStatusOverdue, env.f.LoadInvoice(pending.ID).Status)
	assert.Equal(t, billing.InvoiceStatusOverdue, env.f.LoadInvoice(partial.ID).Status)
	assert.Equal(t, billing.InvoiceStatusPending, env.f.LoadInvoice(dueToday.ID).Status)
	assert.Equal(t, billing.InvoiceStatusPaid, env.f.LoadInvoice(paid.ID).Status)

	again, err := sweep.MarkOverdue(ctx, time.Date(2024, time.April, 1, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, again)

	entries := logs.FilterMessage("Overdue sweep finished").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "2024-04-01", entries[0].ContextMap()["today"])
}
