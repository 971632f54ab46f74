package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloompos/backend/internal/config"
	"bloompos/backend/internal/store/memory"
)

func TestBuildFallsBackToMemory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		LockTimeout:        time.Second,
		ExpiryWarningDays:  3,
		DownpaymentMinimum: decimal.NewFromInt(10000),
	}

	a, err := Build(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, isMemory := a.Repo.(*memory.Store)
	assert.True(t, isMemory)
	assert.Equal(t, 3, a.Service.WarningDays())

	batches, err := a.Service.ListBatches(context.Background(), "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, batches.Batches, "seeded catalogue expected")
}

func TestBuildFailsOnUnreachableDatabase(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Build(ctx, config.Config{DatabaseURL: "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"}, logger)
	require.Error(t, err)
}
