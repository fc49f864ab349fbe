package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/arena-sync/internal/config"
)

func TestDisabledTelemetryIsNoop(t *testing.T) {
	shutdown, err := InitTelemetry(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestEnabledTelemetryShutsDown(t *testing.T) {
	cfg := config.Default().Telemetry
	cfg.Enabled = true
	shutdown, err := InitTelemetry(context.Background(), cfg)
	require.NoError(t, err)
	// экспортёру некуда слать, но пустой батчер завершается без ошибок
	assert.NoError(t, shutdown(context.Background()))
}
