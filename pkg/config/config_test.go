package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "reservation-api", cfg.App.Name)
	assert.Equal(t, StrategyTransactional, cfg.Reservation.Strategy)
	assert.Equal(t, 5, cfg.Reservation.MaxAttempts)
	assert.Equal(t, 6, cfg.Reservation.MaxPassengers)
	assert.Equal(t, int64(1), cfg.Reservation.FareTolerance)
	assert.Equal(t, 10*time.Millisecond, cfg.Reservation.BackoffInitial)
	assert.Equal(t, 5*time.Minute, cfg.Catalog.CacheTTL)
	assert.Equal(t, "Asia/Kolkata", cfg.Location().String())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RESERVATION_STRATEGY", StrategyTwoPhase)
	t.Setenv("RESERVATION_MAX_ATTEMPTS", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SERVER_PORT", "9000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StrategyTwoPhase, cfg.Reservation.Strategy)
	assert.Equal(t, 3, cfg.Reservation.MaxAttempts)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown strategy",
			env:     map[string]string{"RESERVATION_STRATEGY": "optimistic"},
			wantErr: "unknown reservation strategy",
		},
		{
			name:    "zero attempts",
			env:     map[string]string{"RESERVATION_MAX_ATTEMPTS": "0"},
			wantErr: "max attempts",
		},
		{
			name:    "default secret in production",
			env:     map[string]string{"APP_ENVIRONMENT": "production"},
			wantErr: "JWT secret must be changed",
		},
		{
			name:    "bad timezone",
			env:     map[string]string{"APP_TIMEZONE": "Mars/Olympus"},
			wantErr: "invalid app timezone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadWithPath_MissingFile(t *testing.T) {
	_, err := LoadWithPath("does-not-exist.env")
	assert.Error(t, err)
}
