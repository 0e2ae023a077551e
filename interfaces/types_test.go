package interfaces

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() CacheConfig {
	return CacheConfig{
		DeviceSecret: []byte("device-secret"),
		Locations: []LocationConfig{
			{ID: "primary", Path: "/tmp/cache-a", AvailableSize: 1 << 20},
			{ID: "secondary", Path: "/tmp/cache-b", AvailableSize: 1 << 20},
		},
		MaxNumCachedBytes:   5000,
		MinNumCachedBytes:   1000,
		MaintenanceInterval: time.Minute,
	}
}

// TestCacheConfigValidate tests configuration invariant checks.
func TestCacheConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CacheConfig)
		wantErr bool
	}{
		{
			name:   "valid config",
			mutate: func(c *CacheConfig) {},
		},
		{
			name:    "empty device secret",
			mutate:  func(c *CacheConfig) { c.DeviceSecret = nil },
			wantErr: true,
		},
		{
			name:    "no locations",
			mutate:  func(c *CacheConfig) { c.Locations = nil },
			wantErr: true,
		},
		{
			name:    "duplicate location id",
			mutate:  func(c *CacheConfig) { c.Locations[1].ID = c.Locations[0].ID },
			wantErr: true,
		},
		{
			name:    "empty location id",
			mutate:  func(c *CacheConfig) { c.Locations[0].ID = "" },
			wantErr: true,
		},
		{
			name:    "empty location path",
			mutate:  func(c *CacheConfig) { c.Locations[0].Path = "" },
			wantErr: true,
		},
		{
			name:    "zero location size",
			mutate:  func(c *CacheConfig) { c.Locations[0].AvailableSize = 0 },
			wantErr: true,
		},
		{
			name:    "zero max cached bytes",
			mutate:  func(c *CacheConfig) { c.MaxNumCachedBytes = 0; c.MinNumCachedBytes = 0 },
			wantErr: true,
		},
		{
			name:    "min above max",
			mutate:  func(c *CacheConfig) { c.MinNumCachedBytes = c.MaxNumCachedBytes + 1 },
			wantErr: true,
		},
		{
			name:    "zero maintenance interval",
			mutate:  func(c *CacheConfig) { c.MaintenanceInterval = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				var configErr *ConfigError
				assert.ErrorAs(t, err, &configErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

// TestModeParsing tests the String/Parse round trip for key modes.
func TestModeParsing(t *testing.T) {
	for _, mode := range []SymmetricKeyMode{SymmetricKeyModeAES256, SymmetricKeyModeOTP} {
		parsed, err := ParseSymmetricKeyMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)
	}
	_, err := ParseSymmetricKeyMode("bogus")
	require.Error(t, err)

	for _, mode := range []AsymmetricKeyMode{AsymmetricKeyModeECDH, AsymmetricKeyModeFrodo, AsymmetricKeyModeKyber} {
		parsed, err := ParseAsymmetricKeyMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)
	}
	_, err = ParseAsymmetricKeyMode("bogus")
	require.Error(t, err)
}
