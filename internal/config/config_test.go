package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "STORAGE_DRIVER", "CARD_SECRET_KEY", "MPESA_CONSUMER_KEY", "PENDING_TTL", "MOCK_PAYMENTS_ENABLED"} {
		t.Setenv(k, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, `^254\d{9}$`, cfg.MobileMoney.PhonePattern)
	assert.Equal(t, 30*time.Minute, cfg.Reconcile.PendingTTL)
	assert.Equal(t, 5*time.Minute, cfg.Card.SignatureTolerance)
	assert.False(t, cfg.Card.Enabled())
	assert.False(t, cfg.MobileMoney.Enabled())
	assert.False(t, cfg.MockEnabled)
	assert.Contains(t, cfg.FilePlaceholders, "placeholder")
}

func TestLoadReadsEnvFile(t *testing.T) {
	unsetForTest(t, "CARD_SECRET_KEY", "MPESA_CALLBACK_ALLOWED_IPS")
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CARD_SECRET_KEY=sk_test_123\nMPESA_CALLBACK_ALLOWED_IPS=196.201.214.200, 196.201.214.206\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Card.Enabled())
	assert.Equal(t, []string{"196.201.214.200", "196.201.214.206"}, cfg.MobileMoney.AllowedCallbackIPs)
}

func TestTrustedProxies(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.0.0.7/8, 192.168.1.10")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Len(t, cfg.TrustedProxies, 2)
	assert.Equal(t, "10.0.0.0/8", cfg.TrustedProxies[0].String())
	assert.Equal(t, "192.168.1.10/32", cfg.TrustedProxies[1].String())
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"STORAGE_DRIVER":      "postgres",
		"PENDING_TTL":         "soon",
		"MPESA_PHONE_PATTERN": "^(254",
		"TRUSTED_PROXIES":     "10.0.0.0/33",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestMongoRequiresURI(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "mongo")
	t.Setenv("MONGOURI", "")
	_, err := FromEnv()
	assert.ErrorContains(t, err, "MONGOURI")
}

// unsetForTest removes keys for the duration of the test; godotenv never
// overrides a variable that is already present, even when empty.
func unsetForTest(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		prev, ok := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if ok {
				os.Setenv(k, prev)
			} else {
				os.Unsetenv(k)
			}
		})
	}
}
