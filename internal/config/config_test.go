package config

import (
	"errors"
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "BANK_PREFIX", "EST")
	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "CENTRAL_BANK_URL")
	unsetEnvWithCleanup(t, "TEST_MODE")
	unsetEnvWithCleanup(t, "KEY_ROTATE_ON_START")
	unsetEnvWithCleanup(t, "B2B_RATE_LIMIT_PER_MINUTE")
	unsetEnvWithCleanup(t, "TRANSFER_DELIVERY_TIMEOUT_SECONDS")
	unsetEnvWithCleanup(t, "TRANSFER_DELIVERY_MAX_ATTEMPTS")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("default ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.CentralBankURL != "https://henno.cfd/central-bank" {
		t.Fatalf("default CentralBankURL = %q", cfg.CentralBankURL)
	}
	if cfg.TestMode {
		t.Fatal("TestMode must default to false")
	}
	if cfg.KeyRotateOnStart {
		t.Fatal("KeyRotateOnStart must default to false")
	}
	if cfg.B2BRateLimitPerMinute != 60 {
		t.Fatalf("default B2BRateLimitPerMinute = %d, want 60", cfg.B2BRateLimitPerMinute)
	}
	if cfg.TransferDeliveryTimeoutSecs != 5 {
		t.Fatalf("default TransferDeliveryTimeoutSecs = %d, want 5", cfg.TransferDeliveryTimeoutSecs)
	}
	if cfg.TransferDeliveryMaxAttempts != 3 {
		t.Fatalf("default TransferDeliveryMaxAttempts = %d, want 3", cfg.TransferDeliveryMaxAttempts)
	}
}

func TestLoadConfig_RequiresBankPrefix(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "BANK_PREFIX")

	_, err := LoadConfig(t.TempDir())
	if !errors.Is(err, ErrMissingBankPrefix) {
		t.Fatalf("expected ErrMissingBankPrefix, got %v", err)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "BANK_PREFIX", "EST")
	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("ServerPort = %q, want PORT override 9090", cfg.ServerPort)
	}
}

func TestLoadConfig_TrimsCentralBankURL(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "BANK_PREFIX", "EST")
	setEnvWithCleanup(t, "CENTRAL_BANK_URL", "https://registry.example/central-bank/")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.CentralBankURL != "https://registry.example/central-bank" {
		t.Fatalf("CentralBankURL = %q, want trailing slash trimmed", cfg.CentralBankURL)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			os.Setenv(key, prev)
		} else {
			os.Unsetenv(key)
		}
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			os.Setenv(key, prev)
		}
	})
}
