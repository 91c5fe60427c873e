package cmd

import (
	"bytes"
	"encoding/base64"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/config"
)

func TestServeOptions_Validate(t *testing.T) {
	for _, mode := range []struct{ driver, auth string }{
		{config.DriverMemory, config.AuthHeader},
		{config.DriverSQL, config.AuthAPIKey},
		{config.DriverRedis, config.AuthHeader},
	} {
		cfg := config.Default()
		cfg.Storage.Driver = mode.driver
		cfg.Auth.Mode = mode.auth
		if err := fx.ValidateApp(serveOptions(cfg, zap.NewNop())); err != nil {
			t.Errorf("ValidateApp(%s/%s) error = %v", mode.driver, mode.auth, err)
		}
	}
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("crudql %s error = %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestKeysLifecycle(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	t.Setenv("CRUDQL_HMAC_SECRET", "0190a1b2c3d4e5f60718293a4b5c6d7e:"+secret)
	dbURL := "sqlite://" + filepath.Join(t.TempDir(), "keys.db")

	out := run(t, "keys", "create", "--db-url", dbURL, "--principal", "svc-report", "--roles", "support,Sales")
	if !strings.Contains(out, "roles:     sales,support") || !strings.Contains(out, "key:       cq-v1-") {
		t.Fatalf("keys create output:\n%s", out)
	}
	var id string
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "id:"); ok {
			id = strings.TrimSpace(rest)
		}
	}

	run(t, "keys", "revoke", "--db-url", dbURL, id)

	out = run(t, "keys", "list", "--db-url", dbURL)
	if !strings.Contains(out, "svc-report") || strings.Count(out, "\n") != 2 {
		t.Errorf("keys list output:\n%s", out)
	}
}

func TestMigrateStatus(t *testing.T) {
	dbURL := "sqlite://" + filepath.Join(t.TempDir(), "m.db")
	run(t, "migrate", "--db-url", dbURL)
	out := run(t, "migrate", "status", "--db-url", dbURL)
	if strings.Contains(out, "pending") || !strings.Contains(out, "applied") {
		t.Errorf("migrate status output:\n%s", out)
	}
}
