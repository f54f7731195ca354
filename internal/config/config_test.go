package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "model_config.toml", cfg.Models.ConfigPath)
	assert.Equal(t, "default", cfg.Models.DefaultGroup)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, "us-east-1", cfg.SES.Region)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
database:
  host: db.internal
  port: 5433
  name: mailagent
  user: svc
delivery:
  service_domain: mail.example.io
  skip_addresses:
    - noreply@example.io
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "mail.example.io", cfg.Delivery.ServiceDomain)
	assert.Equal(t, []string{"noreply@example.io"}, cfg.Delivery.SkipAddresses)
	// Unset fields keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadMissingFileIsFine(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.NoError(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("DB_HOST", "env-db")
	t.Setenv("KV_PORT", "6380")
	t.Setenv("WHITELIST_ENABLED", "true")
	t.Setenv("SKIP_EMAIL_DELIVERY", "1")
	t.Setenv("WORKER_CONCURRENCY", "8")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env-db", cfg.Database.Host)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.True(t, cfg.Whitelist.Enabled)
	assert.True(t, cfg.Delivery.Skip)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
}

func TestSkipDeliveryEnvForms(t *testing.T) {
	// Boolean form disables all outbound delivery.
	t.Setenv("SKIP_EMAIL_DELIVERY", "true")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Delivery.Skip)
	assert.Empty(t, cfg.Delivery.SkipAddresses)

	// List form suppresses only the named recipients.
	t.Setenv("SKIP_EMAIL_DELIVERY", "qa@example.com, loadtest@example.com")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Delivery.Skip)
	assert.Equal(t, []string{"qa@example.com", "loadtest@example.com"}, cfg.Delivery.SkipAddresses)
}

func TestVerifyURLEnvAliases(t *testing.T) {
	t.Setenv("FRONTEND_URL", "https://app.example.io")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.io", cfg.Whitelist.VerifyBaseURL)

	// The signup-specific key wins over the generic frontend base.
	t.Setenv("WHITELIST_SIGNUP_URL", "https://app.example.io/signup")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.io/signup", cfg.Whitelist.VerifyBaseURL)
}

func TestProdValidation(t *testing.T) {
	t.Setenv("IS_PROD", "true")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "X_API_KEY")

	t.Setenv("X_API_KEY", "secret")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	t.Setenv("JWT_SECRET", "jwt-secret")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.IsProd)
}

func TestQueueDSN(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Database = DatabaseConfig{Host: "main", Port: 5432, Name: "app", User: "u", Password: "p"}

	// Without a broker, the queue shares the main database.
	assert.Equal(t, cfg.Database.DSN(), cfg.QueueDSN())

	t.Setenv("BROKER_HOST", "queue-db")
	t.Setenv("BROKER_USER", "qu")
	t.Setenv("BROKER_PASSWORD", "qp")
	t.Setenv("BROKER_VHOST", "jobs")
	cfg, err = Load("")
	require.NoError(t, err)
	cfg.Database.SSLMode = "disable"

	dsn := cfg.QueueDSN()
	assert.Contains(t, dsn, "host=queue-db")
	assert.Contains(t, dsn, "port=5432")
	assert.Contains(t, dsn, "dbname=jobs")
	assert.Contains(t, dsn, "user=qu")
}

func TestDSNAndAddr(t *testing.T) {
	db := DatabaseConfig{Host: "h", Port: 5432, Name: "n", User: "u", Password: "p"}
	assert.Equal(t, "host=h port=5432 dbname=n user=u password=p sslmode=disable", db.DSN())

	db.SSLMode = "require"
	assert.Contains(t, db.DSN(), "sslmode=require")

	r := RedisConfig{Host: "localhost", Port: 6379}
	assert.Equal(t, "localhost:6379", r.Addr())
}
