package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *ProductionConfig {
	return &ProductionConfig{
		Database: DatabaseConfig{Host: "localhost", Port: 5432, Name: "kura", User: "postgres", Password: "secret"},
		Mongo:    MongoConfig{URI: "mongodb://localhost:27017", Database: "kura"},
		Cache:    CacheConfig{RedisURL: "redis://localhost:6379"},
		Store:    StoreConfig{DocumentBackend: BackendPostgres, CounterBackend: BackendPostgres},
		IDGen:    IDGenConfig{DefaultWidth: 8},
		Server:   ServerConfig{Port: 8080, ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second},
		JWT:      JWTConfig{SecretKey: "0123456789abcdef0123456789abcdef", TokenTTL: time.Hour},
		Logging:  LoggingConfig{Level: "info", Output: "stdout"},
		Deployment: DeploymentConfig{
			Environment: "production",
		},
	}
}

func TestValidateProductionConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ProductionConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*ProductionConfig) {}},
		{
			name:    "unknown document backend",
			mutate:  func(c *ProductionConfig) { c.Store.DocumentBackend = "redis" },
			wantErr: "STORE_DOCUMENT_BACKEND",
		},
		{
			name:    "unknown counter backend",
			mutate:  func(c *ProductionConfig) { c.Store.CounterBackend = "sqlite" },
			wantErr: "STORE_COUNTER_BACKEND",
		},
		{
			name:    "memory in production",
			mutate:  func(c *ProductionConfig) { c.Store.CounterBackend = BackendMemory },
			wantErr: "memory backends",
		},
		{
			name: "memory outside production",
			mutate: func(c *ProductionConfig) {
				c.Deployment.Environment = "development"
				c.Store.DocumentBackend = BackendMemory
				c.Store.CounterBackend = BackendMemory
				c.Database = DatabaseConfig{}
			},
		},
		{
			name:    "postgres needs password",
			mutate:  func(c *ProductionConfig) { c.Database.Password = "" },
			wantErr: "DB_PASSWORD",
		},
		{
			name: "mongo needs database",
			mutate: func(c *ProductionConfig) {
				c.Store.DocumentBackend = BackendMongo
				c.Mongo.Database = ""
			},
			wantErr: "MONGO_DATABASE",
		},
		{
			name: "redis counters need url",
			mutate: func(c *ProductionConfig) {
				c.Store.CounterBackend = BackendRedis
				c.Cache.RedisURL = ""
			},
			wantErr: "CACHE_REDIS_URL",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *ProductionConfig) { c.JWT.SecretKey = "short" },
			wantErr: "JWT_SECRET_KEY",
		},
		{
			name:    "rsa without keys",
			mutate:  func(c *ProductionConfig) { c.JWT.UseRSAKeys = true },
			wantErr: "JWT_PRIVATE_KEY",
		},
		{
			name:    "id width out of range",
			mutate:  func(c *ProductionConfig) { c.IDGen.DefaultWidth = 20 },
			wantErr: "IDGEN_DEFAULT_WIDTH",
		},
		{
			name:    "bad log output",
			mutate:  func(c *ProductionConfig) { c.Logging.Output = "syslog" },
			wantErr: "LOG_OUTPUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := ValidateProductionConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateProductionConfig_AggregatesErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.JWT.SecretKey = ""

	err := ValidateProductionConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_PORT")
	assert.Contains(t, err.Error(), "JWT_SECRET_KEY")
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("KURA_TEST_INT", "42")
	t.Setenv("KURA_TEST_BAD_INT", "forty-two")
	t.Setenv("KURA_TEST_BOOL", "true")
	t.Setenv("KURA_TEST_DURATION", "90s")
	t.Setenv("KURA_TEST_SLICE", " a, b ,,c ")

	assert.Equal(t, 42, getEnvInt("KURA_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("KURA_TEST_BAD_INT", 1))
	assert.True(t, getEnvBool("KURA_TEST_BOOL", false))
	assert.Equal(t, 90*time.Second, getEnvDuration("KURA_TEST_DURATION", time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, getEnvStringSlice("KURA_TEST_SLICE", nil))
	assert.Equal(t, "fallback", getEnvString("KURA_TEST_UNSET", "fallback"))
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("KURA_TEST_FROM_FILE=loaded\n"), 0o600))
	t.Setenv("KURA_TEST_FROM_FILE", "")
	require.NoError(t, os.Unsetenv("KURA_TEST_FROM_FILE"))

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "loaded", os.Getenv("KURA_TEST_FROM_FILE"))

	assert.NoError(t, loadEnvFile(filepath.Join(dir, "missing.env")))
}
