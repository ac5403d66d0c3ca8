// Package bootstrap wires configuration into connections, stores and the application logger
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/amirphl/Kura/config"
	"github.com/amirphl/Kura/migrations"
	"github.com/amirphl/Kura/repository"
	_ "github.com/lib/pq" // PostgreSQL driver for database/sql
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Stores holds the repositories selected by configuration and the connections behind them
type Stores struct {
	Counters  repository.CounterRepository
	Documents repository.DocumentRepository

	DB    *gorm.DB
	Redis *redis.Client
	Mongo *mongo.Client

	closers []func() error
}

// Close releases every connection opened by OpenStores
func (s *Stores) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// OpenStores connects the backends named in cfg.Store and builds the repositories on top of them
func OpenStores(ctx context.Context, cfg *config.ProductionConfig, lg *log.Logger) (*Stores, error) {
	s := &Stores{}

	if cfg.UsesBackend(config.BackendPostgres) {
		if cfg.Database.AutoMigrate {
			if err := RunMigrations(ctx, cfg.Database, lg); err != nil {
				return nil, err
			}
		}
		db, err := InitializeDatabase(cfg.Database, lg)
		if err != nil {
			return nil, err
		}
		s.DB = db
		s.closers = append(s.closers, func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
	}

	if cfg.Store.CounterBackend == config.BackendRedis || cfg.Cache.Enabled {
		rc, err := InitializeCache(ctx, cfg.Cache, lg)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.Redis = rc
		s.closers = append(s.closers, rc.Close)
	}

	if cfg.UsesBackend(config.BackendMongo) {
		mc, err := InitializeMongo(ctx, cfg.Mongo, lg)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.Mongo = mc
		s.closers = append(s.closers, func() error {
			c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return mc.Disconnect(c)
		})
	}

	var err error
	if s.Counters, err = s.counterRepository(cfg); err != nil {
		_ = s.Close()
		return nil, err
	}
	if s.Documents, err = s.documentRepository(cfg); err != nil {
		_ = s.Close()
		return nil, err
	}

	lg.Printf("Stores ready: documents=%s counters=%s", cfg.Store.DocumentBackend, cfg.Store.CounterBackend)
	return s, nil
}

// Ping checks every open connection
func (s *Stores) Ping(ctx context.Context) error {
	if s.DB != nil {
		sqlDB, err := s.DB.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if s.Mongo != nil {
		if err := s.Mongo.Ping(ctx, nil); err != nil {
			return fmt.Errorf("mongo: %w", err)
		}
	}
	return nil
}

func (s *Stores) counterRepository(cfg *config.ProductionConfig) (repository.CounterRepository, error) {
	switch cfg.Store.CounterBackend {
	case config.BackendPostgres:
		return repository.NewCounterRepository(s.DB), nil
	case config.BackendRedis:
		return repository.NewRedisCounterRepository(s.Redis, cfg.Cache.RedisPrefix), nil
	case config.BackendMongo:
		return repository.NewMongoCounterRepository(s.Mongo.Database(cfg.Mongo.Database)), nil
	case config.BackendMemory:
		return repository.NewMemoryCounterRepository(), nil
	}
	return nil, fmt.Errorf("unsupported counter backend %q", cfg.Store.CounterBackend)
}

func (s *Stores) documentRepository(cfg *config.ProductionConfig) (repository.DocumentRepository, error) {
	switch cfg.Store.DocumentBackend {
	case config.BackendPostgres:
		return repository.NewDocumentRepository(s.DB), nil
	case config.BackendMongo:
		return repository.NewMongoDocumentRepository(s.Mongo.Database(cfg.Mongo.Database)), nil
	case config.BackendMemory:
		return repository.NewMemoryDocumentRepository(), nil
	}
	return nil, fmt.Errorf("unsupported document backend %q", cfg.Store.DocumentBackend)
}

// InitializeDatabase initializes the database connection with connection pooling
func InitializeDatabase(cfg config.DatabaseConfig, lg *log.Logger) (*gorm.DB, error) {
	gormLogger := logger.New(lg, logger.Config{
		SlowThreshold:             cfg.SlowQueryTime,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
	if !cfg.SlowQueryLog {
		gormLogger = gormLogger.LogMode(logger.Error)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	lg.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// RunMigrations applies the embedded SQL migrations that have not run yet
func RunMigrations(ctx context.Context, cfg config.DatabaseConfig, lg *log.Logger) error {
	sqlDB, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer sqlDB.Close()

	applied, err := migrations.Apply(ctx, sqlDB, lg)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	lg.Printf("Migrations up to date (%d applied)", applied)
	return nil
}

// InitializeCache initializes the redis client and verifies connectivity
func InitializeCache(ctx context.Context, cfg config.CacheConfig, lg *log.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}

	rc := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	lg.Printf("Redis connection established (db=%d)", opt.DB)
	return rc, nil
}

// InitializeMongo connects to MongoDB and verifies the primary is reachable
func InitializeMongo(ctx context.Context, cfg config.MongoConfig, lg *log.Logger) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	lg.Printf("MongoDB connection established (database=%s)", cfg.Database)
	return client, nil
}

// StartCacheHealthMonitor periodically pings redis to surface connectivity issues.
// The returned function stops the monitor.
func StartCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration, lg *log.Logger) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if client == nil {
		return cancel
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					lg.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// NewLogger builds the application logger on stdout, a rotated file, or both.
// The returned closer releases the file.
func NewLogger(cfg config.LoggingConfig) (*log.Logger, io.Closer) {
	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if cfg.Output == "file" || cfg.Output == "both" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		closer = rotating
		if cfg.Output == "file" {
			w = rotating
		} else {
			w = io.MultiWriter(os.Stdout, rotating)
		}
	}

	return log.New(w, "", log.LstdFlags|log.LUTC|log.Lmicroseconds), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
