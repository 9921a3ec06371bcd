// Package repository selects and opens the configured session store.
// The backends live in the subpackages; this package only wires them.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/engagement-tracker/internal/config"
	"github.com/ignite/engagement-tracker/internal/repository/dynamo"
	"github.com/ignite/engagement-tracker/internal/repository/memory"
	"github.com/ignite/engagement-tracker/internal/repository/postgres"
	"github.com/ignite/engagement-tracker/internal/repository/redisstore"
	"github.com/ignite/engagement-tracker/internal/repository/sqlite"
	"github.com/ignite/engagement-tracker/internal/service/session"
)

// Handle is an open store together with whatever must be released when the
// process exits.
type Handle struct {
	Store   session.Store
	closers []func() error
}

// Close releases every resource the store holds.
func (h *Handle) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	return errors.Join(errs...)
}

// Open connects to the store named by cfg.Store.Type.
func Open(ctx context.Context, cfg *config.Config) (*Handle, error) {
	sc := cfg.Store
	switch sc.Type {
	case "", config.StoreMemory:
		return &Handle{Store: memory.NewStore(nil)}, nil

	case config.StoreSQLite:
		p, err := sqlite.Open(ctx, sc.SQLitePath)
		if err != nil {
			return nil, err
		}
		store := memory.NewStore(p)
		n, err := store.Load(ctx)
		if err != nil {
			p.Close()
			return nil, err
		}
		log.Printf("[repository] loaded %d sessions from %s", n, sc.SQLitePath)
		return &Handle{Store: store, closers: []func() error{p.Close}}, nil

	case config.StoreRedis:
		client, err := openRedis(ctx, sc.RedisURL)
		if err != nil {
			return nil, err
		}
		return &Handle{Store: redisstore.NewStore(client, sc.LockTTL()), closers: []func() error{client.Close}}, nil

	case config.StorePostgres:
		db, err := openPostgres(ctx, sc.DatabaseURL)
		if err != nil {
			return nil, err
		}
		repo := postgres.NewSessionRepo(db)
		if err := repo.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return &Handle{Store: repo, closers: []func() error{db.Close}}, nil

	case config.StoreDynamoDB:
		awsCfg, err := cfg.AWS.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		return &Handle{Store: dynamo.NewStore(dynamodb.NewFromConfig(awsCfg), sc.DynamoDBTable)}, nil

	default:
		return nil, fmt.Errorf("unknown store type %q", sc.Type)
	}
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis store requires store.redis_url")
	}
	var client *redis.Client
	opts, err := redis.ParseURL(url)
	if err != nil {
		client = redis.NewClient(&redis.Options{Addr: url})
	} else {
		client = redis.NewClient(opts)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Printf("[repository] redis connected")
	return client, nil
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres store requires store.database_url")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(3)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(30 * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	log.Printf("[repository] postgres connected")
	return db, nil
}
