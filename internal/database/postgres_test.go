package database

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"gavel/internal/model"
)

var (
	pgRepo *PostgresRepository
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	// Start a disposable PostgreSQL; without Docker the postgres tests skip.
	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		log.Printf("could not start postgres container, skipping postgres tests: %s", err)
		os.Exit(m.Run())
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("could not get connection string: %s", err)
	}

	pgRepo, err = NewPostgresRepository(ctx, connStr)
	if err != nil {
		log.Fatalf("could not connect to database: %s", err)
	}
	if err := pgRepo.Migrate(ctx); err != nil {
		log.Fatalf("could not migrate: %s", err)
	}

	code := m.Run()

	pgRepo.Close()
	if err := pgContainer.Terminate(ctx); err != nil {
		log.Printf("could not stop postgres container: %s", err)
	}
	os.Exit(code)
}

func requirePostgres(t *testing.T) *PostgresRepository {
	t.Helper()
	if pgRepo == nil {
		t.Skip("postgres container not available")
	}
	return pgRepo
}

func TestPostgresRepository_Contract(t *testing.T) {
	repo := requirePostgres(t)
	ctx := context.Background()

	runRepositoryContract(t, func(t *testing.T) Repository {
		_, err := repo.Pool.Exec(ctx, `TRUNCATE bids, denied_bidders, products, auction_settings, user_ratings`)
		require.NoError(t, err)
		return repo
	})
}

func TestPostgresRepository_MigrateIsIdempotent(t *testing.T) {
	repo := requirePostgres(t)
	assert.NoError(t, repo.Migrate(context.Background()))
}

func TestPostgresRepository_LedgerIsAppendOnly(t *testing.T) {
	repo := requirePostgres(t)
	ctx := context.Background()

	p := newTestProduct(time.Now().UTC().Add(time.Hour))
	require.NoError(t, repo.CreateProduct(ctx, p))
	bid := appendAccepted(t, repo, p.ID, uuid.New(), 1200, 1000, time.Now().UTC())

	_, err := repo.Pool.Exec(ctx, `UPDATE bids SET max_amount = 1 WHERE id = $1`, bid.ID)
	assert.Error(t, err)
	_, err = repo.Pool.Exec(ctx, `DELETE FROM bids WHERE id = $1`, bid.ID)
	assert.Error(t, err)
}

func TestPostgresRepository_StaleVersionConflicts(t *testing.T) {
	repo := requirePostgres(t)
	ctx := context.Background()

	p := newTestProduct(time.Now().UTC().Add(time.Hour))
	require.NoError(t, repo.CreateProduct(ctx, p))

	err := repo.InProductTx(ctx, p.ID, func(tx ProductTx) error {
		stale := tx.Product()
		pt := tx.(*postgresTx)
		pt.product.Version = stale.Version - 1
		return tx.SaveProduct(ctx, stale)
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPostgresRepository_SettingsAndRatings(t *testing.T) {
	repo := requirePostgres(t)
	ctx := context.Background()

	_, err := repo.Pool.Exec(ctx, `
		INSERT INTO auction_settings (id, auto_extend_trigger_minutes, auto_extend_duration_minutes)
		VALUES (1, 3, 6)
		ON CONFLICT (id) DO UPDATE SET auto_extend_trigger_minutes = 3, auto_extend_duration_minutes = 6
	`)
	require.NoError(t, err)

	s, err := repo.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.AuctionSettings{AutoExtendTriggerMinutes: 3, AutoExtendDurationMinutes: 6}, s)

	user := uuid.New()
	_, err = repo.Pool.Exec(ctx, `INSERT INTO user_ratings (user_id, positive, negative) VALUES ($1, 9, 1)`, user)
	require.NoError(t, err)

	r, err := repo.BidderRating(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 9, r.Positive)
	assert.Equal(t, 1, r.Negative)
}
