package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gavel/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgreSQL error codes
const (
	pgErrUniqueViolation      = "23505"
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
	pgErrLockNotAvailable     = "55P03"
)

// lockTimeout bounds how long a transaction waits for another instance's
// row lock before giving up with ErrConflict.
const lockTimeout = 2 * time.Second

// PostgresRepository implements Repository on PostgreSQL. Product rows are
// locked with SELECT ... FOR UPDATE for the duration of InProductTx.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// Compile-time interface check.
var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository connects to PostgreSQL and verifies the connection.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresRepository{Pool: pool}, nil
}

// Close closes the connection pool.
func (r *PostgresRepository) Close() {
	r.Pool.Close()
}

// Migrate applies all embedded SQL files in lexical order.
// Migrations are expected to be idempotent.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := fs.ReadFile(migrationsFS, "migrations/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if _, err := r.Pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}

const productColumns = `
	id, seller_id, title, start_price, step_price, buy_now_price,
	current_price, current_winner_id, bid_count, status, end_time, auto_extend,
	extend_trigger_minutes, extend_duration_minutes, version, created_at, updated_at`

const bidColumns = `
	id, product_id, bidder_id, max_amount, visible_amount, is_auto_bid, seq, created_at`

func (r *PostgresRepository) CreateProduct(ctx context.Context, p *model.Product) error {
	if p == nil || p.ID == uuid.Nil {
		return ErrInvalidInput
	}

	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO products (
			id, seller_id, title, start_price, step_price, buy_now_price,
			current_price, current_winner_id, bid_count, status, end_time, auto_extend,
			extend_trigger_minutes, extend_duration_minutes, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, 0, $15, $15
		)
	`
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = tx.Exec(ctx, query,
		p.ID, p.SellerID, p.Title, p.StartPrice, p.StepPrice, p.BuyNowPrice,
		p.CurrentPrice, p.CurrentWinnerID, p.BidCount, string(p.Status), p.EndTime, p.AutoExtend,
		p.ExtendTriggerMinutes, p.ExtendDurationMinutes, createdAt,
	)
	if err != nil {
		return classify("insert product", err)
	}

	for _, bidderID := range p.DeniedBidderIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO denied_bidders (product_id, bidder_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			p.ID, bidderID,
		); err != nil {
			return classify("insert denied bidder", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetProduct(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	if p.DeniedBidderIDs, err = loadDenied(ctx, r.Pool, id); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PostgresRepository) DenyBidder(ctx context.Context, productID, bidderID uuid.UUID) error {
	tag, err := r.Pool.Exec(ctx, `
		INSERT INTO denied_bidders (product_id, bidder_id)
		SELECT id, $2 FROM products WHERE id = $1
		ON CONFLICT DO NOTHING
	`, productID, bidderID)
	if err != nil {
		return classify("deny bidder", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetProduct(ctx, productID); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) ListBids(ctx context.Context, productID uuid.UUID, offset, limit int) ([]model.Bid, int, error) {
	var total int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM bids WHERE product_id = $1`, productID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bids: %w", err)
	}

	rows, err := r.Pool.Query(ctx, `
		SELECT `+bidColumns+`
		FROM bids
		WHERE product_id = $1
		ORDER BY visible_amount DESC, created_at ASC, seq ASC
		OFFSET $2 LIMIT $3
	`, productID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()

	bids, err := scanBids(rows)
	if err != nil {
		return nil, 0, err
	}
	return bids, total, nil
}

func (r *PostgresRepository) LastBid(ctx context.Context, productID uuid.UUID) (*model.Bid, error) {
	row := r.Pool.QueryRow(ctx, `
		SELECT `+bidColumns+`
		FROM bids
		WHERE product_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, productID)

	var b model.Bid
	if err := scanBid(row, &b); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get last bid: %w", err)
	}
	return &b, nil
}

func (r *PostgresRepository) ExpiredProductIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT id FROM products
		WHERE status = 'ACTIVE' AND end_time <= $1
		ORDER BY end_time ASC, id ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired products: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired product id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired products: %w", err)
	}
	return ids, nil
}

func (r *PostgresRepository) LoadSettings(ctx context.Context) (model.AuctionSettings, error) {
	var s model.AuctionSettings
	err := r.Pool.QueryRow(ctx, `
		SELECT auto_extend_trigger_minutes, auto_extend_duration_minutes
		FROM auction_settings WHERE id = 1
	`).Scan(&s.AutoExtendTriggerMinutes, &s.AutoExtendDurationMinutes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AuctionSettings{}, ErrNotFound
		}
		return model.AuctionSettings{}, fmt.Errorf("load auction settings: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) BidderRating(ctx context.Context, userID uuid.UUID) (model.BidderRating, error) {
	rating := model.BidderRating{UserID: userID}
	err := r.Pool.QueryRow(ctx, `SELECT positive, negative FROM user_ratings WHERE user_id = $1`, userID).
		Scan(&rating.Positive, &rating.Negative)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BidderRating{}, ErrNotFound
		}
		return model.BidderRating{}, fmt.Errorf("get bidder rating: %w", err)
	}
	return rating, nil
}

func (r *PostgresRepository) InProductTx(ctx context.Context, productID uuid.UUID, fn func(tx ProductTx) error) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds())); err != nil {
		return classify("set lock timeout", err)
	}

	row := tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, productID)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return classify("lock product", err)
	}
	if p.DeniedBidderIDs, err = loadDenied(ctx, tx, productID); err != nil {
		return err
	}

	if err := fn(&postgresTx{tx: tx, product: p}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify("commit tx", err)
	}
	return nil
}

type postgresTx struct {
	tx      pgx.Tx
	product *model.Product
}

func (t *postgresTx) Product() *model.Product { return t.product.Clone() }

func (t *postgresTx) Bids(ctx context.Context) ([]model.Bid, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+bidColumns+`
		FROM bids
		WHERE product_id = $1
		ORDER BY seq ASC
	`, t.product.ID)
	if err != nil {
		return nil, classify("read ledger", err)
	}
	defer rows.Close()
	return scanBids(rows)
}

func (t *postgresTx) AppendBid(ctx context.Context, b *model.Bid) error {
	if b == nil || b.ID == uuid.Nil || b.ProductID != t.product.ID {
		return ErrInvalidInput
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO bids (id, product_id, bidder_id, max_amount, visible_amount, is_auto_bid, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`, b.ID, b.ProductID, b.BidderID, b.MaxAmount, b.VisibleAmount, b.IsAutoBid, b.CreatedAt).Scan(&b.Seq)
	if err != nil {
		return classify("append bid", err)
	}
	return nil
}

func (t *postgresTx) SaveProduct(ctx context.Context, p *model.Product) error {
	if p == nil || p.ID != t.product.ID {
		return ErrInvalidInput
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE products SET
			current_price = $2,
			current_winner_id = $3,
			bid_count = $4,
			status = $5,
			end_time = $6,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $7
	`, p.ID, p.CurrentPrice, p.CurrentWinnerID, p.BidCount, string(p.Status), p.EndTime, t.product.Version)
	if err != nil {
		return classify("update product", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadDenied(ctx context.Context, q querier, productID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, `SELECT bidder_id FROM denied_bidders WHERE product_id = $1`, productID)
	if err != nil {
		return nil, classify("load denied bidders", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan denied bidder: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate denied bidders: %w", err)
	}
	return ids, nil
}

// scanProduct scans a single row into a Product.
func scanProduct(row pgx.Row) (*model.Product, error) {
	var p model.Product
	var status string
	err := row.Scan(
		&p.ID, &p.SellerID, &p.Title, &p.StartPrice, &p.StepPrice, &p.BuyNowPrice,
		&p.CurrentPrice, &p.CurrentWinnerID, &p.BidCount, &status, &p.EndTime, &p.AutoExtend,
		&p.ExtendTriggerMinutes, &p.ExtendDurationMinutes, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = model.Status(status)
	return &p, nil
}

func scanBid(row pgx.Row, b *model.Bid) error {
	return row.Scan(
		&b.ID, &b.ProductID, &b.BidderID, &b.MaxAmount, &b.VisibleAmount, &b.IsAutoBid, &b.Seq, &b.CreatedAt,
	)
}

// scanBids scans multiple rows into a slice of Bid.
func scanBids(rows pgx.Rows) ([]model.Bid, error) {
	bids := []model.Bid{}
	for rows.Next() {
		var b model.Bid
		if err := scanBid(rows, &b); err != nil {
			return nil, fmt.Errorf("scan bid row: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bid rows: %w", err)
	}
	return bids, nil
}

// classify maps PostgreSQL error codes onto the package sentinels.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrSerializationFailure, pgErrDeadlockDetected, pgErrLockNotAvailable:
			return fmt.Errorf("%s: %w", op, ErrConflict)
		case pgErrUniqueViolation:
			return fmt.Errorf("%s: %w", op, ErrDuplicateKey)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
