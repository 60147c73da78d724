package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/shortlink/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrLinkNotFound     = errors.New("link not found")
	ErrAliasExists      = errors.New("alias already exists")
	ErrNotOwner         = errors.New("link belongs to another owner")
	ErrAlreadyAllocated = errors.New("link is no longer pending")
)

// uniqueViolation SQLSTATE 23505
const uniqueViolation = "23505"

type LinkRepository interface {
	Create(ctx context.Context, link *models.ShortLink) error
	GetByID(ctx context.Context, id int64) (*models.ShortLink, error)
	GetByCode(ctx context.Context, code string) (*models.ShortLink, error)
	ListByOwner(ctx context.Context, owner string, limit, offset int) ([]models.ShortLink, error)
	UpdateAfterAllocation(ctx context.Context, id int64, shortKey *string, status models.LinkStatus, qrArtifact *string) error
	IncrementClicks(ctx context.Context, id int64) (int64, error)
	UpdateExpiration(ctx context.Context, id int64, owner string, expiresAt *time.Time) error
	Delete(ctx context.Context, id int64, owner string) error
	DeleteOwner(ctx context.Context, owner string) ([]models.ShortLink, error)
}

type linkRepository struct {
	db *PostgresDB
}

func NewLinkRepository(db *PostgresDB) LinkRepository {
	return &linkRepository{db: db}
}

const linkColumns = `id, owner_id, original_url, short_key, custom_key, status,
	click_count, created_at, expiration_date, qr_code`

// Create inserts a pending link. The owner row and the custom alias are written
// in the same transaction, so a taken alias leaves nothing behind.
func (r *linkRepository) Create(ctx context.Context, link *models.ShortLink) error {
	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO owners (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
			link.Owner,
		); err != nil {
			return err
		}

		query := `
			INSERT INTO links (owner_id, original_url, custom_key, expiration_date)
			VALUES ($1, $2, $3, $4)
			RETURNING id, status, click_count, created_at
		`
		var status string
		if err := tx.QueryRow(ctx, query,
			link.Owner,
			link.OriginalURL,
			link.CustomKey,
			link.ExpirationDate,
		).Scan(&link.ID, &status, &link.ClickCount, &link.CreatedAt); err != nil {
			return err
		}
		link.Status = models.LinkStatus(status)

		if link.CustomKey != nil {
			if _, err := tx.Exec(ctx,
				`INSERT INTO link_aliases (alias, link_id) VALUES ($1, $2)`,
				*link.CustomKey, link.ID,
			); err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		if isUniqueViolation(err) {
			return ErrAliasExists
		}
		return fmt.Errorf("failed to create link: %w", err)
	}

	return nil
}

func (r *linkRepository) GetByID(ctx context.Context, id int64) (*models.ShortLink, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE id = $1`

	link, err := scanLink(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}

	return link, nil
}

// GetByCode matches either alias column. Aliases are unique across both
// columns, ORDER BY id only keeps the result deterministic if that ever breaks.
func (r *linkRepository) GetByCode(ctx context.Context, code string) (*models.ShortLink, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE short_key = $1 OR custom_key = $1
		ORDER BY id
		LIMIT 1
	`

	link, err := scanLink(r.db.Pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}

	return link, nil
}

func (r *linkRepository) ListByOwner(ctx context.Context, owner string, limit, offset int) ([]models.ShortLink, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	links := []models.ShortLink{}
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, *link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating links: %w", err)
	}

	return links, nil
}

// UpdateAfterAllocation applies the allocator's single mutation. It only
// touches pending rows, so a redelivered job cannot assign a second key.
func (r *linkRepository) UpdateAfterAllocation(
	ctx context.Context,
	id int64,
	shortKey *string,
	status models.LinkStatus,
	qrArtifact *string,
) error {
	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		query := `
			UPDATE links
			SET short_key = COALESCE($2, short_key),
				status = $3,
				qr_code = COALESCE($4, qr_code)
			WHERE id = $1 AND status = 'pending'
		`
		result, err := tx.Exec(ctx, query, id, shortKey, string(status), qrArtifact)
		if err != nil {
			return err
		}

		if result.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM links WHERE id = $1)`, id,
			).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrLinkNotFound
			}
			return ErrAlreadyAllocated
		}

		if shortKey != nil {
			if _, err := tx.Exec(ctx,
				`INSERT INTO link_aliases (alias, link_id) VALUES ($1, $2)`,
				*shortKey, id,
			); err != nil {
				return err
			}
		}

		return nil
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrLinkNotFound), errors.Is(err, ErrAlreadyAllocated):
		return err
	case isUniqueViolation(err):
		return ErrAliasExists
	default:
		return fmt.Errorf("failed to update link after allocation: %w", err)
	}
}

// IncrementClicks is a single atomic UPDATE; concurrent redirects serialize on the row lock.
func (r *linkRepository) IncrementClicks(ctx context.Context, id int64) (int64, error) {
	query := `UPDATE links SET click_count = click_count + 1 WHERE id = $1 RETURNING click_count`

	var clicks int64
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&clicks)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrLinkNotFound
		}
		return 0, fmt.Errorf("failed to increment clicks: %w", err)
	}

	return clicks, nil
}

func (r *linkRepository) UpdateExpiration(ctx context.Context, id int64, owner string, expiresAt *time.Time) error {
	query := `UPDATE links SET expiration_date = $3 WHERE id = $1 AND owner_id = $2`

	result, err := r.db.Pool.Exec(ctx, query, id, owner, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to update expiration: %w", err)
	}

	if result.RowsAffected() == 0 {
		return r.ownershipError(ctx, id, owner)
	}

	return nil
}

func (r *linkRepository) Delete(ctx context.Context, id int64, owner string) error {
	query := `DELETE FROM links WHERE id = $1 AND owner_id = $2`

	result, err := r.db.Pool.Exec(ctx, query, id, owner)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}

	if result.RowsAffected() == 0 {
		return r.ownershipError(ctx, id, owner)
	}

	return nil
}

// DeleteOwner removes the owner row; links and aliases go with it through
// ON DELETE CASCADE. Returns the removed links so callers can release
// their aliases and artifacts.
func (r *linkRepository) DeleteOwner(ctx context.Context, owner string) ([]models.ShortLink, error) {
	removed := []models.ShortLink{}

	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT `+linkColumns+` FROM links WHERE owner_id = $1 FOR UPDATE`,
			owner,
		)
		if err != nil {
			return err
		}

		for rows.Next() {
			link, err := scanLink(rows)
			if err != nil {
				rows.Close()
				return err
			}
			removed = append(removed, *link)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `DELETE FROM owners WHERE id = $1`, owner)
		return err
	})

	if err != nil {
		return nil, fmt.Errorf("failed to delete owner: %w", err)
	}

	return removed, nil
}

// ownershipError explains why an owner-scoped statement matched no rows
func (r *linkRepository) ownershipError(ctx context.Context, id int64, owner string) error {
	var actual string
	err := r.db.Pool.QueryRow(ctx, `SELECT owner_id FROM links WHERE id = $1`, id).Scan(&actual)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLinkNotFound
		}
		return fmt.Errorf("failed to check link owner: %w", err)
	}

	if actual != owner {
		return ErrNotOwner
	}

	// Строку изменили между запросами
	return ErrLinkNotFound
}

func scanLink(row pgx.Row) (*models.ShortLink, error) {
	var (
		link   models.ShortLink
		status string
	)

	err := row.Scan(
		&link.ID,
		&link.Owner,
		&link.OriginalURL,
		&link.ShortKey,
		&link.CustomKey,
		&status,
		&link.ClickCount,
		&link.CreatedAt,
		&link.ExpirationDate,
		&link.QRArtifact,
	)
	if err != nil {
		return nil, err
	}

	link.Status = models.LinkStatus(status)
	return &link, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
