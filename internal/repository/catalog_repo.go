package repository

import (
	"context"

	"github.com/carreto/dispatch/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type CatalogRepository interface {
	Upsert(ctx context.Context, item *models.CatalogItem) error
	GetByIDs(ctx context.Context, ids []string) ([]*models.CatalogItem, error)
	ListActive(ctx context.Context) ([]*models.CatalogItem, error)
}

type catalogRepository struct {
	db sqlx.ExtContext
}

func NewCatalogRepository(db sqlx.ExtContext) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) Upsert(ctx context.Context, item *models.CatalogItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	query := `
		INSERT INTO catalog_items (id, name, price, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price, active = EXCLUDED.active
	`
	_, err := r.db.ExecContext(ctx, query, item.ID, item.Name, item.Price, item.Active, item.CreatedAt)
	return err
}

// GetByIDs returns the active items among ids. Unknown or inactive ids are
// simply absent from the result.
func (r *catalogRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.CatalogItem, error) {
	items := []*models.CatalogItem{}
	if len(ids) == 0 {
		return items, nil
	}
	query := `SELECT * FROM catalog_items WHERE id = ANY($1) AND active`
	err := sqlx.SelectContext(ctx, r.db, &items, query, pq.Array(ids))
	return items, err
}

func (r *catalogRepository) ListActive(ctx context.Context) ([]*models.CatalogItem, error) {
	items := []*models.CatalogItem{}
	err := sqlx.SelectContext(ctx, r.db, &items, `SELECT * FROM catalog_items WHERE active ORDER BY name`)
	return items, err
}
