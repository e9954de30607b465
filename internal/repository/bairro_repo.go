package repository

import (
	"context"
	"database/sql"

	"github.com/carreto/dispatch/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type BairroRepository interface {
	Upsert(ctx context.Context, bairro *models.Bairro) error
	GetByID(ctx context.Context, id string) (*models.Bairro, error)
	List(ctx context.Context) ([]*models.Bairro, error)
	AddSurgeWindow(ctx context.Context, w *models.SurgeWindow) error
	ListSurgeWindows(ctx context.Context, bairroID string) ([]models.SurgeWindow, error)
}

type bairroRepository struct {
	db sqlx.ExtContext
}

func NewBairroRepository(db sqlx.ExtContext) BairroRepository {
	return &bairroRepository{db: db}
}

func (r *bairroRepository) Upsert(ctx context.Context, bairro *models.Bairro) error {
	if bairro.ID == "" {
		bairro.ID = uuid.New().String()
	}
	query := `
		INSERT INTO bairros (id, name, rate_per_km, fee_percent_cash, fee_percent_electronic, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			rate_per_km = EXCLUDED.rate_per_km,
			fee_percent_cash = EXCLUDED.fee_percent_cash,
			fee_percent_electronic = EXCLUDED.fee_percent_electronic
	`
	_, err := r.db.ExecContext(ctx, query,
		bairro.ID, bairro.Name, bairro.RatePerKm, bairro.FeePercentCash, bairro.FeePercentElectronic,
		bairro.CreatedAt)
	return err
}

func (r *bairroRepository) GetByID(ctx context.Context, id string) (*models.Bairro, error) {
	var bairro models.Bairro
	query := `SELECT * FROM bairros WHERE id = $1`
	err := sqlx.GetContext(ctx, r.db, &bairro, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bairro, nil
}

func (r *bairroRepository) List(ctx context.Context) ([]*models.Bairro, error) {
	bairros := []*models.Bairro{}
	err := sqlx.SelectContext(ctx, r.db, &bairros, `SELECT * FROM bairros ORDER BY name`)
	return bairros, err
}

func (r *bairroRepository) AddSurgeWindow(ctx context.Context, w *models.SurgeWindow) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	query := `
		INSERT INTO surge_windows (id, bairro_id, start_minute, end_minute, multiplier)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, w.ID, w.BairroID, w.StartMinute, w.EndMinute, w.Multiplier)
	return err
}

// ListSurgeWindows returns the global windows plus those scoped to bairroID.
func (r *bairroRepository) ListSurgeWindows(ctx context.Context, bairroID string) ([]models.SurgeWindow, error) {
	windows := []models.SurgeWindow{}
	query := `
		SELECT * FROM surge_windows
		WHERE bairro_id IS NULL OR bairro_id = $1
		ORDER BY start_minute
	`
	err := sqlx.SelectContext(ctx, r.db, &windows, query, bairroID)
	return windows, err
}
