package repository

import (
	"context"
	"database/sql"

	"github.com/carreto/dispatch/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type DriverRepository interface {
	Create(ctx context.Context, driver *models.Driver) error
	GetByID(ctx context.Context, id string) (*models.Driver, error)
	ListByBairro(ctx context.Context, bairroID string, limit int) ([]*models.Driver, error)
}

type driverRepository struct {
	db sqlx.ExtContext
}

func NewDriverRepository(db sqlx.ExtContext) DriverRepository {
	return &driverRepository{db: db}
}

func (r *driverRepository) Create(ctx context.Context, driver *models.Driver) error {
	if driver.ID == "" {
		driver.ID = uuid.New().String()
	}
	if driver.Rating == 0 {
		driver.Rating = 5.0
	}

	query := `
		INSERT INTO drivers (id, bairro_id, name, phone, vehicle, rating, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		driver.ID, driver.BairroID, driver.Name, driver.Phone, driver.Vehicle, driver.Rating,
		driver.CreatedAt, driver.UpdatedAt)
	return err
}

func (r *driverRepository) GetByID(ctx context.Context, id string) (*models.Driver, error) {
	var driver models.Driver
	query := `SELECT * FROM drivers WHERE id = $1`
	err := sqlx.GetContext(ctx, r.db, &driver, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &driver, nil
}

func (r *driverRepository) ListByBairro(ctx context.Context, bairroID string, limit int) ([]*models.Driver, error) {
	drivers := []*models.Driver{}
	query := `SELECT * FROM drivers WHERE bairro_id = $1 ORDER BY name LIMIT $2`
	err := sqlx.SelectContext(ctx, r.db, &drivers, query, bairroID, limit)
	return drivers, err
}
