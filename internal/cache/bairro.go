package cache

import (
	"context"
	"errors"
	"time"

	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/internal/repository"
	"github.com/motoki317/sc"
)

var errBairroNotFound = errors.New("bairro not found")

// BairroCache is a read-through cache over bairro pricing config and surge
// windows. Both change rarely and are read on every ride creation and
// acceptance.
type BairroCache interface {
	Bairro(ctx context.Context, id string) (*models.Bairro, error)
	SurgeWindows(ctx context.Context, bairroID string) ([]models.SurgeWindow, error)
	Invalidate(bairroID string)
}

type bairroCache struct {
	bairros *sc.Cache[string, *models.Bairro]
	windows *sc.Cache[string, []models.SurgeWindow]
}

func NewBairroCache(repo repository.BairroRepository, ttl time.Duration) (BairroCache, error) {
	bairros, err := sc.New(func(ctx context.Context, id string) (*models.Bairro, error) {
		b, err := repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, errBairroNotFound
		}
		return b, nil
	}, ttl, ttl)
	if err != nil {
		return nil, err
	}

	windows, err := sc.New(func(ctx context.Context, bairroID string) ([]models.SurgeWindow, error) {
		return repo.ListSurgeWindows(ctx, bairroID)
	}, ttl, ttl)
	if err != nil {
		return nil, err
	}

	return &bairroCache{bairros: bairros, windows: windows}, nil
}

// Bairro returns nil, nil for an unknown id. Misses are not cached.
func (c *bairroCache) Bairro(ctx context.Context, id string) (*models.Bairro, error) {
	b, err := c.bairros.Get(ctx, id)
	if errors.Is(err, errBairroNotFound) {
		return nil, nil
	}
	return b, err
}

func (c *bairroCache) SurgeWindows(ctx context.Context, bairroID string) ([]models.SurgeWindow, error) {
	return c.windows.Get(ctx, bairroID)
}

func (c *bairroCache) Invalidate(bairroID string) {
	c.bairros.Forget(bairroID)
	c.windows.Forget(bairroID)
}
