package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/carreto/dispatch/internal/models"
	"github.com/carreto/dispatch/pkg/utils"
)

type driverRepo struct {
	run runner
}

func (r *driverRepo) Create(ctx context.Context, driver *models.Driver) error {
	if driver.ID == "" {
		driver.ID = utils.GenerateID()
	}
	if driver.Rating == 0 {
		driver.Rating = 5.0
	}
	return r.run(func(d *state) error {
		if _, ok := d.drivers[driver.ID]; ok {
			return fmt.Errorf("driver %s already exists", driver.ID)
		}
		c := *driver
		d.drivers[driver.ID] = &c
		return nil
	})
}

func (r *driverRepo) GetByID(ctx context.Context, id string) (*models.Driver, error) {
	var out *models.Driver
	err := r.run(func(d *state) error {
		if driver, ok := d.drivers[id]; ok {
			c := *driver
			out = &c
		}
		return nil
	})
	return out, err
}

func (r *driverRepo) ListByBairro(ctx context.Context, bairroID string, limit int) ([]*models.Driver, error) {
	out := []*models.Driver{}
	err := r.run(func(d *state) error {
		for _, driver := range d.drivers {
			if driver.BairroID == bairroID {
				c := *driver
				out = append(out, &c)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		if len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

type bairroRepo struct {
	run runner
}

func (r *bairroRepo) Upsert(ctx context.Context, bairro *models.Bairro) error {
	if bairro.ID == "" {
		bairro.ID = utils.GenerateID()
	}
	return r.run(func(d *state) error {
		c := *bairro
		d.bairros[bairro.ID] = &c
		return nil
	})
}

func (r *bairroRepo) GetByID(ctx context.Context, id string) (*models.Bairro, error) {
	var out *models.Bairro
	err := r.run(func(d *state) error {
		if b, ok := d.bairros[id]; ok {
			c := *b
			out = &c
		}
		return nil
	})
	return out, err
}

func (r *bairroRepo) List(ctx context.Context) ([]*models.Bairro, error) {
	out := []*models.Bairro{}
	err := r.run(func(d *state) error {
		for _, b := range d.bairros {
			c := *b
			out = append(out, &c)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return nil
	})
	return out, err
}

func (r *bairroRepo) AddSurgeWindow(ctx context.Context, w *models.SurgeWindow) error {
	if w.ID == "" {
		w.ID = utils.GenerateID()
	}
	return r.run(func(d *state) error {
		d.windows = append(d.windows, *w)
		return nil
	})
}

func (r *bairroRepo) ListSurgeWindows(ctx context.Context, bairroID string) ([]models.SurgeWindow, error) {
	out := []models.SurgeWindow{}
	err := r.run(func(d *state) error {
		for _, w := range d.windows {
			if w.BairroID == nil || *w.BairroID == bairroID {
				out = append(out, w)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
		return nil
	})
	return out, err
}

type catalogRepo struct {
	run runner
}

func (r *catalogRepo) Upsert(ctx context.Context, item *models.CatalogItem) error {
	if item.ID == "" {
		item.ID = utils.GenerateID()
	}
	return r.run(func(d *state) error {
		c := *item
		d.catalog[item.ID] = &c
		return nil
	})
}

func (r *catalogRepo) GetByIDs(ctx context.Context, ids []string) ([]*models.CatalogItem, error) {
	out := []*models.CatalogItem{}
	err := r.run(func(d *state) error {
		seen := map[string]bool{}
		for _, id := range ids {
			item, ok := d.catalog[id]
			if !ok || !item.Active || seen[id] {
				continue
			}
			seen[id] = true
			c := *item
			out = append(out, &c)
		}
		return nil
	})
	return out, err
}

func (r *catalogRepo) ListActive(ctx context.Context) ([]*models.CatalogItem, error) {
	out := []*models.CatalogItem{}
	err := r.run(func(d *state) error {
		for _, item := range d.catalog {
			if item.Active {
				c := *item
				out = append(out, &c)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return nil
	})
	return out, err
}
