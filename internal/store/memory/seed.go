package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketplace/backend/internal/domain"
)

// CatalogSeed is the JSON layout accepted by LoadCatalog. The catalog has no
// write API, so this is the only way to populate it outside tests.
type CatalogSeed struct {
	Services []ServiceSeed `json:"services"`
}

type ServiceSeed struct {
	ID         uuid.UUID       `json:"id"`
	ProviderID string          `json:"provider_id"`
	Name       string          `json:"name"`
	Variations []VariationSeed `json:"variations"`
}

type VariationSeed struct {
	ID                 uuid.UUID       `json:"id"`
	Name               string          `json:"name"`
	Price              decimal.Decimal `json:"price"`
	DurationMinutes    int             `json:"duration_minutes"`
	DiscountPercentage int             `json:"discount_percentage"`
	DiscountDays       []int16         `json:"discount_days"`
}

// LoadCatalogFile reads a seed file from disk. See LoadCatalog.
func (s *Store) LoadCatalogFile(path string) (services, variations int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	return s.LoadCatalog(f)
}

// LoadCatalog validates the whole seed before storing any of it. Services and
// variations without an id get a fresh one.
func (s *Store) LoadCatalog(r io.Reader) (services, variations int, err error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var seed CatalogSeed
	if err := dec.Decode(&seed); err != nil {
		return 0, 0, fmt.Errorf("decode catalog seed: %w", err)
	}

	svcs := make([]domain.Service, 0, len(seed.Services))
	var vars []domain.ServiceVariation
	for i, ss := range seed.Services {
		svc := domain.Service{ID: ss.ID, ProviderID: strings.TrimSpace(ss.ProviderID), Name: strings.TrimSpace(ss.Name)}
		if svc.ID == uuid.Nil {
			svc.ID = uuid.New()
		}
		if svc.ProviderID == "" || svc.Name == "" {
			return 0, 0, fmt.Errorf("service %d: provider_id and name are required", i)
		}
		for j, vs := range ss.Variations {
			v := domain.ServiceVariation{
				ID:                 vs.ID,
				ServiceID:          svc.ID,
				Name:               strings.TrimSpace(vs.Name),
				Price:              vs.Price,
				DurationMinutes:    vs.DurationMinutes,
				DiscountPercentage: vs.DiscountPercentage,
				DiscountDays:       vs.DiscountDays,
			}
			if v.Name == "" {
				return 0, 0, fmt.Errorf("service %d variation %d: name is required", i, j)
			}
			if err := v.Validate(); err != nil {
				return 0, 0, fmt.Errorf("service %d variation %d: %w", i, j, err)
			}
			vars = append(vars, v)
		}
		svcs = append(svcs, svc)
	}
	if err := checkUniqueIDs(svcs, vars); err != nil {
		return 0, 0, err
	}

	for _, svc := range svcs {
		s.PutService(svc)
	}
	for _, v := range vars {
		s.PutVariation(v)
	}
	return len(svcs), len(vars), nil
}

func checkUniqueIDs(svcs []domain.Service, vars []domain.ServiceVariation) error {
	seen := make(map[uuid.UUID]struct{}, len(svcs)+len(vars))
	add := func(id uuid.UUID) error {
		if id == uuid.Nil {
			return nil
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate id %s in catalog seed", id)
		}
		seen[id] = struct{}{}
		return nil
	}
	var errs []error
	for _, svc := range svcs {
		errs = append(errs, add(svc.ID))
	}
	for _, v := range vars {
		errs = append(errs, add(v.ID))
	}
	return errors.Join(errs...)
}
