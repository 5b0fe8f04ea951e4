package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"
)

//go:embed plans.yaml
var plansYAML []byte

type planSeed struct {
	Plan     `yaml:",inline"`
	Features []string `yaml:"features"`
}

// DefaultPlans parses the embedded plan catalogue.
func DefaultPlans() ([]Plan, error) {
	var doc struct {
		Plans []planSeed `yaml:"plans"`
	}
	if err := yaml.Unmarshal(plansYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse plans.yaml: %w", err)
	}

	plans := make([]Plan, 0, len(doc.Plans))
	for _, seed := range doc.Plans {
		features, err := json.Marshal(seed.Features)
		if err != nil {
			return nil, fmt.Errorf("encode features for %s: %w", seed.Name, err)
		}
		p := seed.Plan
		p.Features = datatypes.JSON(features)
		plans = append(plans, p)
	}
	return plans, nil
}

// SeedPlans upserts the embedded plan catalogue.
func (s *Store) SeedPlans(ctx context.Context) error {
	plans, err := DefaultPlans()
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		return nil
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, UpdateAll: true}).
		Create(&plans).Error
	if err != nil {
		return fmt.Errorf("seed plans: %w", err)
	}
	return nil
}

// Plans lists the catalogue in display order.
func (s *Store) Plans(ctx context.Context) ([]Plan, error) {
	var plans []Plan
	if err := s.db.WithContext(ctx).Order("sort_order ASC").Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// PlanByName returns one plan or ErrNotFound.
func (s *Store) PlanByName(ctx context.Context, name string) (*Plan, error) {
	var p Plan
	if err := s.db.WithContext(ctx).First(&p, "name = ?", name).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}
