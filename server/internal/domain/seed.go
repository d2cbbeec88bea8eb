package domain

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"rugrow/server/internal/model"
	"rugrow/server/internal/rtdb"
)

// SeedPlant 是演示数据中的一株植物及其最近一次读数。
type SeedPlant struct {
	Name          string    `json:"name"`
	Species       string    `json:"species,omitempty"`
	Temperature   float64   `json:"temperature"`
	SoilMoisture  float64   `json:"soilMoisture"`
	LastWatered   time.Time `json:"lastWatered"`
	LastHarvested time.Time `json:"lastHarvested"`
}

// LoadPlants 从指定路径加载演示植物。
func LoadPlants(path string) ([]SeedPlant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plants: %w", err)
	}

	var plants []SeedPlant
	if err := json.Unmarshal(data, &plants); err != nil {
		return nil, fmt.Errorf("parse plants: %w", err)
	}
	for i, p := range plants {
		if p.Name == "" {
			return nil, fmt.Errorf("parse plants: entry %d has no name", i)
		}
	}

	return plants, nil
}

// Seed 在植物集合为空时写入演示数据，返回写入的植物数。集合已有数据时不做任何事。
func Seed(ctx context.Context, db rtdb.Database, plants []SeedPlant, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	existing, err := db.Get(ctx, rtdb.Query{Path: model.PlantsPath, LimitToFirst: 1})
	if err != nil {
		return 0, fmt.Errorf("check plants: %w", err)
	}
	if existing.Exists() {
		logger.Info("plants already present, skip seeding")
		return 0, nil
	}

	for i, p := range plants {
		species := p.Species
		if species == "" {
			species = model.DefaultSpecies
		}
		plant := model.Plant{
			Name:        p.Name,
			Species:     species,
			DatePlanted: model.ServerTimestamp(),
		}
		if !p.LastHarvested.IsZero() {
			ts := model.TimestampOf(p.LastHarvested)
			plant.LastHarvested = &ts
		}
		id, err := db.Push(ctx, model.PlantsPath, plant)
		if err != nil {
			return i, fmt.Errorf("seed plant %q: %w", p.Name, err)
		}

		reading := model.EnvironmentData{
			PlantID:      id,
			Temperature:  p.Temperature,
			SoilMoisture: p.SoilMoisture,
			Timestamp:    model.ServerTimestamp(),
		}
		if _, err := db.Push(ctx, model.EnvironmentPath(id), reading); err != nil {
			return i, fmt.Errorf("seed reading for %q: %w", p.Name, err)
		}

		if !p.LastWatered.IsZero() {
			if _, err := db.Push(ctx, model.WateringPath(id), model.WateringEvent{
				PlantID:   id,
				Timestamp: model.TimestampOf(p.LastWatered),
			}); err != nil {
				return i, fmt.Errorf("seed watering for %q: %w", p.Name, err)
			}
		}
		logger.Debug("seeded plant", zap.String("plant_id", id), zap.String("name", p.Name))
	}

	logger.Info("seeded demo plants", zap.Int("count", len(plants)))
	return len(plants), nil
}
