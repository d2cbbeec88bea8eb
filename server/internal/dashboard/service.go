package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"rugrow/server/internal/config"
	"rugrow/server/internal/livelist"
	"rugrow/server/internal/model"
	"rugrow/server/internal/rtdb"
	"rugrow/server/internal/writer"
)

// ErrInvalidPlant 表示植物参数缺失或不合法。
var ErrInvalidPlant = errors.New("invalid plant")

// Appender 是追加写入操作，由 writer.WriteQueue 实现。
type Appender interface {
	Append(path string, value any) *writer.PendingWrite
}

type (
	PlantSubscriber       = livelist.Subscriber[model.Plant, *model.Plant]
	EnvironmentSubscriber = livelist.Subscriber[model.EnvironmentData, *model.EnvironmentData]
	WateringSubscriber    = livelist.Subscriber[model.WateringEvent, *model.WateringEvent]
)

// Service 组合订阅与写入，承载植物选择、指标卡片与手动浇水。
type Service struct {
	db       rtdb.Database
	appender Appender
	cfg      config.DashboardConfig
	logger   *zap.Logger
	loc      *time.Location
	plants   *PlantSubscriber
}

// NewService 创建服务并订阅植物列表。
func NewService(db rtdb.Database, appender Appender, cfg config.DashboardConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       db,
		appender: appender,
		cfg:      cfg,
		logger:   logger,
		loc:      time.Local,
		plants:   livelist.New[model.Plant](db, livelist.Target{Path: model.PlantsPath}, logger.Named("plants")),
	}
}

// SetLocation 设置"Last Watered"的展示时区。
func (s *Service) SetLocation(loc *time.Location) { s.loc = loc }

// Plants 返回植物列表的当前状态。
func (s *Service) Plants() livelist.State[model.Plant] { return s.plants.State() }

// SettledPlants 等待植物列表首次结算。
func (s *Service) SettledPlants(ctx context.Context) (livelist.State[model.Plant], error) {
	return s.plants.Settled(ctx)
}

// SelectPlant 在列表中查找 selectedID；为空时默认选择第一株。
func SelectPlant(plants []model.Plant, selectedID string) (model.Plant, bool) {
	if selectedID == "" {
		if len(plants) == 0 {
			return model.Plant{}, false
		}
		return plants[0], true
	}
	for _, p := range plants {
		if p.ID == selectedID {
			return p, true
		}
	}
	return model.Plant{}, false
}

// AddPlant 校验表单并追加一株植物，datePlanted 由服务端分配。
// 调用方可等待返回的 PendingWrite 拿到新 ID 以自动选中。
func (s *Service) AddPlant(name, species string) (*writer.PendingWrite, error) {
	name = strings.TrimSpace(name)
	species = strings.TrimSpace(species)
	if name == "" {
		return nil, fmt.Errorf("%w: plant name is required", ErrInvalidPlant)
	}
	if species == "" {
		species = model.DefaultSpecies
	}

	s.logger.Info("adding plant", zap.String("name", name), zap.String("species", species))
	return s.appender.Append(model.PlantsPath, model.Plant{
		Name:        name,
		Species:     species,
		DatePlanted: model.ServerTimestamp(),
	}), nil
}

// WaterNow 记录一次手动浇水；amountML<=0 时使用配置的默认水量。
func (s *Service) WaterNow(plantID string, amountML float64) (*writer.PendingWrite, error) {
	path, err := plantPath(model.WateringPath, plantID)
	if err != nil {
		return nil, err
	}
	if amountML <= 0 {
		amountML = s.cfg.DefaultWaterAmountML
	}

	s.logger.Info("water now", zap.String("plant_id", plantID), zap.Float64("water_amount_ml", amountML))
	return s.appender.Append(path, model.WateringEvent{
		PlantID:     plantID,
		Timestamp:   model.ServerTimestamp(),
		WaterAmount: amountML,
	}), nil
}

// RecordReading 追加一条传感器读数，未上报的露点与绝对湿度在此补齐。
func (s *Service) RecordReading(plantID string, reading model.Reading) (*writer.PendingWrite, error) {
	path, err := plantPath(model.EnvironmentPath, plantID)
	if err != nil {
		return nil, err
	}
	return s.appender.Append(path, reading.Environment(plantID)), nil
}

func plantPath(build func(string) string, plantID string) (string, error) {
	if strings.TrimSpace(plantID) == "" {
		return "", fmt.Errorf("%w: plant id is required", ErrInvalidPlant)
	}
	path := build(plantID)
	if _, err := rtdb.CleanPath(path); err != nil || model.KindOf(path) == model.KindUnknown {
		return "", fmt.Errorf("%w: plant id %q", ErrInvalidPlant, plantID)
	}
	return path, nil
}

// OpenPlant 为单株植物打开最新读数与最新浇水两个订阅。用完需 Close。
func (s *Service) OpenPlant(plantID string) *PlantView {
	latest := livelist.Options{LimitToLast: 1, OrderBy: "timestamp"}
	log := s.logger.With(zap.String("plant_id", plantID))
	return &PlantView{
		plantID: plantID,
		loc:     s.loc,
		plants:  s.plants,
		env:     livelist.New[model.EnvironmentData](s.db, livelist.Target{Path: model.EnvironmentPath(plantID), Options: latest}, log.Named("environment")),
		water:   livelist.New[model.WateringEvent](s.db, livelist.Target{Path: model.WateringPath(plantID), Options: latest}, log.Named("watering")),
	}
}

// Snapshot 打开植物视图，等待结算（最多 SettleTimeout），返回当时的仪表盘。
func (s *Service) Snapshot(ctx context.Context, plantID string) Dashboard {
	view := s.OpenPlant(plantID)
	defer view.Close()

	if s.cfg.SettleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SettleTimeout)
		defer cancel()
	}
	if err := view.Settled(ctx); err != nil {
		s.logger.Warn("dashboard not settled", zap.String("plant_id", plantID), zap.Error(err))
	}
	return view.Dashboard()
}

func (s *Service) Close() {
	s.plants.Close()
}

// PlantView 是单株植物的实时视图。
type PlantView struct {
	plantID string
	loc     *time.Location
	plants  *PlantSubscriber
	env     *EnvironmentSubscriber
	water   *WateringSubscriber
}

// Settled 等待两个订阅都结束 loading。
func (v *PlantView) Settled(ctx context.Context) error {
	if _, err := v.env.Settled(ctx); err != nil {
		return err
	}
	_, err := v.water.Settled(ctx)
	return err
}

// Dashboard 返回当前的仪表盘。
func (v *PlantView) Dashboard() Dashboard {
	plant, ok := SelectPlant(v.plants.State().Data, v.plantID)
	if !ok || v.plantID == "" {
		plant = model.Plant{ID: v.plantID}
	}
	return BuildDashboard(plant, v.env.State(), v.water.State(), v.loc)
}

func (v *PlantView) Close() {
	v.env.Close()
	v.water.Close()
}
