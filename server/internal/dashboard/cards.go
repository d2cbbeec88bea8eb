package dashboard

import (
	"errors"
	"fmt"
	"time"

	"rugrow/server/internal/livelist"
	"rugrow/server/internal/model"
)

// Status 汇总了仪表盘所依赖订阅的状态，前端据此选择占位、空状态或数据。
type Status string

const (
	StatusLoading  Status = "loading"
	StatusEmpty    Status = "empty"
	StatusReady    Status = "ready"
	StatusDegraded Status = "degraded"
)

const (
	lastWateredLayout   = "Jan 2, 3:04 PM"
	lastHarvestedLayout = "Jan 2, 2006"
	missingValue        = "--"
)

// MetricCard 是一张指标卡片。
type MetricCard struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// Dashboard 是单株植物的展示视图。
type Dashboard struct {
	PlantID      string                 `json:"plant_id"`
	Status       Status                 `json:"status"`
	Error        string                 `json:"error,omitempty"`
	Cards        []MetricCard           `json:"cards"`
	Reading      *model.EnvironmentData `json:"reading,omitempty"`
	LastWatering *model.WateringEvent   `json:"last_watering,omitempty"`
}

// BuildDashboard 用植物、最新的环境读数与浇水记录生成卡片。两个状态都应来自最新在前的视图。
func BuildDashboard(plant model.Plant, env livelist.State[model.EnvironmentData], water livelist.State[model.WateringEvent], loc *time.Location) Dashboard {
	if loc == nil {
		loc = time.Local
	}
	d := Dashboard{PlantID: plant.ID}

	if len(env.Data) > 0 {
		r := env.Data[0]
		d.Reading = &r
	}
	if len(water.Data) > 0 {
		w := water.Data[0]
		d.LastWatering = &w
	}

	switch {
	case env.IsLoading || water.IsLoading:
		d.Status = StatusLoading
	case env.Err != nil || water.Err != nil:
		d.Status = StatusDegraded
		d.Error = errors.Join(env.Err, water.Err).Error()
	case d.Reading == nil && d.LastWatering == nil:
		d.Status = StatusEmpty
	default:
		d.Status = StatusReady
	}

	d.Cards = readingCards(d.Reading)
	d.Cards = append(d.Cards,
		MetricCard{Title: "Last Watered", Value: lastWatered(d.LastWatering, loc)},
		MetricCard{Title: "Last Harvested", Value: lastHarvested(plant.LastHarvested, loc)},
	)
	return d
}

func readingCards(r *model.EnvironmentData) []MetricCard {
	if r == nil {
		return []MetricCard{
			{Title: "Temperature", Value: missingValue, Unit: "°C"},
			{Title: "Soil Moisture", Value: missingValue, Unit: "%"},
			{Title: "Relative Humidity", Value: missingValue, Unit: "%"},
			{Title: "Absolute Humidity", Value: missingValue, Unit: "g/m³"},
			{Title: "Dew Point", Value: missingValue, Unit: "°C"},
			{Title: "Light Level", Value: missingValue, Unit: "lux"},
		}
	}

	light := "N/A"
	if r.LightLevel != nil {
		light = fmt.Sprintf("%.0f", *r.LightLevel)
	}
	return []MetricCard{
		{Title: "Temperature", Value: fmt.Sprintf("%.1f", r.Temperature), Unit: "°C"},
		{Title: "Soil Moisture", Value: fmt.Sprintf("%.0f", r.SoilMoisture), Unit: "%"},
		{Title: "Relative Humidity", Value: fmt.Sprintf("%.1f", r.RelativeHumidity), Unit: "%"},
		{Title: "Absolute Humidity", Value: fmt.Sprintf("%.2f", r.AbsoluteHumidity), Unit: "g/m³"},
		{Title: "Dew Point", Value: fmt.Sprintf("%.1f", r.DewPoint), Unit: "°C"},
		{Title: "Light Level", Value: light, Unit: "lux"},
	}
}

func lastWatered(w *model.WateringEvent, loc *time.Location) string {
	if w == nil || w.Timestamp.IsServerValue() {
		return "Never"
	}
	return w.Timestamp.Time().In(loc).Format(lastWateredLayout)
}

func lastHarvested(ts *model.Timestamp, loc *time.Location) string {
	if ts == nil || ts.IsServerValue() {
		return "Never"
	}
	return ts.Time().In(loc).Format(lastHarvestedLayout)
}
