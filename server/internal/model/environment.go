package model

import "math"

// Magnus-Tetens 常数（0°C 以上）。
const (
	magnusA = 17.27
	magnusB = 237.7
)

// EnvironmentData 是一次传感器读数。
type EnvironmentData struct {
	ID               string    `json:"id,omitempty"`
	PlantID          string    `json:"plantId,omitempty"`
	Temperature      float64   `json:"temperature"`
	SoilMoisture     float64   `json:"soilMoisture"`
	RelativeHumidity float64   `json:"relativeHumidity"`
	AbsoluteHumidity float64   `json:"absoluteHumidity"`
	DewPoint         float64   `json:"dewPoint"`
	LightLevel       *float64  `json:"lightLevel,omitempty"`
	Timestamp        Timestamp `json:"timestamp"`
}

func (e *EnvironmentData) SetID(id string) { e.ID = id }

// Reading 是设备上报的一次读数。派生字段为 nil 表示未上报，0 是合法的上报值。
type Reading struct {
	Temperature      float64  `json:"temperature"`
	SoilMoisture     float64  `json:"soilMoisture"`
	RelativeHumidity float64  `json:"relativeHumidity"`
	AbsoluteHumidity *float64 `json:"absoluteHumidity,omitempty"`
	DewPoint         *float64 `json:"dewPoint,omitempty"`
	LightLevel       *float64 `json:"lightLevel,omitempty"`
}

// Environment 转成待写入的记录，时间戳由服务端分配。
// 未上报的露点与绝对湿度在有相对湿度时推导，否则为 0。
func (r Reading) Environment(plantID string) EnvironmentData {
	e := EnvironmentData{
		PlantID:          plantID,
		Temperature:      r.Temperature,
		SoilMoisture:     r.SoilMoisture,
		RelativeHumidity: r.RelativeHumidity,
		LightLevel:       r.LightLevel,
		Timestamp:        ServerTimestamp(),
	}
	switch {
	case r.DewPoint != nil:
		e.DewPoint = *r.DewPoint
	case r.RelativeHumidity > 0:
		e.DewPoint = DewPoint(r.Temperature, r.RelativeHumidity)
	}
	switch {
	case r.AbsoluteHumidity != nil:
		e.AbsoluteHumidity = *r.AbsoluteHumidity
	case r.RelativeHumidity > 0:
		e.AbsoluteHumidity = AbsoluteHumidity(r.Temperature, r.RelativeHumidity)
	}
	return e
}

// DewPoint 按 Magnus-Tetens 近似计算露点（°C）。
func DewPoint(tempC, relativeHumidity float64) float64 {
	alpha := (magnusA*tempC)/(magnusB+tempC) + math.Log(relativeHumidity/100.0)
	return (magnusB * alpha) / (magnusA - alpha)
}

// AbsoluteHumidity 计算绝对湿度（g/m³），relativeHumidity 以百分比给出。
func AbsoluteHumidity(tempC, relativeHumidity float64) float64 {
	svp := 6.112 * math.Exp((magnusA*tempC)/(magnusB+tempC))
	return (svp * relativeHumidity * 2.1674) / (tempC + 273.15)
}
