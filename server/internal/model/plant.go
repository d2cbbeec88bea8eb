package model

import "strings"

const (
	// PlantsPath 是植物集合所在路径。
	PlantsPath = "plants"

	environmentCollection = "environment_data"
	wateringCollection    = "watering_events"

	// DefaultSpecies 是新增植物时的默认品种。
	DefaultSpecies = "Capsicum annuum"
)

// Plant 描述一株被监控的植物。ID 由存储分配，来自节点 key。
type Plant struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	Species     string    `json:"species"`
	DatePlanted Timestamp `json:"datePlanted"`
	// LastHarvested 为 nil 表示从未采收。
	LastHarvested *Timestamp `json:"lastHarvested,omitempty"`
}

func (p *Plant) SetID(id string) { p.ID = id }

// WateringEvent 是一次浇水记录。
type WateringEvent struct {
	ID          string    `json:"id,omitempty"`
	PlantID     string    `json:"plantId"`
	Timestamp   Timestamp `json:"timestamp"`
	WaterAmount float64   `json:"waterAmount"`
}

func (w *WateringEvent) SetID(id string) { w.ID = id }

// EnvironmentPath 返回某株植物的环境数据集合路径。
func EnvironmentPath(plantID string) string {
	return PlantsPath + "/" + plantID + "/" + environmentCollection
}

// WateringPath 返回某株植物的浇水事件集合路径。
func WateringPath(plantID string) string {
	return PlantsPath + "/" + plantID + "/" + wateringCollection
}

// Kind 标识一个集合路径承载的记录类型。
type Kind string

const (
	KindUnknown     Kind = ""
	KindPlant       Kind = "plant"
	KindEnvironment Kind = "environment"
	KindWatering    Kind = "watering"
)

// KindOf 根据路径推断记录类型：plants、plants/{id}/environment_data、plants/{id}/watering_events。
func KindOf(path string) Kind {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(segs) == 1 && segs[0] == PlantsPath:
		return KindPlant
	case len(segs) == 3 && segs[0] == PlantsPath && segs[1] != "":
		switch segs[2] {
		case environmentCollection:
			return KindEnvironment
		case wateringCollection:
			return KindWatering
		}
	}
	return KindUnknown
}
