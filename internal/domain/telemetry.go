// Package domain contains core business entities.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Quality represents the reliability of an observed value.
type Quality string

const (
	QualityGood         Quality = "good"
	QualityBad          Quality = "bad"
	QualityNotConnected Quality = "not_connected"
)

// Reading is a single observed value from one AC, ready for telemetry
// publication.
type Reading struct {
	UnitID  uint8
	ACIndex int
	Metric  string
	Value   interface{}
	Unit    string
	Quality Quality
	ReadAt  time.Time
}

// Topic returns the telemetry topic for this reading under the given
// prefix, e.g. "hvac/unit1/ac0/temperature".
func (r Reading) Topic(prefix string) string {
	return fmt.Sprintf("%s/unit%d/ac%d/%s", prefix, r.UnitID, r.ACIndex, r.Metric)
}

// TelemetryPayload is the compact wire format for telemetry publishing.
// Short field names keep per-message overhead low.
type TelemetryPayload struct {
	Value     interface{} `json:"v"`
	Unit      string      `json:"u,omitempty"`
	Quality   Quality     `json:"q"`
	Timestamp int64       `json:"ts"`
}

// ToJSON serializes the reading into its telemetry payload.
func (r Reading) ToJSON() ([]byte, error) {
	return json.Marshal(TelemetryPayload{
		Value:     r.Value,
		Unit:      r.Unit,
		Quality:   r.Quality,
		Timestamp: r.ReadAt.UnixMilli(),
	})
}

// SnapshotReadings expands a unit snapshot into per-AC readings. A
// defaulted snapshot yields bad-quality readings so downstream consumers
// can distinguish substituted values from real ones.
func SnapshotReadings(snap UnitSnapshot) []Reading {
	quality := QualityGood
	if snap.Defaulted {
		quality = QualityBad
	}

	readings := make([]Reading, 0, 4*len(snap.Temperatures))
	for i := range snap.Temperatures {
		base := Reading{
			UnitID:  snap.UnitID,
			ACIndex: i,
			Quality: quality,
			ReadAt:  snap.ReadAt,
		}

		t := base
		t.Metric = "temperature"
		t.Value = snap.Temperatures[i]
		t.Unit = "C"

		hi := base
		hi.Metric = "high_threshold"
		hi.Value = snap.HighThresholds[i]
		hi.Unit = "C"

		good := base
		good.Metric = "good_threshold"
		good.Value = snap.GoodThresholds[i]
		good.Unit = "C"

		cooling := base
		cooling.Metric = "cooling"
		cooling.Value = snap.Status[i]

		readings = append(readings, t, hi, good, cooling)
	}
	return readings
}
