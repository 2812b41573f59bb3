package domain_test

import (
	"errors"
	"testing"

	"github.com/nexus-edge/hvac-control/internal/domain"
)

func TestUnit_Validate(t *testing.T) {
	tests := []struct {
		name    string
		unit    domain.Unit
		wantErr bool
	}{
		{"valid", domain.Unit{ID: 1, Name: "East wing"}, false},
		{"max id", domain.Unit{ID: 247, Name: "Annex"}, false},
		{"zero id", domain.Unit{ID: 0, Name: "Broadcast"}, true},
		{"missing name", domain.Unit{ID: 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.unit.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSnapshotFromRegisters(t *testing.T) {
	layout := domain.Layout{ACCount: 2}

	regs := []uint16{21, 22, 28, 29, 18, 19}
	inputs := []bool{true, false}

	snap, err := domain.SnapshotFromRegisters(1, layout, regs, inputs)
	if err != nil {
		t.Fatalf("SnapshotFromRegisters() error = %v", err)
	}

	if snap.UnitID != 1 {
		t.Errorf("UnitID = %d, want 1", snap.UnitID)
	}
	if snap.Defaulted {
		t.Error("Defaulted = true for a successful decode")
	}

	wantTemps := []int{21, 22}
	wantHigh := []int{28, 29}
	wantGood := []int{18, 19}
	for i := 0; i < 2; i++ {
		if snap.Temperatures[i] != wantTemps[i] {
			t.Errorf("Temperatures[%d] = %d, want %d", i, snap.Temperatures[i], wantTemps[i])
		}
		if snap.HighThresholds[i] != wantHigh[i] {
			t.Errorf("HighThresholds[%d] = %d, want %d", i, snap.HighThresholds[i], wantHigh[i])
		}
		if snap.GoodThresholds[i] != wantGood[i] {
			t.Errorf("GoodThresholds[%d] = %d, want %d", i, snap.GoodThresholds[i], wantGood[i])
		}
	}
	if !snap.Status[0] || snap.Status[1] {
		t.Errorf("Status = %v, want [true false]", snap.Status)
	}
}

func TestSnapshotFromRegisters_ReservedRegisterIgnored(t *testing.T) {
	layout := domain.Layout{ACCount: 1, ReservedRegister: true}

	regs := []uint16{15, 27, 20, domain.ReservedValue}
	snap, err := domain.SnapshotFromRegisters(2, layout, regs, []bool{false})
	if err != nil {
		t.Fatalf("SnapshotFromRegisters() error = %v", err)
	}
	if snap.Temperatures[0] != 15 || snap.HighThresholds[0] != 27 || snap.GoodThresholds[0] != 20 {
		t.Errorf("decoded %+v, want 15/27/20", snap)
	}
}

func TestSnapshotFromRegisters_ShortRead(t *testing.T) {
	layout := domain.Layout{ACCount: 6}

	tests := []struct {
		name   string
		regs   []uint16
		inputs []bool
	}{
		{"short registers", make([]uint16, 17), make([]bool, 6)},
		{"long registers", make([]uint16, 19), make([]bool, 6)},
		{"short inputs", make([]uint16, 18), make([]bool, 5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.SnapshotFromRegisters(1, layout, tt.regs, tt.inputs)
			if !errors.Is(err, domain.ErrShortRead) {
				t.Errorf("error = %v, want ErrShortRead", err)
			}
		})
	}
}

func TestDefaultSnapshot(t *testing.T) {
	layout := domain.Layout{ACCount: 5, ReservedRegister: true}
	snap := domain.DefaultSnapshot(7, layout)

	if !snap.Defaulted {
		t.Error("Defaulted = false, want true")
	}
	if snap.UnitID != 7 {
		t.Errorf("UnitID = %d, want 7", snap.UnitID)
	}
	if len(snap.Temperatures) != 5 || len(snap.Status) != 5 {
		t.Fatalf("slice widths = %d/%d, want 5", len(snap.Temperatures), len(snap.Status))
	}
	for i := 0; i < 5; i++ {
		if snap.Temperatures[i] != domain.InitialTemperature {
			t.Errorf("Temperatures[%d] = %d, want %d", i, snap.Temperatures[i], domain.InitialTemperature)
		}
		if snap.HighThresholds[i] != domain.InitialHighThreshold {
			t.Errorf("HighThresholds[%d] = %d, want %d", i, snap.HighThresholds[i], domain.InitialHighThreshold)
		}
		if snap.GoodThresholds[i] != domain.InitialGoodThreshold {
			t.Errorf("GoodThresholds[%d] = %d, want %d", i, snap.GoodThresholds[i], domain.InitialGoodThreshold)
		}
		if snap.Status[i] {
			t.Errorf("Status[%d] = true, want false", i)
		}
	}
}

func TestSnapshotReadings(t *testing.T) {
	layout := domain.Layout{ACCount: 2}
	snap := domain.DefaultSnapshot(1, layout)
	snap.Defaulted = false
	snap.Temperatures[1] = 28
	snap.Status[1] = true

	readings := domain.SnapshotReadings(snap)
	if len(readings) != 8 {
		t.Fatalf("len(readings) = %d, want 8", len(readings))
	}

	byTopic := make(map[string]domain.Reading, len(readings))
	for _, r := range readings {
		byTopic[r.Topic("hvac")] = r
	}

	temp, ok := byTopic["hvac/unit1/ac1/temperature"]
	if !ok {
		t.Fatal("missing hvac/unit1/ac1/temperature reading")
	}
	if temp.Value != 28 || temp.Quality != domain.QualityGood {
		t.Errorf("temperature reading = %+v, want value 28 quality good", temp)
	}

	cooling, ok := byTopic["hvac/unit1/ac1/cooling"]
	if !ok {
		t.Fatal("missing hvac/unit1/ac1/cooling reading")
	}
	if cooling.Value != true {
		t.Errorf("cooling reading value = %v, want true", cooling.Value)
	}
}

func TestSnapshotReadings_DefaultedIsBadQuality(t *testing.T) {
	snap := domain.DefaultSnapshot(2, domain.Layout{ACCount: 1})
	for _, r := range domain.SnapshotReadings(snap) {
		if r.Quality != domain.QualityBad {
			t.Errorf("reading %s quality = %s, want bad", r.Metric, r.Quality)
		}
	}
}
