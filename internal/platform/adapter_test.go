package platform

import (
	"context"
	"math"
	"testing"

	"github.com/nerrad567/almond-bridge/internal/accessory"
)

func newTestAdapter(state string) (*Adapter, *mockSwitch, *mockHub) {
	device := plugDevice("10", state)
	hub := newMockHub(device)
	hub.echo = false
	sw := &mockSwitch{uuid: accessory.UUIDFor("10", "1")}
	rec := &accessory.Record{UUID: sw.uuid, DeviceID: "10", ValueID: "1", DisplayName: "Plug"}
	return NewAdapter(sw, rec, device, hub, nil), sw, hub
}

func TestNewAdapter_WiresSwitch(t *testing.T) {
	a, sw, _ := newTestAdapter("true")

	if !sw.On() || !sw.isReachable() {
		t.Errorf("On/Reachable = %v/%v, want true/true", sw.On(), sw.isReachable())
	}
	if sw.onGet == nil || sw.onSet == nil || sw.onIdentify == nil {
		t.Error("handlers not installed")
	}
	if !a.HasPower() || !a.IsPowerValue("2") || a.IsPowerValue("1") {
		t.Errorf("power value detection wrong: HasPower=%v", a.HasPower())
	}
}

func TestAdapter_SetWaitsForHub(t *testing.T) {
	a, sw, hub := newTestAdapter("false")

	if err := a.Set(context.Background(), true); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if sw.On() {
		t.Error("On = true before the hub reported the change")
	}
	if calls := hub.setValueCalls(); len(calls) != 1 || calls[0] != "10/1=true" {
		t.Errorf("SetValue calls = %v", calls)
	}

	if !a.Update("1", "true") {
		t.Fatal("Update() = false for own index")
	}
	if !sw.On() {
		t.Error("On = false after hub confirmation")
	}
}

func TestAdapter_UpdateIgnoresOtherIndexes(t *testing.T) {
	a, sw, _ := newTestAdapter("false")

	if a.Update("2", "true") {
		t.Error("Update() = true for another index")
	}
	if sw.On() {
		t.Error("On changed by another index")
	}
}

func TestAdapter_UpdateConsumption(t *testing.T) {
	a, sw, _ := newTestAdapter("false")

	for _, tt := range []struct {
		watts float64
		want  int
	}{
		{0.4, 0},
		{7.5, 8},
		{math.NaN(), 8},
		{math.Inf(1), 8},
		{250, 250},
	} {
		a.UpdateConsumption(tt.watts)
		if got := sw.consumptionWatts(); got != tt.want {
			t.Errorf("UpdateConsumption(%v) -> %d, want %d", tt.watts, got, tt.want)
		}
	}
}
