package planexecutor

import "testing"

func TestWaveSort_Linear(t *testing.T) {
	deps := map[string][]string{
		"s1": nil,
		"s2": {"s1"},
	}
	waves, cycle := waveSort(deps)
	if len(cycle) != 0 {
		t.Fatalf("cycle = %v, want none", cycle)
	}
	if len(waves) != 2 {
		t.Fatalf("waves = %v, want 2", waves)
	}
	if waves[0][0] != "s1" || waves[1][0] != "s2" {
		t.Errorf("waves = %v, want [[s1] [s2]]", waves)
	}
}

func TestWaveSort_Diamond(t *testing.T) {
	deps := map[string][]string{
		"a": nil,
		"b": nil,
		"c": {"a", "b"},
	}
	waves, cycle := waveSort(deps)
	if len(cycle) != 0 {
		t.Fatalf("cycle = %v, want none", cycle)
	}
	if len(waves) != 2 {
		t.Fatalf("waves = %v, want 2 waves", waves)
	}
	if len(waves[0]) != 2 {
		t.Errorf("first wave = %v, want both a and b", waves[0])
	}
	if len(waves[1]) != 1 || waves[1][0] != "c" {
		t.Errorf("second wave = %v, want [c]", waves[1])
	}
}

func TestWaveSort_Cycle(t *testing.T) {
	deps := map[string][]string{
		"s1": {"s2"},
		"s2": {"s1"},
	}
	_, cycle := waveSort(deps)
	if len(cycle) != 2 {
		t.Fatalf("cycle = %v, want both steps reported", cycle)
	}
}

func TestWaveSort_Empty(t *testing.T) {
	waves, cycle := waveSort(map[string][]string{})
	if len(waves) != 0 || len(cycle) != 0 {
		t.Errorf("waveSort(empty) = (%v, %v), want (nil, nil)", waves, cycle)
	}
}
