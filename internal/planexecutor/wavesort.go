package planexecutor

import "sort"

// waveSort groups step ids into waves: each wave holds every remaining
// step whose dependencies have all already appeared in an earlier wave.
// If a pass produces no new wave while steps remain, the leftover ids
// form a cycle.
func waveSort(deps map[string][]string) ([][]string, []string) {
	remaining := make(map[string]bool, len(deps))
	for id := range deps {
		remaining[id] = true
	}

	var waves [][]string
	for len(remaining) > 0 {
		var wave []string
		for id := range remaining {
			ready := true
			for _, dep := range deps[id] {
				if remaining[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, id)
			}
		}

		if len(wave) == 0 {
			leftover := make([]string, 0, len(remaining))
			for id := range remaining {
				leftover = append(leftover, id)
			}
			sort.Strings(leftover)
			return waves, leftover
		}

		sort.Strings(wave)
		waves = append(waves, wave)
		for _, id := range wave {
			delete(remaining, id)
		}
	}

	return waves, nil
}
