package statesort

import "github.com/chewxy/math32"

// LODPolicy picks a level of detail from camera distance. Distances holds
// ascending switch points; level i is used below Distances[i].
type LODPolicy struct {
	Distances  []float32
	Hysteresis float32 // fraction of a switch point that must be crossed
}

// Level returns the raw level for dist without debouncing.
func (l LODPolicy) Level(dist float32) int {
	for i, d := range l.Distances {
		if dist < d {
			return i
		}
	}
	return len(l.Distances)
}

// Select returns the level to use given the current one. A switch only
// happens once dist is past the switch point by the hysteresis margin.
func (l LODPolicy) Select(cur int, dist float32) int {
	target := l.Level(dist)
	if cur < 0 || cur > len(l.Distances) {
		return target
	}
	h := l.Hysteresis
	for target > cur && dist <= l.Distances[target-1]*(1+h) {
		target--
	}
	for target < cur && dist >= l.Distances[target]*(1-h) {
		target++
	}
	return target
}

// NeedsUpdate reports whether dist moved far enough from the distance of the
// last evaluation to be worth re-evaluating.
func (l LODPolicy) NeedsUpdate(last, dist float32) bool {
	return math32.Abs(dist-last) > l.Hysteresis*max(last, 1)
}
