// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package base

// chooseSlot picks the free slot that maximizes the distance to its
// nearest occupied neighbor, middle-of-table for an empty table, and the
// lower index on a tie. slots[i] != 0 means occupied.
// Returns -1 if the table is full.
func chooseSlot(slots []byte) int {
	occupied := false
	for _, s := range slots {
		if s != 0 {
			occupied = true
			break
		}
	}
	if !occupied {
		return len(slots) / 2
	}

	best, bestDist := -1, -1
	for i, s := range slots {
		if s != 0 {
			continue
		}
		dist := nearestOccupiedDistance(slots, i)
		if dist > bestDist {
			best, bestDist = i, dist
		}
	}
	return best
}

func nearestOccupiedDistance(slots []byte, i int) int {
	dist := len(slots)
	for j, s := range slots {
		if s == 0 {
			continue
		}
		d := j - i
		if d < 0 {
			d = -d
		}
		if d < dist {
			dist = d
		}
	}
	return dist
}
