// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package base

import "testing"

func TestChooseSlot(t *testing.T) {
	cases := map[string]struct {
		slots []byte
		want  int
	}{
		"empty table picks the middle": {
			slots: make([]byte, 20),
			want:  10,
		},
		"single occupant, winner is the farthest free slot": {
			slots: func() []byte { s := make([]byte, 10); s[0] = 1; return s }(),
			want:  9,
		},
		"tie between two equidistant slots favors the lower index": {
			slots: func() []byte { s := make([]byte, 4); s[0] = 1; s[3] = 2; return s }(),
			want:  1,
		},
		"full table returns -1": {
			slots: []byte{1, 2, 3},
			want:  -1,
		},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			got := chooseSlot(c.slots)
			if got != c.want {
				t.Errorf("chooseSlot(%v) = %d, want %d", c.slots, got, c.want)
			}
		})
	}
}
