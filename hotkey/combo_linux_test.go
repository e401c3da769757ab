//go:build linux

package hotkey

import "testing"

func TestComboEdges(t *testing.T) {
	var c combo
	steps := []struct {
		code     uint16
		value    int32
		down, up bool
	}{
		{keySpace, keyPress, false, false}, // no modifiers
		{keySpace, keyRelease, false, false},
		{keyLCtrl, keyPress, false, false},
		{keyRShift, keyPress, false, false},
		{keySpace, keyPress, true, false},
		{keySpace, 2, false, false}, // autorepeat
		{keySpace, keyRelease, false, true},
		{keyLCtrl, keyRelease, false, false},
		{keySpace, keyPress, false, false},
	}
	for i, s := range steps {
		down, up := c.feed(s.code, s.value)
		if down != s.down || up != s.up {
			t.Fatalf("step %d: got down=%v up=%v, want down=%v up=%v", i, down, up, s.down, s.up)
		}
	}
}
