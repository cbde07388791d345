package listrange

import "testing"

func TestBounds(t *testing.T) {
	tests := []struct {
		Start, Stop int64
		N           int
		Lo, Hi      int
		OK          bool
	}{
		{0, -1, 5, 0, 5, true},
		{0, 0, 5, 0, 1, true},
		{1, 2, 5, 1, 3, true},
		{-2, -1, 5, 3, 5, true},
		{-20, -1, 5, 0, 5, true},
		{0, 100, 5, 0, 5, true},
		{5, 10, 5, 0, 0, false},
		{3, 1, 5, 0, 0, false},
		{0, -1, 0, 0, 0, false},
		{-1, -1, 1, 0, 1, true},
	}
	for i, tt := range tests {
		lo, hi, ok := Bounds(tt.Start, tt.Stop, tt.N)
		if lo != tt.Lo || hi != tt.Hi || ok != tt.OK {
			t.Errorf("#%d: Bounds(%d, %d, %d) = (%d, %d, %v), want (%d, %d, %v)",
				i, tt.Start, tt.Stop, tt.N, lo, hi, ok, tt.Lo, tt.Hi, tt.OK)
		}
	}
}
