package broker

import "testing"

func TestRound4(t *testing.T) {
	cases := map[float64]float64{
		0.123456: 0.1235,
		1.0:      1.0,
		0.0:      0.0,
		0.99995:  1.0,
	}
	for in, want := range cases {
		if got := round4(in); got != want {
			t.Errorf("round4(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestClamp01(t *testing.T) {
	if got := clamp01(-0.5); got != 0 {
		t.Errorf("clamp01(-0.5) = %v, want 0", got)
	}
	if got := clamp01(1.5); got != 1 {
		t.Errorf("clamp01(1.5) = %v, want 1", got)
	}
	if got := clamp01(0.4); got != 0.4 {
		t.Errorf("clamp01(0.4) = %v, want 0.4", got)
	}
}
