package logic

import (
	"math"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScaleEndpoints(t *testing.T) {
	s := DefaultScaler()

	tests := []struct {
		raw  int
		want float64
	}{
		{0, -40.0},
		{27648, 100.0},
		{13824, 30.0},
		{6912, -5.0},
	}

	for _, tt := range tests {
		if got := s.Scale(tt.raw); !approx(got, tt.want) {
			t.Errorf("Scale(%d): got %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestScaleExtrapolatesByDefault(t *testing.T) {
	s := DefaultScaler()

	// 32767 is the S7 overflow value for analog inputs.
	got := s.Scale(32767)
	want := -40.0 + 32767.0*140.0/27648.0
	if !approx(got, want) {
		t.Errorf("Scale(32767): got %v, want %v", got, want)
	}
	if got <= 100 {
		t.Errorf("expected extrapolation above 100, got %v", got)
	}

	if got := s.Scale(-1000); got >= -40 {
		t.Errorf("expected extrapolation below -40, got %v", got)
	}
}

func TestScaleClampPolicy(t *testing.T) {
	s := DefaultScaler()
	s.Policy = Clamp

	if got := s.Scale(32767); got != 100 {
		t.Errorf("Scale(32767) clamped: got %v, want 100", got)
	}
	if got := s.Scale(-5); got != -40 {
		t.Errorf("Scale(-5) clamped: got %v, want -40", got)
	}
	if got := s.Scale(13824); !approx(got, 30) {
		t.Errorf("Scale(13824) clamped: got %v, want 30", got)
	}
}

func TestParseOutOfRange(t *testing.T) {
	for in, want := range map[string]OutOfRange{"": Extrapolate, "extrapolate": Extrapolate, "clamp": Clamp} {
		got, err := ParseOutOfRange(in)
		if err != nil {
			t.Errorf("ParseOutOfRange(%q): unexpected error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseOutOfRange(%q): got %q, want %q", in, got, want)
		}
	}
	if _, err := ParseOutOfRange("wrap"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestScalerValidate(t *testing.T) {
	if err := DefaultScaler().Validate(); err != nil {
		t.Errorf("default scaler: unexpected error: %v", err)
	}
	s := DefaultScaler()
	s.RawMax = s.RawMin
	if err := s.Validate(); err == nil {
		t.Error("expected error for empty raw range")
	}
}

func TestRawWord(t *testing.T) {
	got, err := RawWord([]byte{0x6C, 0x00})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 27648 {
		t.Errorf("got %d, want 27648", got)
	}

	if _, err := RawWord([]byte{0x01}); err == nil {
		t.Error("expected error for short buffer")
	}
}

func TestUnscaleInvertsScale(t *testing.T) {
	s := DefaultScaler()
	for _, raw := range []int{0, 1, 13824, 20000, 27648} {
		if got := s.Unscale(s.Scale(raw)); got != raw {
			t.Errorf("Unscale(Scale(%d)): got %d", raw, got)
		}
	}
}
