package transport

import (
	"errors"
	"math"
	"testing"
)

type fakeClock struct{ t float64 }

func (c *fakeClock) Now() float64      { return c.t }
func (c *fakeClock) advance(d float64) { c.t += d }

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestNewTransportIsStopped(t *testing.T) {
	tr := New(&fakeClock{t: 12})
	if tr.IsPlaying() {
		t.Error("new transport should not be playing")
	}
	if tr.Position() != 0 {
		t.Errorf("Position = %v, want 0", tr.Position())
	}
	if tr.Rate() != 1 {
		t.Errorf("Rate = %v, want 1", tr.Rate())
	}
}

func TestPositionMonotonic(t *testing.T) {
	clk := &fakeClock{t: 100}
	tr := New(clk)
	tr.Play(0)

	prev := tr.Position()
	for i := 0; i < 50; i++ {
		clk.advance(0.016)
		pos := tr.Position()
		if pos < prev {
			t.Fatalf("position went backwards: %v -> %v", prev, pos)
		}
		prev = pos
	}

	tr.Pause()
	frozen := tr.Position()
	clk.advance(5)
	if tr.Position() != frozen {
		t.Errorf("paused position drifted: %v -> %v", frozen, tr.Position())
	}

	tr.Play(frozen)
	clk.advance(1)
	if !near(tr.Position(), frozen+1) {
		t.Errorf("resumed position = %v, want %v", tr.Position(), frozen+1)
	}
}

func TestPauseWhenStoppedIsNoop(t *testing.T) {
	clk := &fakeClock{}
	tr := New(clk)
	tr.Seek(7)
	tr.Pause()
	if tr.Position() != 7 || tr.IsPlaying() {
		t.Errorf("Pause on stopped transport changed state: pos=%v playing=%v", tr.Position(), tr.IsPlaying())
	}
}

func TestSeek(t *testing.T) {
	tests := []struct {
		name    string
		playing bool
		target  float64
	}{
		{"paused", false, 42},
		{"playing", true, 30},
		{"past end", true, 9999},
		{"rewind", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := &fakeClock{t: 3}
			tr := New(clk)
			if tt.playing {
				tr.Play(10)
				clk.advance(2)
			}
			tr.Seek(tt.target)
			if !near(tr.Position(), tt.target) {
				t.Errorf("Position after Seek(%v) = %v", tt.target, tr.Position())
			}
			if tr.IsPlaying() != tt.playing {
				t.Errorf("IsPlaying = %v, want %v", tr.IsPlaying(), tt.playing)
			}
		})
	}
}

func TestRateScaling(t *testing.T) {
	for _, r := range []float64{0.5, 1, 1.08, 2} {
		clk := &fakeClock{t: 50}
		tr := New(clk)
		if err := tr.SetRate(r); err != nil {
			t.Fatalf("SetRate(%v): %v", r, err)
		}
		tr.Play(5)
		clk.advance(10)
		if got := tr.Position() - 5; !near(got, r*10) {
			t.Errorf("rate %v: advanced %v, want %v", r, got, r*10)
		}
	}
}

func TestSetRateKeepsPosition(t *testing.T) {
	clk := &fakeClock{}
	tr := New(clk)
	tr.Play(0)
	clk.advance(4)
	before := tr.Position()

	if err := tr.SetRate(1.5); err != nil {
		t.Fatal(err)
	}
	if !near(tr.Position(), before) {
		t.Errorf("SetRate moved position: %v -> %v", before, tr.Position())
	}
	clk.advance(2)
	if !near(tr.Position(), before+3) {
		t.Errorf("Position = %v, want %v", tr.Position(), before+3)
	}
}

func TestSetRateRejectsInvalid(t *testing.T) {
	tr := New(&fakeClock{})
	for _, r := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := tr.SetRate(r); !errors.Is(err, ErrInvalidRate) {
			t.Errorf("SetRate(%v) err = %v, want ErrInvalidRate", r, err)
		}
	}
	if tr.Rate() != 1 {
		t.Errorf("Rate changed to %v after rejected updates", tr.Rate())
	}
}

func TestStopResets(t *testing.T) {
	clk := &fakeClock{}
	tr := New(clk)
	tr.Play(20)
	clk.advance(1)
	tr.Stop()
	if tr.IsPlaying() || tr.Position() != 0 {
		t.Errorf("after Stop: playing=%v pos=%v", tr.IsPlaying(), tr.Position())
	}
}
