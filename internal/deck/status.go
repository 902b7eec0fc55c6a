package deck

import "github.com/satindergrewal/deckmix/internal/effects"

// Status is a point-in-time snapshot of a deck for the control surface.
type Status struct {
	ID       string               `json:"id"`
	State    string               `json:"state"`
	Track    *Descriptor          `json:"track,omitempty"`
	Position float64              `json:"position"`
	Duration float64              `json:"duration"`
	Volume   float64              `json:"volume"`
	Rate     float64              `json:"rate"`
	Cue      float64              `json:"cue"`
	VU       float64              `json:"vu"`
	Loading  bool                 `json:"loading"`
	Effects  []effects.StageState `json:"effects"`
}

// Status reports the deck state.
func (d *Deck) Status() Status {
	d.mu.Lock()
	s := Status{
		ID:      d.id,
		State:   d.state.String(),
		Cue:     d.cue,
		VU:      d.vu,
		Loading: d.loading,
	}
	if d.track != nil {
		t := *d.track
		s.Track = &t
	}
	d.mu.Unlock()

	s.Position = d.engine.Position()
	s.Duration = d.engine.Duration()
	s.Volume = d.engine.Volume()
	s.Rate = d.engine.PlaybackRate()
	s.Effects = d.effects.Stages()
	return s
}
