package targets

import "time"

type Target struct {
	ID       int       `json:"id"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Size     int       `json:"size"`
	PlacedAt time.Time `json:"-"`
}

// Bounds is the play area the target must stay inside.
type Bounds struct {
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}
