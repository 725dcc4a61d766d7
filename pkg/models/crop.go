package models

// CropRegion is a window inside the source frame
type CropRegion struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

// CropKeyframe pins the crop window at an instant; windows are interpolated between keyframes
type CropKeyframe struct {
	Time   float64    `json:"time"`
	Region CropRegion `json:"region"`
}

// CenterX returns the horizontal center of the region
func (r CropRegion) CenterX() float64 {
	return float64(r.X) + float64(r.Width)/2
}

// CenterY returns the vertical center of the region
func (r CropRegion) CenterY() float64 {
	return float64(r.Y) + float64(r.Height)/2
}

// Within reports whether the region fits inside a frame of the given size
func (r CropRegion) Within(frameWidth, frameHeight int) bool {
	return r.X >= 0 && r.Y >= 0 && r.Width > 0 && r.Height > 0 &&
		r.X+r.Width <= frameWidth && r.Y+r.Height <= frameHeight
}
