package autocrop

import (
	"math"
	"sort"

	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// Smooth blends each keyframe position toward the raw detection with
// smoothed = prev + (raw - prev) * factor, then clamps the step so the window
// never moves more than maxMovement pixels (Euclidean) between consecutive
// keyframes. Keyframes are processed in time order; the input is not modified.
// Window sizes are kept from the raw keyframes. A factor outside (0, 1] is
// treated as 1 and maxMovement <= 0 disables the clamp.
func Smooth(keyframes []models.CropKeyframe, factor, maxMovement float64) []models.CropKeyframe {
	out := make([]models.CropKeyframe, len(keyframes))
	copy(out, keyframes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	if factor <= 0 || factor > 1 {
		factor = 1
	}

	for i := 1; i < len(out); i++ {
		prev := out[i-1].Region
		raw := out[i].Region

		dx := (float64(raw.X) - float64(prev.X)) * factor
		dy := (float64(raw.Y) - float64(prev.Y)) * factor
		if dist := math.Hypot(dx, dy); maxMovement > 0 && dist > maxMovement {
			scale := maxMovement / dist
			dx *= scale
			dy *= scale
		}

		stepX, stepY := math.Round(dx), math.Round(dy)
		if maxMovement > 0 && math.Hypot(stepX, stepY) > maxMovement {
			stepX, stepY = math.Trunc(dx), math.Trunc(dy)
		}

		out[i].Region.X = prev.X + int(stepX)
		out[i].Region.Y = prev.Y + int(stepY)
	}
	return out
}

// MaxStep returns the largest Euclidean displacement between consecutive keyframes
func MaxStep(keyframes []models.CropKeyframe) float64 {
	var worst float64
	for i := 1; i < len(keyframes); i++ {
		a, b := keyframes[i-1].Region, keyframes[i].Region
		worst = math.Max(worst, math.Hypot(float64(b.X-a.X), float64(b.Y-a.Y)))
	}
	return worst
}
