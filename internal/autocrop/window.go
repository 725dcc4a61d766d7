// Package autocrop computes subject-tracking crop keyframes for reframing a
// source video to a different aspect ratio.
package autocrop

import (
	"math"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// CropWindow returns the largest even-sized window with the given aspect ratio
// (width / height) that fits inside a srcW x srcH frame.
func CropWindow(srcW, srcH int, aspect float64) (int, int, error) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0, exporterr.Validationf("invalid source dimensions %dx%d", srcW, srcH)
	}
	if aspect <= 0 || math.IsNaN(aspect) || math.IsInf(aspect, 0) {
		return 0, 0, exporterr.Validationf("invalid aspect ratio %v", aspect)
	}

	w, h := srcW, srcH
	if float64(srcW)/float64(srcH) > aspect {
		w = int(math.Round(float64(srcH) * aspect))
	} else {
		h = int(math.Round(float64(srcW) / aspect))
	}
	w, h = even(min(w, srcW)), even(min(h, srcH))
	if w <= 0 || h <= 0 {
		return 0, 0, exporterr.Validationf("aspect ratio %v leaves no usable window in %dx%d", aspect, srcW, srcH)
	}
	return w, h, nil
}

func even(v int) int {
	return v &^ 1
}

// Centered places a w x h window centered on (cx, cy), clipped to the frame
func Centered(srcW, srcH, w, h int, cx, cy float64) models.CropRegion {
	x := int(math.Round(cx - float64(w)/2))
	y := int(math.Round(cy - float64(h)/2))
	return models.CropRegion{
		X:      clampInt(x, 0, srcW-w),
		Y:      clampInt(y, 0, srcH-h),
		Width:  w,
		Height: h,
	}
}

// CenterCrop returns the static center crop used when nothing was detected
func CenterCrop(srcW, srcH int, aspect float64) (models.CropRegion, error) {
	w, h, err := CropWindow(srcW, srcH, aspect)
	if err != nil {
		return models.CropRegion{}, err
	}
	return Centered(srcW, srcH, w, h, float64(srcW)/2, float64(srcH)/2), nil
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(v, hi))
}
