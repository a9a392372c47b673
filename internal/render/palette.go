// Package render writes segmentation and sample-selection results as
// images and charts: label maps (PNG or WebP), a gonum/plot scatter of
// the backscatter samples and a go-echarts HTML version of the same.
package render

import (
	"image/color"
	"math"
)

// goldenRatio spreads consecutive ids around the hue wheel.
const goldenRatio = 0.618033988749895

// LabelColor returns the display color of segment id. Id 0 (background)
// is black; every other id maps to a fixed hue, so a label keeps its color
// across frames regardless of how many segments exist.
func LabelColor(id int32) color.RGBA {
	if id == 0 {
		return color.RGBA{A: 255}
	}
	_, hue := math.Modf(float64(id) * goldenRatio)
	r, g, b := hslToRGB(hue, 0.7, 0.5)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
