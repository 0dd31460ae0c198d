// Package visualizer turns the microphone level into pulsing ring geometry.
//
// Geometry is computed on a 300×300 canvas centred on the origin. [Rings] is a
// pure function of its inputs; [Animator] owns the phase and advances it once
// per frame. [Render] rasterises rings into terminal rows.
package visualizer

import (
	"math"
	"strings"
)

// Canvas is the side length of the square canvas the geometry is laid out on.
const Canvas = 300.0

// Step is the phase advance per animation frame.
const Step = 0.05

const (
	ringCount      = 3
	baseRadius     = 30.0
	ringSpacing    = 15.0
	wobble         = 5.0
	volumeGain     = 200.0
	maxVolumeScale = 50.0
	baseAlpha      = 0.5
	alphaFalloff   = 0.15
	baseLineWidth  = 2.0
	lineWidthGain  = 10.0
)

// Ring is one circle centred on the canvas.
type Ring struct {
	Radius    float64
	Alpha     float64
	LineWidth float64
}

// Rings returns the rings for phase t. It returns nil when inactive so the
// canvas is cleared.
func Rings(active bool, volume, t float64) []Ring {
	if !active {
		return nil
	}
	volumeScale := math.Min(volume*volumeGain, maxVolumeScale)
	lineWidth := baseLineWidth + volume*lineWidthGain

	rings := make([]Ring, ringCount)
	for i := range rings {
		fi := float64(i)
		rings[i] = Ring{
			Radius:    baseRadius + fi*ringSpacing + math.Sin(t+fi)*wobble + volumeScale,
			Alpha:     baseAlpha - fi*alphaFalloff,
			LineWidth: lineWidth,
		}
	}
	return rings
}

// Animator holds the animation phase. The zero value is ready to use.
type Animator struct {
	t float64
}

// Next advances the phase and returns the rings for the new frame. The phase
// does not advance while inactive.
func (a *Animator) Next(active bool, volume float64) []Ring {
	if !active {
		return nil
	}
	a.t += Step
	return Rings(active, volume, a.t)
}

// Phase returns the current phase.
func (a *Animator) Phase() float64 { return a.t }

// glyphs maps ring alpha to a character, strongest first.
var glyphs = []struct {
	minAlpha float64
	r        rune
}{
	{0.45, '●'},
	{0.3, '•'},
	{0, '·'},
}

// Render rasterises rings onto a cols×rows grid of terminal cells. Cells are
// assumed twice as tall as they are wide. A cell is drawn when its centre lies
// within half a stroke of a ring; overlapping rings draw the most opaque.
func Render(rings []Ring, cols, rows int) []string {
	if cols <= 0 || rows <= 0 {
		return nil
	}
	// Fit the canvas to the grid, keeping circles round.
	scale := math.Min(float64(cols), float64(rows)*2) / Canvas
	cellW := 1 / scale
	cellH := 2 / scale

	lines := make([]string, rows)
	var b strings.Builder
	for y := range rows {
		b.Reset()
		dy := (float64(y) + 0.5 - float64(rows)/2) * cellH
		for x := range cols {
			dx := (float64(x) + 0.5 - float64(cols)/2) * cellW
			d := math.Hypot(dx, dy)

			best := -1.0
			for _, r := range rings {
				half := math.Max(r.LineWidth, cellW) / 2
				if math.Abs(d-r.Radius) <= half && r.Alpha > best {
					best = r.Alpha
				}
			}
			b.WriteRune(glyph(best))
		}
		lines[y] = b.String()
	}
	return lines
}

func glyph(alpha float64) rune {
	if alpha < 0 {
		return ' '
	}
	for _, g := range glyphs {
		if alpha >= g.minAlpha {
			return g.r
		}
	}
	return ' '
}
