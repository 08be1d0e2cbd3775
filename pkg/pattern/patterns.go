package pattern

import (
	"math"
	"time"

	"github.com/galdor/go-ledmesh/pkg/ledmesh"
)

type Rainbow struct {
	hue uint8
}

func (p *Rainbow) Render(frame *ledmesh.Frame, ctx *Context) {
	p.hue += ctx.Settings.Speed

	for i := range frame.Pixels {
		frame.Pixels[i] = HSV(p.hue+uint8(i), 255, 255)
	}
}

type Chase struct {
	last time.Duration
	pos  int
	hue  uint8
}

func (p *Chase) Render(frame *ledmesh.Frame, ctx *Context) {
	n := frame.Len()
	if n == 0 {
		return
	}

	step := time.Duration(scaleRange(9-int(ctx.Settings.Speed), 0, 9, 5, 200)) *
		time.Millisecond
	if ctx.Now-p.last < step {
		return
	}

	p.last = ctx.Now
	p.pos = (p.pos + 1) % n

	fade(frame, scaleRange(int(ctx.Settings.Decay), 0, 9, 50, 4))

	for i := 0; i < n; i += 20 {
		for t := 0; t < 10; t++ {
			idx := ((p.pos+i-t)%n + n) % n
			c := HSV(p.hue+uint8(i), 255, uint8(scaleRange(t, 0, 9, 255, 50)))
			frame.Pixels[idx] = maxColor(frame.Pixels[idx], c)
		}
	}

	p.hue++
}

type Confetti struct {
	hue uint8
}

func (p *Confetti) Render(frame *ledmesh.Frame, ctx *Context) {
	n := frame.Len()
	if n == 0 {
		return
	}

	fade(frame, scaleRange(int(ctx.Settings.Decay), 0, 9, 10, 100))

	addGlitter(frame, ctx, int(ctx.Settings.Sparkle)*25)

	for i := 0; i < int(ctx.Settings.Speed)*2; i++ {
		idx := ctx.Rand.Intn(n)
		c := HSV(p.hue+uint8(ctx.Rand.Intn(64)), 200, 255)
		frame.Pixels[idx] = maxColor(frame.Pixels[idx], c)
	}

	p.hue++
}

func addGlitter(frame *ledmesh.Frame, ctx *Context, chance int) {
	if ctx.Rand.Intn(256) < chance {
		idx := ctx.Rand.Intn(frame.Len())
		frame.Pixels[idx] = addColor(frame.Pixels[idx],
			ledmesh.Color{R: 255, G: 255, B: 255})
	}
}

type ColorWheel struct {
	hue uint8
}

func (p *ColorWheel) Render(frame *ledmesh.Frame, ctx *Context) {
	p.hue += uint8(scaleRange(int(ctx.Settings.Speed), 0, 9, 1, 12))
	frame.Fill(HSV(p.hue, 255, 255))
}

type PulseWave struct {
	center      int
	initialized bool
	hue         uint8
	wave        uint8
}

func (p *PulseWave) Render(frame *ledmesh.Frame, ctx *Context) {
	n := frame.Len()
	if n == 0 {
		return
	}

	if !p.initialized {
		p.center = n / 2
		p.initialized = true
	}

	fade(frame, scaleRange(int(ctx.Settings.Decay), 0, 9, 30, 150))

	p.wave += uint8(scaleRange(int(ctx.Settings.Speed), 0, 9, 1, 8))

	saturation := uint8(255 - min(int(ctx.Settings.Sparkle)*20, 255))

	for i := range frame.Pixels {
		distance := i - p.center
		if distance < 0 {
			distance = -distance
		}

		value := sin8(p.wave - uint8(distance*8))
		if value > 128 {
			c := HSV(p.hue+uint8(distance*2), saturation, value)
			frame.Pixels[i] = addColor(frame.Pixels[i], c)
		}
	}

	p.hue += 2

	if n >= 4 && ctx.Rand.Intn(256) < 5 {
		p.center = n/4 + ctx.Rand.Intn(n/2)
	}
}

// Fire simulates heat cells mirrored from the middle of the strip.
type Fire struct {
	heat []uint8
}

func (p *Fire) Render(frame *ledmesh.Frame, ctx *Context) {
	half := frame.Len() / 2
	if half == 0 {
		return
	}

	if len(p.heat) != half {
		p.heat = make([]uint8, half)
	}

	speed := int(ctx.Settings.Speed)
	cooling := scaleRange(speed, 0, 9, 100, 20)
	sparking := scaleRange(speed, 0, 9, 50, 200)

	for i := range p.heat {
		decrease := ctx.Rand.Intn(cooling*10/half + 2)
		p.heat[i] = uint8(max(int(p.heat[i])-decrease, 0))
	}

	for k := half - 1; k >= 2; k-- {
		p.heat[k] = uint8((int(p.heat[k-1]) + 2*int(p.heat[k-2])) / 3)
	}

	if ctx.Rand.Intn(256) < sparking {
		idx := ctx.Rand.Intn(min(7, half))
		p.heat[idx] = uint8(min(int(p.heat[idx])+160+ctx.Rand.Intn(80), 255))
	}

	for j, h := range p.heat {
		c := heatColor(uint8(int(h) * 200 / 255))
		frame.Pixels[half+j] = c
		frame.Pixels[half-1-j] = c
	}
}

func heatColor(t uint8) ledmesh.Color {
	// Black to red to yellow to white
	t3 := int(t) * 3

	switch {
	case t3 < 256:
		return ledmesh.Color{R: uint8(t3)}
	case t3 < 512:
		return ledmesh.Color{R: 255, G: uint8(t3 - 256)}
	default:
		return ledmesh.Color{R: 255, G: 255, B: uint8(min(t3-512, 255))}
	}
}

func sin8(theta uint8) uint8 {
	angle := float64(theta) / 256.0 * 2.0 * math.Pi
	return uint8(math.Round(127.5 + 127.5*math.Sin(angle)))
}
