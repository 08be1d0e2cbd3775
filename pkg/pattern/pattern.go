package pattern

import (
	"fmt"
	"math/rand"

	"github.com/galdor/go-ledmesh/pkg/ledmesh"
)

type Id int

const (
	IdRainbow Id = iota
	IdChase
	IdConfetti
	IdColorWheel
	IdPulseWave
	IdFire

	nbIds
)

var idNames = map[Id]string{
	IdRainbow:    "rainbow",
	IdChase:      "chase",
	IdConfetti:   "confetti",
	IdColorWheel: "colorWheel",
	IdPulseWave:  "pulseWave",
	IdFire:       "fire",
}

func (id Id) String() string {
	if name, found := idNames[id]; found {
		return name
	}

	return fmt.Sprintf("pattern-%d", int(id))
}

func (id Id) Valid() bool {
	return id >= 0 && id < nbIds
}

func ParseId(s string) (Id, error) {
	for id, name := range idNames {
		if name == s {
			return id, nil
		}
	}

	return 0, fmt.Errorf("unknown pattern %q", s)
}

func Ids() []Id {
	ids := make([]Id, nbIds)
	for i := range ids {
		ids[i] = Id(i)
	}

	return ids
}

type Context struct {
	ledmesh.RenderContext

	Settings Settings
	Rand     *rand.Rand
}

// Source renders one frame of a pattern. Sources keep their own animation
// state between calls and always render at full brightness.
type Source interface {
	Render(*ledmesh.Frame, *Context)
}

func NewSource(id Id) (Source, error) {
	switch id {
	case IdRainbow:
		return &Rainbow{}, nil
	case IdChase:
		return &Chase{}, nil
	case IdConfetti:
		return &Confetti{}, nil
	case IdColorWheel:
		return &ColorWheel{}, nil
	case IdPulseWave:
		return &PulseWave{}, nil
	case IdFire:
		return &Fire{}, nil
	default:
		return nil, fmt.Errorf("unknown pattern %d", id)
	}
}

// scaleRange maps v from [inMin, inMax] to [outMin, outMax].
func scaleRange(v, inMin, inMax, outMin, outMax int) int {
	return (v-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}

func fade(frame *ledmesh.Frame, amount int) {
	frame.Scale(uint8(255 - min(max(amount, 0), 255)))
}

func addColor(a, b ledmesh.Color) ledmesh.Color {
	return ledmesh.Color{
		R: uint8(min(int(a.R)+int(b.R), 255)),
		G: uint8(min(int(a.G)+int(b.G), 255)),
		B: uint8(min(int(a.B)+int(b.B), 255)),
	}
}

func maxColor(a, b ledmesh.Color) ledmesh.Color {
	return ledmesh.Color{
		R: max(a.R, b.R),
		G: max(a.G, b.G),
		B: max(a.B, b.B),
	}
}

// HSV converts a color whose hue, saturation and value are all in [0, 255].
func HSV(h, s, v uint8) ledmesh.Color {
	if s == 0 {
		return ledmesh.Color{R: v, G: v, B: v}
	}

	region := int(h) / 43
	remainder := (int(h) - region*43) * 6

	vi, si := int(v), int(s)

	p := vi * (255 - si) / 255
	q := vi * (255 - si*remainder/255) / 255
	t := vi * (255 - si*(255-remainder)/255) / 255

	var r, g, b int

	switch region {
	case 0:
		r, g, b = vi, t, p
	case 1:
		r, g, b = q, vi, p
	case 2:
		r, g, b = p, vi, t
	case 3:
		r, g, b = p, q, vi
	case 4:
		r, g, b = t, p, vi
	default:
		r, g, b = vi, p, q
	}

	return ledmesh.Color{R: uint8(r), G: uint8(g), B: uint8(b)}
}
