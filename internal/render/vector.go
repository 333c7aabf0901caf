// SPDX-License-Identifier: MIT
package render

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"lipsync/internal/analysis"
)

type VectorOptions struct {
	Width        float64 `yaml:"width"`
	Height       float64 `yaml:"height"`
	LipColor     string  `yaml:"lip_color"`
	InnerColor   string  `yaml:"inner_color"`
	TeethColor   string  `yaml:"teeth_color"`
	HideTeeth    bool    `yaml:"hide_teeth"`
	LipThickness float64 `yaml:"lip_thickness"`
}

func DefaultVectorOptions() VectorOptions {
	return VectorOptions{
		Width:        120,
		Height:       80,
		LipColor:     "#cc4444",
		InnerColor:   "#3a1111",
		TeethColor:   "#ffffff",
		LipThickness: 3,
	}
}

func (o VectorOptions) validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("vector: invalid size %gx%g", o.Width, o.Height)
	}
	if o.LipThickness < 0 {
		return fmt.Errorf("vector: invalid lip thickness %g", o.LipThickness)
	}
	return nil
}

// Paths is one rendered mouth. Empty Inner or Teeth means the part is hidden
// for the current shape.
type Paths struct {
	Lip          string
	Inner        string
	InnerOpacity float64
	Teeth        string
	TeethOpacity float64
}

// Vector draws the mouth as three SVG paths derived from the frame's
// mouth shape.
type Vector struct {
	mu        sync.Mutex
	opts      VectorOptions
	shape     analysis.MouthShape
	paths     Paths
	destroyed bool
}

var _ StateRenderer = (*Vector)(nil)

// NewVector starts at the rest shape.
func NewVector(opts VectorOptions) (*Vector, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	v := &Vector{opts: opts, shape: analysis.VisemeSil.Shape()}
	v.paths = MouthPaths(v.shape, opts)
	return v, nil
}

func (v *Vector) Render(f analysis.Frame) error {
	return v.draw(f.Shape)
}

func (v *Vector) RenderState(s NamedState) error {
	return v.draw(s.Shape())
}

func (v *Vector) draw(shape analysis.MouthShape) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.destroyed {
		return ErrDestroyed
	}
	if shape == v.shape {
		return nil
	}
	v.shape = shape
	v.paths = MouthPaths(shape, v.opts)
	return nil
}

// Options returns a copy of the current options.
func (v *Vector) Options() VectorOptions {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.opts
}

// UpdateOptions replaces the options and redraws the last shape.
func (v *Vector) UpdateOptions(opts VectorOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.destroyed {
		return ErrDestroyed
	}
	v.opts = opts
	v.paths = MouthPaths(v.shape, opts)
	return nil
}

func (v *Vector) Paths() Paths {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paths
}

// SVG returns a standalone <svg> document for the current shape.
func (v *Vector) SVG() string {
	var sb strings.Builder
	v.WriteTo(&sb)
	return sb.String()
}

func (v *Vector) WriteTo(w io.Writer) (int64, error) {
	v.mu.Lock()
	opts, p, destroyed := v.opts, v.paths, v.destroyed
	v.mu.Unlock()
	if destroyed {
		return 0, ErrDestroyed
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" width="%s" height="%s" viewBox="0 0 %s %s">`,
		num(opts.Width), num(opts.Height), num(opts.Width), num(opts.Height))
	if p.Inner != "" {
		fmt.Fprintf(&sb, `<path class="mouth-inner" d="%s" fill="%s" opacity="%s"/>`, p.Inner, opts.InnerColor, num(p.InnerOpacity))
	}
	if p.Teeth != "" {
		fmt.Fprintf(&sb, `<path class="mouth-teeth" d="%s" fill="%s" opacity="%s"/>`, p.Teeth, opts.TeethColor, num(p.TeethOpacity))
	}
	fmt.Fprintf(&sb, `<path class="mouth-lip" d="%s" fill="none" stroke="%s" stroke-width="%s" stroke-linecap="round" stroke-linejoin="round"/>`,
		p.Lip, opts.LipColor, num(opts.LipThickness))
	sb.WriteString(`</svg>`)
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func (v *Vector) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.destroyed = true
	v.paths = Paths{}
}

// MouthPaths computes the lip outline, inner cavity and teeth for a shape.
// Width narrows as the lips round; the inner cavity appears once the mouth
// opens past 2% and the teeth past 10%.
func MouthPaths(s analysis.MouthShape, opts VectorOptions) Paths {
	W, H := opts.Width, opts.Height
	cx, cy := W/2, H/2

	mouthW := W*0.3 + W*0.5*s.Width*(1-s.Round*0.4)
	mouthH := math.Max(1, H*0.7*s.Open)
	halfW, halfH := mouthW/2, mouthH/2
	cpx := halfW * (0.6 + s.Round*0.3)
	cpy := halfH * (0.8 + s.Open*0.2)

	var p Paths
	p.Lip = lipPath(cx, cy, halfW, halfH, cpx, cpy)

	if s.Open > 0.02 {
		const inset = 0.85
		p.Inner = lipPath(cx, cy, halfW*inset, halfH*inset, cpx*inset, cpy*inset) + " Z"
		p.InnerOpacity = math.Min(1, s.Open*2)
	}

	if !opts.HideTeeth && s.Open > 0.1 {
		teethW := halfW * 0.7
		teethH := math.Min(halfH*0.3, 8)
		teethY := cy - halfH*0.3
		p.Teeth = fmt.Sprintf("M %s %s Q %s %s %s %s L %s %s Q %s %s %s %s Z",
			num(cx-teethW), num(teethY),
			num(cx), num(teethY-2), num(cx+teethW), num(teethY),
			num(cx+teethW), num(teethY+teethH),
			num(cx), num(teethY+teethH+1), num(cx-teethW), num(teethY+teethH))
		p.TeethOpacity = math.Min(0.9, s.Open*1.5)
	}
	return p
}

// lipPath is an upper and a lower cubic curve between the mouth corners.
func lipPath(cx, cy, halfW, halfH, cpx, cpy float64) string {
	left, right := cx-halfW, cx+halfW
	return fmt.Sprintf("M %s %s C %s %s %s %s %s %s C %s %s %s %s %s %s",
		num(left), num(cy),
		num(cx-cpx), num(cy-cpy), num(cx+cpx), num(cy-cpy), num(right), num(cy),
		num(cx+cpx), num(cy+cpy), num(cx-cpx), num(cy+cpy), num(left), num(cy))
}

func num(f float64) string {
	return strconv.FormatFloat(math.Round(f*100)/100, 'f', -1, 64)
}
