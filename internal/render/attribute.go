// SPDX-License-Identifier: MIT
package render

import (
	"html"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"lipsync/internal/analysis"
)

// CSS custom properties written on every frame.
const (
	VarIntensity = "--lip-intensity"
	VarOpen      = "--lip-open"
	VarWidth     = "--lip-width"
	VarRound     = "--lip-round"
)

type AttributeOptions struct {
	Attribute          string            `yaml:"attribute"`
	IntensityAttribute string            `yaml:"intensity_attribute"`
	ClassPrefix        string            `yaml:"class_prefix"`
	UseCoarse          bool              `yaml:"use_coarse"`
	SkipIntensity      bool              `yaml:"skip_intensity"`
	ClassMap           map[string]string `yaml:"class_map"`
}

func DefaultAttributeOptions() AttributeOptions {
	return AttributeOptions{
		Attribute:          "data-viseme",
		IntensityAttribute: "data-intensity",
	}
}

// AttributeSet is the element state an Attribute renderer maintains.
type AttributeSet struct {
	Attrs   map[string]string `json:"attrs"`
	Classes []string          `json:"classes"`
	Vars    map[string]string `json:"vars"`
}

func (s AttributeSet) clone() AttributeSet {
	return AttributeSet{
		Attrs:   maps.Clone(s.Attrs),
		Classes: slices.Clone(s.Classes),
		Vars:    maps.Clone(s.Vars),
	}
}

// String formats the set as HTML attributes in a stable order, ready to be
// spliced into an element's start tag.
func (s AttributeSet) String() string {
	var parts []string
	for _, k := range slices.Sorted(maps.Keys(s.Attrs)) {
		parts = append(parts, k+`="`+html.EscapeString(s.Attrs[k])+`"`)
	}
	if len(s.Classes) > 0 {
		parts = append(parts, `class="`+html.EscapeString(strings.Join(s.Classes, " "))+`"`)
	}
	if len(s.Vars) > 0 {
		var decl []string
		for _, k := range slices.Sorted(maps.Keys(s.Vars)) {
			decl = append(decl, k+": "+s.Vars[k])
		}
		parts = append(parts, `style="`+html.EscapeString(strings.Join(decl, "; "))+`"`)
	}
	return strings.Join(parts, " ")
}

// Attribute mirrors frames into element attributes, a viseme class and
// CSS custom properties.
type Attribute struct {
	mu        sync.Mutex
	opts      AttributeOptions
	set       AttributeSet
	class     string
	destroyed bool
}

var _ StateRenderer = (*Attribute)(nil)

func NewAttribute(opts AttributeOptions) *Attribute {
	if opts.Attribute == "" {
		opts.Attribute = "data-viseme"
	}
	if opts.IntensityAttribute == "" {
		opts.IntensityAttribute = "data-intensity"
	}
	return &Attribute{
		opts: opts,
		set: AttributeSet{
			Attrs: make(map[string]string),
			Vars:  make(map[string]string),
		},
	}
}

// Key is the viseme key written for a frame.
func (a *Attribute) Key(f analysis.Frame) string {
	if a.opts.UseCoarse {
		return f.Coarse.String()
	}
	return f.Viseme.String()
}

func (a *Attribute) Render(f analysis.Frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return ErrDestroyed
	}

	key := a.Key(f)
	a.set.Attrs[a.opts.Attribute] = key
	if !a.opts.SkipIntensity {
		a.set.Attrs[a.opts.IntensityAttribute] = strconv.Itoa(int(math.Round(f.Intensity * 100)))
	}
	a.setClassLocked(key)
	a.setShapeLocked(f.Intensity, f.Shape)
	return nil
}

// RenderState writes the state name as the key and its pose as the shape.
func (a *Attribute) RenderState(s NamedState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return ErrDestroyed
	}
	a.set.Attrs[a.opts.Attribute] = string(s)
	if !a.opts.SkipIntensity {
		a.set.Attrs[a.opts.IntensityAttribute] = "0"
	}
	a.setClassLocked(string(s))
	a.setShapeLocked(0, s.Shape())
	return nil
}

func (a *Attribute) setClassLocked(key string) {
	class, ok := a.opts.ClassMap[key]
	if !ok {
		class = a.opts.ClassPrefix + key
	}
	if class == a.class {
		return
	}
	if i := slices.Index(a.set.Classes, a.class); a.class != "" && i >= 0 {
		a.set.Classes = slices.Delete(a.set.Classes, i, i+1)
	}
	if class != "" {
		a.set.Classes = append(a.set.Classes, class)
	}
	a.class = class
}

func (a *Attribute) setShapeLocked(intensity float64, s analysis.MouthShape) {
	a.set.Vars[VarIntensity] = cssNum(intensity)
	a.set.Vars[VarOpen] = cssNum(s.Open)
	a.set.Vars[VarWidth] = cssNum(s.Width)
	a.set.Vars[VarRound] = cssNum(s.Round)
}

// Set returns a copy of the current attribute set.
func (a *Attribute) Set() AttributeSet {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.set.clone()
}

// Destroy removes everything the renderer wrote.
func (a *Attribute) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.destroyed = true
	clear(a.set.Attrs)
	clear(a.set.Vars)
	a.set.Classes = nil
	a.class = ""
}

func cssNum(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}
