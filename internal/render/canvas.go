// SPDX-License-Identifier: MIT
package render

import (
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"sync"

	"golang.org/x/image/draw"

	"lipsync/internal/analysis"
)

// CanvasOptions describes a sprite sheet laid out as a grid of equally
// sized cells.
type CanvasOptions struct {
	FrameWidth  int
	FrameHeight int

	// Columns in the sheet. Zero derives it from the sheet width.
	Columns int

	// VisemeMap maps a fine or coarse viseme key ("aa", "D") to a cell.
	// Nil uses the enum order of the fine visemes.
	VisemeMap map[string]int

	// StateMap maps a named state to a cell. Missing states fall back to
	// the rest cell.
	StateMap map[NamedState]int

	OffsetX int
	OffsetY int
	Scale   float64

	// KeepBackground skips clearing the surface before each blit, so a new
	// cell is composited over the previous one. Rendering the cell already
	// shown draws nothing, which keeps translucent sprites from stacking.
	KeepBackground bool

	// Interpolator scales cells when Scale is not 1. Nil uses nearest
	// neighbour.
	Interpolator draw.Interpolator
}

// DefaultVisemeMap assigns cell i to the i-th fine viseme.
func DefaultVisemeMap() map[string]int {
	m := make(map[string]int)
	for _, v := range analysis.Visemes() {
		m[v.String()] = int(v)
	}
	return m
}

// Canvas blits sprite-sheet cells onto an owned RGBA surface.
type Canvas struct {
	mu      sync.Mutex
	opts    CanvasOptions
	sheet   image.Image
	surface *image.RGBA
	dst     image.Rectangle
	cells   int
	last    int
	drawn   bool
}

var _ StateRenderer = (*Canvas)(nil)

// NewCanvas validates the sheet layout and allocates the surface, sized to
// hold one scaled cell at the configured offset.
func NewCanvas(sheet image.Image, opts CanvasOptions) (*Canvas, error) {
	if sheet == nil {
		return nil, errors.New("canvas: nil sprite sheet")
	}
	if opts.FrameWidth <= 0 || opts.FrameHeight <= 0 {
		return nil, fmt.Errorf("canvas: invalid frame size %dx%d", opts.FrameWidth, opts.FrameHeight)
	}
	if opts.OffsetX < 0 || opts.OffsetY < 0 {
		return nil, fmt.Errorf("canvas: negative offset %d,%d", opts.OffsetX, opts.OffsetY)
	}
	if opts.Scale == 0 {
		opts.Scale = 1
	}
	if opts.Scale < 0 {
		return nil, fmt.Errorf("canvas: invalid scale %f", opts.Scale)
	}
	b := sheet.Bounds()
	if opts.Columns == 0 {
		opts.Columns = b.Dx() / opts.FrameWidth
	}
	rows := b.Dy() / opts.FrameHeight
	if opts.Columns <= 0 || rows <= 0 {
		return nil, fmt.Errorf("canvas: sheet %dx%d smaller than one %dx%d cell",
			b.Dx(), b.Dy(), opts.FrameWidth, opts.FrameHeight)
	}
	if opts.VisemeMap == nil {
		opts.VisemeMap = DefaultVisemeMap()
	}
	if opts.Interpolator == nil {
		opts.Interpolator = draw.NearestNeighbor
	}

	w := int(float64(opts.FrameWidth)*opts.Scale + 0.5)
	h := int(float64(opts.FrameHeight)*opts.Scale + 0.5)
	dst := image.Rect(opts.OffsetX, opts.OffsetY, opts.OffsetX+w, opts.OffsetY+h)
	return &Canvas{
		opts:    opts,
		sheet:   sheet,
		surface: image.NewRGBA(image.Rect(0, 0, dst.Max.X, dst.Max.Y)),
		dst:     dst,
		cells:   opts.Columns * rows,
		last:    -1,
	}, nil
}

// LoadSpriteSheet decodes a PNG sprite sheet from disk.
func LoadSpriteSheet(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sprite sheet: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sprite sheet %s: %w", path, err)
	}
	return img, nil
}

// CellFor resolves the sheet cell for a frame: the fine key first, then
// the coarse key, then the rest viseme, then cell 0.
func (c *Canvas) CellFor(f analysis.Frame) int {
	m := c.opts.VisemeMap
	for _, key := range []string{f.Viseme.String(), f.Coarse.String(), analysis.VisemeSil.String()} {
		if cell, ok := m[key]; ok {
			return cell
		}
	}
	return 0
}

func (c *Canvas) Render(f analysis.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blitLocked(c.CellFor(f))
}

func (c *Canvas) RenderState(s NamedState) error {
	cell, ok := c.opts.StateMap[s]
	if !ok {
		cell = c.CellFor(s.Frame())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blitLocked(cell)
}

func (c *Canvas) blitLocked(cell int) error {
	if c.surface == nil {
		return ErrDestroyed
	}
	if cell < 0 || cell >= c.cells {
		return fmt.Errorf("canvas: cell %d outside sheet of %d cells", cell, c.cells)
	}
	if c.drawn && cell == c.last {
		return nil
	}

	fw, fh := c.opts.FrameWidth, c.opts.FrameHeight
	origin := c.sheet.Bounds().Min
	col, row := cell%c.opts.Columns, cell/c.opts.Columns
	src := image.Rect(col*fw, row*fh, col*fw+fw, row*fh+fh).Add(origin)

	if !c.opts.KeepBackground {
		draw.Draw(c.surface, c.surface.Bounds(), image.Transparent, image.Point{}, draw.Src)
	}
	if c.dst.Dx() == fw && c.dst.Dy() == fh {
		draw.Copy(c.surface, c.dst.Min, c.sheet, src, draw.Over, nil)
	} else {
		c.opts.Interpolator.Scale(c.surface, c.dst, c.sheet, src, draw.Over, nil)
	}
	c.last = cell
	c.drawn = true
	return nil
}

// Surface is the rendered image. It is owned by the canvas and must not be
// written by the caller.
func (c *Canvas) Surface() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surface
}

// Snapshot copies the surface.
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.surface == nil {
		return nil
	}
	out := image.NewRGBA(c.surface.Bounds())
	copy(out.Pix, c.surface.Pix)
	return out
}

// LastCell reports the most recently blitted cell, or -1.
func (c *Canvas) LastCell() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Canvas) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.surface = nil
	c.sheet = nil
	c.last = -1
	c.drawn = false
}
