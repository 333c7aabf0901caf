// SPDX-License-Identifier: MIT
package render

import (
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"lipsync/internal/analysis"
	"lipsync/internal/events"
)

func frameFor(v analysis.Viseme, intensity float64) analysis.Frame {
	f := analysis.SilentFrame()
	f.Viseme = v
	f.Coarse = v.Coarse()
	f.Shape = v.Shape()
	f.Intensity = intensity
	return f
}

// testSheet is a 4x4 grid of 2x2 cells, each filled with a colour whose red
// channel is the cell index.
func testSheet() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for cell := range 16 {
		col, row := cell%4, cell/4
		for y := row * 2; y < row*2+2; y++ {
			for x := col * 2; x < col*2+2; x++ {
				img.SetRGBA(x, y, color.RGBA{R: uint8(cell), A: 255})
			}
		}
	}
	return img
}

func TestCanvasBlitsMappedCell(t *testing.T) {
	c, err := NewCanvas(testSheet(), CanvasOptions{FrameWidth: 2, FrameHeight: 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Render(frameFor(analysis.VisemeAA, 0.8)); err != nil {
		t.Fatal(err)
	}
	got := c.Surface().RGBAAt(1, 1)
	if want := uint8(analysis.VisemeAA); got.R != want || got.A != 255 {
		t.Errorf("pixel = %v, want cell %d", got, want)
	}
	if c.LastCell() != int(analysis.VisemeAA) {
		t.Errorf("LastCell = %d", c.LastCell())
	}
}

func TestCanvasFallsBackToCoarseThenRest(t *testing.T) {
	c, err := NewCanvas(testSheet(), CanvasOptions{
		FrameWidth:  2,
		FrameHeight: 2,
		VisemeMap:   map[string]int{"D": 3, "sil": 5},
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		v    analysis.Viseme
		want int
	}{
		{analysis.VisemeAA, 3},
		{analysis.VisemeO, 5},
	}
	for _, tt := range tests {
		if got := c.CellFor(frameFor(tt.v, 1)); got != tt.want {
			t.Errorf("CellFor(%s) = %d, want %d", tt.v, got, tt.want)
		}
	}

	empty, err := NewCanvas(testSheet(), CanvasOptions{FrameWidth: 2, FrameHeight: 2, VisemeMap: map[string]int{}})
	if err != nil {
		t.Fatal(err)
	}
	if got := empty.CellFor(frameFor(analysis.VisemeE, 1)); got != 0 {
		t.Errorf("CellFor with empty map = %d, want 0", got)
	}
}

func TestCanvasOffsetAndScale(t *testing.T) {
	c, err := NewCanvas(testSheet(), CanvasOptions{
		FrameWidth:  2,
		FrameHeight: 2,
		OffsetX:     1,
		OffsetY:     2,
		Scale:       2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if b := c.Surface().Bounds(); b.Dx() != 5 || b.Dy() != 6 {
		t.Fatalf("surface = %v, want 5x6", b)
	}
	if err := c.Render(frameFor(analysis.VisemeDD, 1)); err != nil {
		t.Fatal(err)
	}
	s := c.Surface()
	if px := s.RGBAAt(0, 0); px.A != 0 {
		t.Errorf("pixel outside the offset drawn: %v", px)
	}
	for _, pt := range []image.Point{{1, 2}, {4, 5}} {
		if px := s.RGBAAt(pt.X, pt.Y); px.R != uint8(analysis.VisemeDD) || px.A != 255 {
			t.Errorf("pixel %v = %v, want cell %d", pt, px, analysis.VisemeDD)
		}
	}
}

func TestCanvasClearsBeforeEachBlit(t *testing.T) {
	sheet := image.NewRGBA(image.Rect(0, 0, 4, 2))
	sheet.SetRGBA(0, 0, color.RGBA{R: 200, A: 255})
	c, err := NewCanvas(sheet, CanvasOptions{FrameWidth: 2, FrameHeight: 2, VisemeMap: map[string]int{"sil": 0, "aa": 1}})
	if err != nil {
		t.Fatal(err)
	}
	c.Render(frameFor(analysis.VisemeSil, 0))
	c.Render(frameFor(analysis.VisemeAA, 1))
	if px := c.Surface().RGBAAt(0, 0); px.A != 0 {
		t.Errorf("previous cell survived: %v", px)
	}

	keep, err := NewCanvas(sheet, CanvasOptions{FrameWidth: 2, FrameHeight: 2, VisemeMap: map[string]int{"sil": 0, "aa": 1}, KeepBackground: true})
	if err != nil {
		t.Fatal(err)
	}
	keep.Render(frameFor(analysis.VisemeSil, 0))
	keep.Render(frameFor(analysis.VisemeAA, 1))
	if px := keep.Surface().RGBAAt(0, 0); px.R != 200 {
		t.Errorf("background cleared despite KeepBackground: %v", px)
	}
}

func TestCanvasIsIdempotent(t *testing.T) {
	c, err := NewCanvas(testSheet(), CanvasOptions{FrameWidth: 2, FrameHeight: 2})
	if err != nil {
		t.Fatal(err)
	}
	f := frameFor(analysis.VisemeO, 0.5)
	c.Render(f)
	first := c.Snapshot()
	c.Render(f)
	if string(first.Pix) != string(c.Surface().Pix) {
		t.Error("rendering the same frame twice changed the surface")
	}
}

func TestCanvasKeepBackgroundDoesNotStack(t *testing.T) {
	sheet := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := range 2 {
		for x := range 4 {
			sheet.SetRGBA(x, y, color.RGBA{R: 60, A: 128})
		}
	}
	c, err := NewCanvas(sheet, CanvasOptions{FrameWidth: 2, FrameHeight: 2, VisemeMap: map[string]int{"sil": 0, "aa": 1}, KeepBackground: true})
	if err != nil {
		t.Fatal(err)
	}

	f := frameFor(analysis.VisemeAA, 1)
	if err := c.Render(f); err != nil {
		t.Fatal(err)
	}
	first := c.Snapshot()
	for range 3 {
		if err := c.Render(f); err != nil {
			t.Fatal(err)
		}
	}
	if string(first.Pix) != string(c.Surface().Pix) {
		t.Errorf("translucent cell stacked: %v, then %v", first.RGBAAt(0, 0), c.Surface().RGBAAt(0, 0))
	}
	if px := first.RGBAAt(0, 0); px.A != 128 {
		t.Errorf("first blit alpha = %d, want 128", px.A)
	}
}

func TestCanvasRejectsBadLayout(t *testing.T) {
	tests := []struct {
		name string
		opts CanvasOptions
	}{
		{"zero frame", CanvasOptions{}},
		{"cell larger than sheet", CanvasOptions{FrameWidth: 16, FrameHeight: 16}},
		{"negative offset", CanvasOptions{FrameWidth: 2, FrameHeight: 2, OffsetX: -1}},
		{"negative scale", CanvasOptions{FrameWidth: 2, FrameHeight: 2, Scale: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCanvas(testSheet(), tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}

	c, _ := NewCanvas(testSheet(), CanvasOptions{FrameWidth: 2, FrameHeight: 2, VisemeMap: map[string]int{"sil": 99}})
	if err := c.Render(analysis.SilentFrame()); err == nil {
		t.Error("cell outside the sheet accepted")
	}
}

func TestCanvasStateAndDestroy(t *testing.T) {
	c, err := NewCanvas(testSheet(), CanvasOptions{
		FrameWidth:  2,
		FrameHeight: 2,
		StateMap:    map[NamedState]int{StateBlink: 15},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RenderState(StateBlink); err != nil {
		t.Fatal(err)
	}
	if c.LastCell() != 15 {
		t.Errorf("blink cell = %d, want 15", c.LastCell())
	}
	if err := c.RenderState(StateThinking); err != nil {
		t.Fatal(err)
	}
	if c.LastCell() != int(analysis.VisemeSil) {
		t.Errorf("unmapped state cell = %d, want rest", c.LastCell())
	}

	c.Destroy()
	c.Destroy()
	if c.Surface() != nil {
		t.Error("surface kept after Destroy")
	}
	if err := c.Render(analysis.SilentFrame()); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Render after Destroy = %v", err)
	}
}

func TestVectorGeometry(t *testing.T) {
	opts := DefaultVectorOptions()

	closed := MouthPaths(analysis.VisemeSil.Shape(), opts)
	if closed.Inner != "" || closed.Teeth != "" {
		t.Errorf("closed mouth drew inner %q teeth %q", closed.Inner, closed.Teeth)
	}
	// W=120, H=80, width 0.5: mouth spans 36+30 = 66, corners at 27 and 93.
	if want := "M 27 40 C"; !strings.HasPrefix(closed.Lip, want) {
		t.Errorf("lip = %q, want prefix %q", closed.Lip, want)
	}

	open := MouthPaths(analysis.VisemeAA.Shape(), opts)
	if open.Inner == "" || !strings.HasSuffix(open.Inner, " Z") {
		t.Errorf("inner path = %q", open.Inner)
	}
	if open.InnerOpacity != 1 {
		t.Errorf("inner opacity = %v, want 1", open.InnerOpacity)
	}
	if open.Teeth == "" || open.TeethOpacity != 0.9 {
		t.Errorf("teeth = %q opacity %v", open.Teeth, open.TeethOpacity)
	}

	opts.HideTeeth = true
	if p := MouthPaths(analysis.VisemeAA.Shape(), opts); p.Teeth != "" {
		t.Errorf("teeth drawn while hidden: %q", p.Teeth)
	}

	// Just above the inner threshold but below the teeth threshold.
	slight := MouthPaths(analysis.VisemeFF.Shape(), DefaultVectorOptions())
	if slight.Inner == "" || slight.Teeth != "" {
		t.Errorf("FF: inner %q teeth %q", slight.Inner, slight.Teeth)
	}
}

func TestVectorRenderAndOptions(t *testing.T) {
	v, err := NewVector(DefaultVectorOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Render(frameFor(analysis.VisemeO, 0.7)); err != nil {
		t.Fatal(err)
	}
	svg := v.SVG()
	for _, want := range []string{`<svg `, `class="mouth-lip"`, `class="mouth-inner"`, `stroke="#cc4444"`, `</svg>`} {
		if !strings.Contains(svg, want) {
			t.Errorf("svg missing %q: %s", want, svg)
		}
	}

	before := v.Paths()
	if err := v.Render(frameFor(analysis.VisemeO, 0.7)); err != nil {
		t.Fatal(err)
	}
	if v.Paths() != before {
		t.Error("same frame produced different paths")
	}

	opts := v.Options()
	opts.LipColor = "#000000"
	opts.LipThickness = 5
	if err := v.UpdateOptions(opts); err != nil {
		t.Fatal(err)
	}
	if svg := v.SVG(); !strings.Contains(svg, `stroke="#000000"`) || !strings.Contains(svg, `stroke-width="5"`) {
		t.Errorf("options not applied: %s", svg)
	}
	if v.Paths() != before {
		t.Error("colour change altered geometry")
	}

	opts.Width = 0
	if err := v.UpdateOptions(opts); err == nil {
		t.Error("zero width accepted")
	}
	if _, err := NewVector(VectorOptions{}); err == nil {
		t.Error("zero options accepted")
	}
}

func TestVectorStateAndDestroy(t *testing.T) {
	v, _ := NewVector(DefaultVectorOptions())
	if err := v.RenderState(StateListening); err != nil {
		t.Fatal(err)
	}
	if v.Paths().Inner == "" {
		t.Error("listening pose should show a parted mouth")
	}
	v.Destroy()
	if err := v.Render(analysis.SilentFrame()); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Render after Destroy = %v", err)
	}
	if _, err := v.WriteTo(&strings.Builder{}); !errors.Is(err, ErrDestroyed) {
		t.Errorf("WriteTo after Destroy = %v", err)
	}
}

func TestAttributeRender(t *testing.T) {
	a := NewAttribute(AttributeOptions{ClassPrefix: "viseme-"})
	if err := a.Render(frameFor(analysis.VisemeAA, 0.756)); err != nil {
		t.Fatal(err)
	}
	set := a.Set()
	if set.Attrs["data-viseme"] != "aa" {
		t.Errorf("data-viseme = %q", set.Attrs["data-viseme"])
	}
	if set.Attrs["data-intensity"] != "76" {
		t.Errorf("data-intensity = %q, want 76", set.Attrs["data-intensity"])
	}
	if len(set.Classes) != 1 || set.Classes[0] != "viseme-aa" {
		t.Errorf("classes = %v", set.Classes)
	}
	if set.Vars[VarOpen] != "0.900" || set.Vars[VarWidth] != "0.600" || set.Vars[VarIntensity] != "0.756" {
		t.Errorf("vars = %v", set.Vars)
	}

	a.Render(frameFor(analysis.VisemeO, 0.3))
	set = a.Set()
	if len(set.Classes) != 1 || set.Classes[0] != "viseme-O" {
		t.Errorf("class not replaced: %v", set.Classes)
	}
}

func TestAttributeCoarseAndClassMap(t *testing.T) {
	a := NewAttribute(AttributeOptions{
		UseCoarse:     true,
		SkipIntensity: true,
		ClassMap:      map[string]string{"D": "mouth-wide"},
	})
	a.Render(frameFor(analysis.VisemeAA, 1))
	set := a.Set()
	if set.Attrs["data-viseme"] != "D" {
		t.Errorf("coarse key = %q, want D", set.Attrs["data-viseme"])
	}
	if _, ok := set.Attrs["data-intensity"]; ok {
		t.Error("intensity written while skipped")
	}
	if len(set.Classes) != 1 || set.Classes[0] != "mouth-wide" {
		t.Errorf("classes = %v", set.Classes)
	}
}

func TestAttributeString(t *testing.T) {
	a := NewAttribute(DefaultAttributeOptions())
	a.RenderState(StateIdle)
	got := a.Set().String()
	want := `data-intensity="0" data-viseme="idle" class="idle" style="--lip-intensity: 0.000; --lip-open: 0.000; --lip-round: 0.000; --lip-width: 0.500"`
	if got != want {
		t.Errorf("String() =\n%s\nwant\n%s", got, want)
	}
}

func TestAttributeDestroyClearsEverything(t *testing.T) {
	a := NewAttribute(DefaultAttributeOptions())
	a.Render(frameFor(analysis.VisemeE, 0.5))
	a.Destroy()
	set := a.Set()
	if len(set.Attrs) != 0 || len(set.Classes) != 0 || len(set.Vars) != 0 {
		t.Errorf("leftovers after Destroy: %+v", set)
	}
	if err := a.Render(analysis.SilentFrame()); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Render after Destroy = %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	em := events.NewEmitter()
	a := NewAttribute(DefaultAttributeOptions())
	id := Subscribe(em, a, func(err error) { t.Error(err) })

	em.Emit(events.Viseme{Frame: frameFor(analysis.VisemeU, 0.4)})
	if got := a.Set().Attrs["data-viseme"]; got != "U" {
		t.Errorf("data-viseme = %q, want U", got)
	}

	em.Off(id)
	em.Emit(events.Viseme{Frame: frameFor(analysis.VisemeAA, 0.4)})
	if got := a.Set().Attrs["data-viseme"]; got != "U" {
		t.Errorf("renderer still subscribed, got %q", got)
	}
}

func TestParseNamedState(t *testing.T) {
	for _, s := range []NamedState{StateIdle, StateBlink, StateThinking, StateListening} {
		if got, err := ParseNamedState(string(s)); err != nil || got != s {
			t.Errorf("ParseNamedState(%q) = %q, %v", s, got, err)
		}
	}
	if _, err := ParseNamedState("sleeping"); err == nil {
		t.Error("unknown state accepted")
	}
}
