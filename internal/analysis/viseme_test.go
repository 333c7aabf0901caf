// SPDX-License-Identifier: MIT
package analysis

import (
	"encoding/json"
	"testing"
)

func TestCoarseProjection(t *testing.T) {
	want := map[Viseme]CoarseViseme{
		VisemeSil: CoarseA,
		VisemePP:  CoarseB, VisemeNN: CoarseB,
		VisemeE: CoarseC, VisemeI: CoarseC, VisemeSS: CoarseC,
		VisemeAA: CoarseD, VisemeDD: CoarseD, VisemeKK: CoarseD,
		VisemeO: CoarseE, VisemeRR: CoarseE, VisemeCH: CoarseE,
		VisemeFF: CoarseF, VisemeTH: CoarseF, VisemeU: CoarseF,
	}

	if len(want) != len(Visemes()) {
		t.Fatalf("test table covers %d classes, enum has %d", len(want), len(Visemes()))
	}
	for v, c := range want {
		if got := v.Coarse(); got != c {
			t.Errorf("%s.Coarse() = %s, want %s", v, got, c)
		}
	}
	if got := Viseme(200).Coarse(); got != CoarseA {
		t.Errorf("unknown viseme projects to %s, want A", got)
	}
}

func TestShapesInRange(t *testing.T) {
	for _, v := range Visemes() {
		s := v.Shape()
		for _, f := range []float64{s.Open, s.Width, s.Round} {
			if f < 0 || f > 1 {
				t.Errorf("%s shape %+v out of range", v, s)
			}
		}
		if v.Label() == "" || v.Description() == "" {
			t.Errorf("%s is missing label or description", v)
		}
	}
}

func TestParseViseme(t *testing.T) {
	tests := []struct {
		in      string
		want    Viseme
		wantErr bool
	}{
		{"sil", VisemeSil, false},
		{"aa", VisemeAA, false},
		{"AA", VisemeAA, false},
		{"kk", VisemeKK, false},
		{"E", VisemeE, false},
		{"zz", VisemeSil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseViseme(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseViseme(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseViseme(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestVisemeJSON(t *testing.T) {
	frame := SilentFrame()
	frame.Viseme = VisemeO
	frame.Coarse = VisemeO.Coarse()

	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded struct {
		Viseme string `json:"viseme"`
		Simple string `json:"simpleViseme"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Viseme != "O" || decoded.Simple != "E" {
		t.Errorf("encoded viseme = %q/%q, want O/E", decoded.Viseme, decoded.Simple)
	}

	var v Viseme
	if err := v.UnmarshalText([]byte("SS")); err != nil || v != VisemeSS {
		t.Errorf("UnmarshalText(SS) = %s, %v", v, err)
	}
}

func TestTransitionWeight(t *testing.T) {
	if w := TransitionWeight(VisemeAA, VisemeO); w != 0.6 {
		t.Errorf("aa->O = %v, want 0.6", w)
	}
	if w := TransitionWeight(VisemeO, VisemeAA); w != DefaultTransitionWeight {
		t.Errorf("O->aa = %v, want default", w)
	}
}

func TestVisemeForPhoneme(t *testing.T) {
	tests := []struct {
		phoneme string
		want    Viseme
		ok      bool
	}{
		{"AA", VisemeAA, true},
		{"ah0", VisemeAA, true},
		{"IY1", VisemeI, true},
		{"M", VisemePP, true},
		{"SH", VisemeCH, true},
		{"QQ", VisemeSil, false},
	}

	for _, tt := range tests {
		got, ok := VisemeForPhoneme(tt.phoneme)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("VisemeForPhoneme(%q) = %s, %v; want %s, %v", tt.phoneme, got, ok, tt.want, tt.ok)
		}
	}
}
