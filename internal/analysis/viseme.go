// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"strings"
)

// Viseme is one of the 15 fine-grained mouth-shape classes.
type Viseme uint8

const (
	VisemeSil Viseme = iota
	VisemePP
	VisemeFF
	VisemeTH
	VisemeDD
	VisemeKK
	VisemeCH
	VisemeSS
	VisemeNN
	VisemeRR
	VisemeAA
	VisemeE
	VisemeI
	VisemeO
	VisemeU

	visemeCount
)

// CoarseViseme is the 6-class projection used by sprite sheets with fewer cells.
type CoarseViseme uint8

const (
	CoarseA CoarseViseme = iota // rest
	CoarseB                     // closed lips
	CoarseC                     // spread
	CoarseD                     // wide open
	CoarseE                     // round
	CoarseF                     // tight

	coarseCount
)

type visemeInfo struct {
	key         string
	label       string
	description string
	coarse      CoarseViseme
	shape       MouthShape
}

var visemeTable = [visemeCount]visemeInfo{
	VisemeSil: {"sil", "Silent", "Mouth closed, neutral", CoarseA, MouthShape{0, 0.5, 0}},
	VisemePP:  {"PP", "P/B/M", "Lips pressed together", CoarseB, MouthShape{0, 0.4, 0}},
	VisemeFF:  {"FF", "F/V", "Lower lip to upper teeth", CoarseF, MouthShape{0.05, 0.55, 0}},
	VisemeTH:  {"TH", "TH", "Tongue between teeth", CoarseF, MouthShape{0.1, 0.5, 0}},
	VisemeDD:  {"DD", "D/T/N/L", "Tongue to upper palate", CoarseD, MouthShape{0.2, 0.5, 0}},
	VisemeKK:  {"kk", "K/G", "Back of tongue raised", CoarseD, MouthShape{0.25, 0.45, 0}},
	VisemeCH:  {"CH", "CH/SH/J", "Lips pursed forward", CoarseE, MouthShape{0.15, 0.35, 0.6}},
	VisemeSS:  {"SS", "S/Z", "Teeth close, slight smile", CoarseC, MouthShape{0.05, 0.6, 0}},
	VisemeNN:  {"nn", "N/NG", "Mouth slightly open, nasal", CoarseB, MouthShape{0.15, 0.5, 0}},
	VisemeRR:  {"RR", "R", "Lips slightly rounded", CoarseE, MouthShape{0.2, 0.4, 0.4}},
	VisemeAA:  {"aa", "AA/AH", "Wide open mouth", CoarseD, MouthShape{0.9, 0.6, 0}},
	VisemeE:   {"E", "EH/AE", "Mouth open, slight smile", CoarseC, MouthShape{0.5, 0.65, 0}},
	VisemeI:   {"I", "IH/IY", "Small opening, smile", CoarseC, MouthShape{0.25, 0.7, 0}},
	VisemeO:   {"O", "OH/AO", "Rounded, medium open", CoarseE, MouthShape{0.6, 0.4, 0.8}},
	VisemeU:   {"U", "UW/OW", "Small rounded opening", CoarseF, MouthShape{0.2, 0.3, 0.9}},
}

var coarseKeys = [coarseCount]string{"A", "B", "C", "D", "E", "F"}

var coarseLabels = [coarseCount]string{
	"Rest",
	"M / B / P",
	"EE / S / soft sounds",
	"AH / wide open",
	"OH / round",
	"OO / F / V / tight",
}

// Visemes lists every fine class in enum order.
func Visemes() []Viseme {
	out := make([]Viseme, visemeCount)
	for i := range out {
		out[i] = Viseme(i)
	}
	return out
}

func (v Viseme) valid() bool { return v < visemeCount }

// String returns the short key, e.g. "aa" or "PP".
func (v Viseme) String() string {
	if !v.valid() {
		return fmt.Sprintf("Viseme(%d)", uint8(v))
	}
	return visemeTable[v].key
}

// Label returns a human readable phoneme group.
func (v Viseme) Label() string {
	if !v.valid() {
		return ""
	}
	return visemeTable[v].label
}

// Description describes the mouth posture.
func (v Viseme) Description() string {
	if !v.valid() {
		return ""
	}
	return visemeTable[v].description
}

// Coarse projects the fine class onto its coarse class. Unknown values map to CoarseA.
func (v Viseme) Coarse() CoarseViseme {
	if !v.valid() {
		return CoarseA
	}
	return visemeTable[v].coarse
}

// Shape returns the canonical mouth shape for the class.
func (v Viseme) Shape() MouthShape {
	if !v.valid() {
		return visemeTable[VisemeSil].shape
	}
	return visemeTable[v].shape
}

func (v Viseme) MarshalText() ([]byte, error) {
	if !v.valid() {
		return nil, fmt.Errorf("invalid viseme %d", uint8(v))
	}
	return []byte(visemeTable[v].key), nil
}

func (v *Viseme) UnmarshalText(text []byte) error {
	parsed, err := ParseViseme(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseViseme resolves a short key. Matching is exact first, then case-insensitive.
func ParseViseme(key string) (Viseme, error) {
	for i := range visemeTable {
		if visemeTable[i].key == key {
			return Viseme(i), nil
		}
	}
	for i := range visemeTable {
		if strings.EqualFold(visemeTable[i].key, key) {
			return Viseme(i), nil
		}
	}
	return VisemeSil, fmt.Errorf("unknown viseme %q", key)
}

func (c CoarseViseme) String() string {
	if c >= coarseCount {
		return fmt.Sprintf("CoarseViseme(%d)", uint8(c))
	}
	return coarseKeys[c]
}

// Label describes the coarse class.
func (c CoarseViseme) Label() string {
	if c >= coarseCount {
		return ""
	}
	return coarseLabels[c]
}

func (c CoarseViseme) MarshalText() ([]byte, error) {
	if c >= coarseCount {
		return nil, fmt.Errorf("invalid coarse viseme %d", uint8(c))
	}
	return []byte(coarseKeys[c]), nil
}

// CoarseVisemes lists every coarse class in order.
func CoarseVisemes() []CoarseViseme {
	out := make([]CoarseViseme, coarseCount)
	for i := range out {
		out[i] = CoarseViseme(i)
	}
	return out
}

// DefaultTransitionWeight applies to any pair without an explicit entry.
const DefaultTransitionWeight = 0.35

// Higher weight means a slower blend between the two shapes.
var transitionWeights = map[[2]Viseme]float64{
	{VisemeSil, VisemeAA}: 0.3, {VisemeSil, VisemeE}: 0.3, {VisemeSil, VisemeI}: 0.3,
	{VisemeSil, VisemeO}: 0.3, {VisemeSil, VisemeU}: 0.3, {VisemeSil, VisemePP}: 0.2,
	{VisemeSil, VisemeFF}: 0.2,

	{VisemeAA, VisemeSil}: 0.4, {VisemeAA, VisemeE}: 0.5, {VisemeAA, VisemeO}: 0.6,
	{VisemeAA, VisemeI}: 0.5, {VisemeAA, VisemePP}: 0.3, {VisemeAA, VisemeSS}: 0.3,

	{VisemePP, VisemeAA}: 0.2, {VisemePP, VisemeSil}: 0.2, {VisemePP, VisemeE}: 0.3,
	{VisemePP, VisemeFF}: 0.4,

	{VisemeFF, VisemeAA}: 0.3, {VisemeFF, VisemePP}: 0.4, {VisemeFF, VisemeSil}: 0.2,

	{VisemeSS, VisemeSil}: 0.2, {VisemeSS, VisemeAA}: 0.3, {VisemeSS, VisemeCH}: 0.6,
}

// TransitionWeight returns the blend weight for a from -> to change.
func TransitionWeight(from, to Viseme) float64 {
	if w, ok := transitionWeights[[2]Viseme{from, to}]; ok {
		return w
	}
	return DefaultTransitionWeight
}

// ARPABET phoneme -> viseme, for callers that have phoneme timings from a TTS engine.
var phonemeToViseme = map[string]Viseme{
	"AA": VisemeAA, "AE": VisemeE, "AH": VisemeAA, "AO": VisemeO, "AW": VisemeAA,
	"AY": VisemeAA, "EH": VisemeE, "ER": VisemeRR, "EY": VisemeE, "IH": VisemeI,
	"IY": VisemeI, "OW": VisemeO, "OY": VisemeO, "UH": VisemeU, "UW": VisemeU,

	"B": VisemePP, "CH": VisemeCH, "D": VisemeDD, "DH": VisemeTH, "F": VisemeFF,
	"G": VisemeKK, "HH": VisemeAA, "JH": VisemeCH, "K": VisemeKK, "L": VisemeDD,
	"M": VisemePP, "N": VisemeNN, "NG": VisemeNN, "P": VisemePP, "R": VisemeRR,
	"S": VisemeSS, "SH": VisemeCH, "T": VisemeDD, "TH": VisemeTH, "V": VisemeFF,
	"W": VisemeU, "Y": VisemeI, "Z": VisemeSS, "ZH": VisemeCH,
}

// VisemeForPhoneme maps an ARPABET symbol (stress digits allowed, e.g. "AH0")
// to its viseme.
func VisemeForPhoneme(phoneme string) (Viseme, bool) {
	p := strings.ToUpper(strings.TrimRight(phoneme, "012"))
	v, ok := phonemeToViseme[p]
	return v, ok
}
