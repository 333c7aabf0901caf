// SPDX-License-Identifier: MIT
package analysis

import "math"

// FrequencyBand defines the name and frequency range for an energy band.
type FrequencyBand struct {
	Name   string
	LowHz  float64
	HighHz float64
}

// SpeechBands are the five bands the classifier reasons about.
var SpeechBands = [5]FrequencyBand{
	{Name: "sub", LowHz: 80, HighHz: 300},          // voicing fundamental
	{Name: "low", LowHz: 300, HighHz: 800},         // first formant
	{Name: "mid", LowHz: 800, HighHz: 2500},        // second formant
	{Name: "high", LowHz: 2500, HighHz: 5500},      // fricatives
	{Name: "veryHigh", LowHz: 5500, HighHz: 11000}, // sibilants, bursts
}

// BandEnergies holds the average normalized level per band, each in [0, 1].
type BandEnergies struct {
	Sub      float64 `json:"sub"`
	Low      float64 `json:"low"`
	Mid      float64 `json:"mid"`
	High     float64 `json:"high"`
	VeryHigh float64 `json:"veryHigh"`
}

// Total sums the five bands.
func (b BandEnergies) Total() float64 {
	return b.Sub + b.Low + b.Mid + b.High + b.VeryHigh
}

// Min returns the quietest band.
func (b BandEnergies) Min() float64 {
	return math.Min(math.Min(math.Min(b.Sub, b.Low), math.Min(b.Mid, b.High)), b.VeryHigh)
}

// Max returns the loudest band.
func (b BandEnergies) Max() float64 {
	return math.Max(math.Max(math.Max(b.Sub, b.Low), math.Max(b.Mid, b.High)), b.VeryHigh)
}

// smoothToward applies SmoothValue to every band.
func (b BandEnergies) smoothToward(target BandEnergies, factor float64) BandEnergies {
	return BandEnergies{
		Sub:      SmoothValue(b.Sub, target.Sub, factor),
		Low:      SmoothValue(b.Low, target.Low, factor),
		Mid:      SmoothValue(b.Mid, target.Mid, factor),
		High:     SmoothValue(b.High, target.High, factor),
		VeryHigh: SmoothValue(b.VeryHigh, target.VeryHigh, factor),
	}
}

type binRange struct{ start, end int }

// bandLayout caches the bin ranges for a fixed bin count and sample rate.
type bandLayout [5]binRange

func newBandLayout(bins int, sampleRate float64) bandLayout {
	var layout bandLayout
	binWidth := (sampleRate / 2) / float64(bins)
	for i, band := range SpeechBands {
		start := max(0, int(math.Floor(band.LowHz/binWidth)))
		end := min(bins-1, int(math.Floor(band.HighHz/binWidth)))
		layout[i] = binRange{start, end}
	}
	return layout
}

func (l bandLayout) measure(spectrum []float64) BandEnergies {
	var avg [5]float64
	for i, r := range l {
		if r.end < r.start || r.start >= len(spectrum) {
			continue
		}
		var sum float64
		for k := r.start; k <= r.end; k++ {
			sum += spectrum[k]
		}
		avg[i] = sum / float64(r.end-r.start+1)
	}
	return BandEnergies{Sub: avg[0], Low: avg[1], Mid: avg[2], High: avg[3], VeryHigh: avg[4]}
}

// ExtractBandEnergies averages a normalized spectrum (values in [0, 1],
// len = fftSize/2) into the five speech bands.
func ExtractBandEnergies(spectrum []float64, sampleRate float64) BandEnergies {
	if len(spectrum) == 0 || sampleRate <= 0 {
		return BandEnergies{}
	}
	return newBandLayout(len(spectrum), sampleRate).measure(spectrum)
}
