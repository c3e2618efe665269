// SPDX-License-Identifier: MIT

package media

import "fmt"

// QualityPreset maps a named tier to target output dimensions.
type QualityPreset struct {
	Name   string
	Width  int
	Height int
}

// Sentinel quality names that suppress conversion entirely.
const (
	QualityOriginal = "original"
	QualityHighest  = "highest"
)

// qualityPresets spans the supported tiers up to 4K. Order matters: the
// table is kept highest-first for preview listings.
var qualityPresets = []QualityPreset{
	{Name: "2160p", Width: 3840, Height: 2160},
	{Name: "1440p", Width: 2560, Height: 1440},
	{Name: "1080p", Width: 1920, Height: 1080},
	{Name: "720p", Width: 1280, Height: 720},
	{Name: "480p", Width: 854, Height: 480},
	{Name: "360p", Width: 640, Height: 360},
	{Name: "240p", Width: 426, Height: 240},
	{Name: "144p", Width: 256, Height: 144},
}

// QualityNames returns the preset names, highest tier first.
func QualityNames() []string {
	names := make([]string, 0, len(qualityPresets))
	for _, p := range qualityPresets {
		names = append(names, p.Name)
	}
	return names
}

// LookupQuality resolves a preset by name. The sentinel names report
// ok=false with no error: they mean "keep source resolution".
func LookupQuality(name string) (QualityPreset, bool, error) {
	if name == "" || name == QualityOriginal || name == QualityHighest {
		return QualityPreset{}, false, nil
	}
	for _, p := range qualityPresets {
		if p.Name == name {
			return p, true, nil
		}
	}
	return QualityPreset{}, false, fmt.Errorf("unknown quality preset %q", name)
}
