// Package catalog holds the static model and aspect ratio catalogs offered to the UI.
package catalog

// Entry maps a human-readable label to an API identifier.
type Entry struct {
	Label string `json:"label"`
	ID    string `json:"id"`
}

// Model identifiers accepted by the remote endpoint.
const (
	ModelPro2K = "gemini-3-pro-image-preview-2k"
	ModelPro4K = "gemini-3-pro-image-preview-4k"
	ModelFlash = "gemini-2.5-flash-image"
)

var models = []Entry{
	{Label: "标准画质 (2K) - Gemini 3 Pro", ID: ModelPro2K},
	{Label: "超高清 (4K) - Gemini 3 Pro", ID: ModelPro4K},
	{Label: "极速版 (Flash) - Gemini 2.5", ID: ModelFlash},
}

var ratios = []Entry{
	{Label: "16:9 (横屏 Landscape)", ID: "16:9"},
	{Label: "4:3 (横屏 Landscape)", ID: "4:3"},
	{Label: "1:1 (方形 Square)", ID: "1:1"},
	{Label: "3:4 (竖屏 Portrait)", ID: "3:4"},
	{Label: "9:16 (竖屏 Portrait)", ID: "9:16"},
}

// Models returns the model catalog in display order.
func Models() []Entry {
	return clone(models)
}

// Ratios returns the aspect ratio catalog in display order.
func Ratios() []Entry {
	return clone(ratios)
}

// DefaultModel returns the first model of the catalog.
func DefaultModel() Entry { return models[0] }

// DefaultRatio returns the first ratio of the catalog.
func DefaultRatio() Entry { return ratios[0] }

// LookupModel resolves a model by label or identifier.
func LookupModel(key string) (Entry, bool) {
	return lookup(models, key)
}

// LookupRatio resolves an aspect ratio by label or ratio string.
func LookupRatio(key string) (Entry, bool) {
	return lookup(ratios, key)
}

func lookup(entries []Entry, key string) (Entry, bool) {
	for _, e := range entries {
		if e.Label == key || e.ID == key {
			return e, true
		}
	}
	return Entry{}, false
}

func clone(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
