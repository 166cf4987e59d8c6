package notify

import (
	"github.com/park285/caro-series/internal/msgcat"
)

// Fields flattens an event into the key set the message templates use.
func Fields(ev Event) map[string]any {
	out := make(map[string]any, len(ev.Data)+4)
	for k, v := range ev.Data {
		out[k] = v
	}
	out["type"] = ev.Type
	out["series_id"] = ev.SeriesID
	out["player_id"] = ev.PlayerID
	out["at"] = ev.At
	return out
}

// Text renders the human-readable line for ev, or "" when the catalog has none.
func Text(cat *msgcat.Catalog, ev Event) (string, error) {
	if cat == nil {
		return "", nil
	}
	key := "events." + ev.Type
	if !cat.Has(key) {
		return "", nil
	}
	return cat.Render(key, Fields(ev))
}
