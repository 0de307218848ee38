package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

// pathMarkers maps a path segment to the name of the parameter that follows
// it. Used when a handler runs without a chi route context.
var pathMarkers = []struct{ segment, key string }{
	{"incidents", "id"},
	{"sector-regulations", "id"},
	{"incident-workflows", "iw_id"},
	{"steps", "step"},
}

func pathParam(r *http.Request, key string) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && len(rc.URLParams.Keys) > 0 {
		return rc.URLParam(key)
	}
	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	for _, m := range pathMarkers {
		if m.key != key {
			continue
		}
		for i := 0; i+1 < len(segments); i++ {
			if segments[i] == m.segment && segments[i+1] != "" {
				return segments[i+1]
			}
		}
	}
	return ""
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(pathParam(r, key), 10, 64)
}
