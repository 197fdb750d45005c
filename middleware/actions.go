package middleware

import "net/http"

// ActionFunc names the risk-table action a request performs. An empty name
// authenticates the request without recording activity.
type ActionFunc func(r *http.Request) string

// Action returns an ActionFunc that always reports name.
func Action(name string) ActionFunc {
	return func(*http.Request) string { return name }
}

// ByMethod picks the action from the request method and falls back to def.
//
//	ByMethod("VIEW_LISTINGS", map[string]string{http.MethodDelete: "DELETE_LISTING"})
func ByMethod(def string, byMethod map[string]string) ActionFunc {
	methods := make(map[string]string, len(byMethod))
	for m, a := range byMethod {
		methods[m] = a
	}
	return func(r *http.Request) string {
		if a, ok := methods[r.Method]; ok {
			return a
		}
		return def
	}
}
