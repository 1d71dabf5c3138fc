package api

import (
	"encoding/json"
	"net/http"
)

// Problem is the RFC7807 error body every dispatch endpoint returns on
// failure; Instance carries the request path.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

const problemTypeBlank = "about:blank"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeProblem renders a dispatch API error as problem details. Handlers
// never write error bodies any other way.
func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     problemTypeBlank,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}
