package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/mudra/internal/signs"
)

// unknownSignMessage is shown by the page when a selection is rejected.
const unknownSignMessage = "The entered value is not in the list of allowed options."

// SignsHandler serves the sign catalog and validates sign selections.
type SignsHandler struct {
	catalog *signs.Catalog
}

// NewSignsHandler creates a new SignsHandler with the given catalog.
func NewSignsHandler(c *signs.Catalog) *SignsHandler {
	return &SignsHandler{catalog: c}
}

type signResponse struct {
	Ord   int    `json:"ord"`
	Name  string `json:"name"`
	Video string `json:"video"`
}

type listSignsResponse struct {
	Signs []signResponse `json:"signs"`
}

// ServeHTTP routes /api/signs and /api/signs/{name}.
func (h *SignsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/api/signs"), "/")
	if name == "" {
		h.list(w, r)
		return
	}
	h.lookup(w, r, name)
}

// list handles GET /api/signs.
func (h *SignsHandler) list(w http.ResponseWriter, r *http.Request) {
	all := h.catalog.List()
	response := listSignsResponse{Signs: make([]signResponse, 0, len(all))}
	for _, s := range all {
		video, _ := h.catalog.VideoPath(s.Name)
		response.Signs = append(response.Signs, signResponse{Ord: s.Ord, Name: s.Name, Video: video})
	}
	writeJSON(w, http.StatusOK, response)
}

// lookup handles GET /api/signs/{name}. Unknown names are a 400 so the page
// can show the message and clear its input.
func (h *SignsHandler) lookup(w http.ResponseWriter, r *http.Request, name string) {
	s, err := h.catalog.Lookup(name)
	if errors.Is(err, signs.ErrUnknownSign) {
		writeError(w, http.StatusBadRequest, unknownSignMessage)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	video, _ := h.catalog.VideoPath(s.Name)
	writeJSON(w, http.StatusOK, signResponse{Ord: s.Ord, Name: s.Name, Video: video})
}
