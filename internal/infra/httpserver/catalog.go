package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bryanwahyu/trustinn/internal/domain/tools"
)

type stageView struct {
	Name   string `json:"name"`
	Script string `json:"script"`
}

type toolView struct {
	ID        tools.ToolID   `json:"id"`
	Language  tools.Language `json:"language"`
	Streaming bool           `json:"streaming"`
	Stderr    string         `json:"stderr"`
	Required  []string       `json:"required"`
	Optional  []string       `json:"optional"`
	Stages    []stageView    `json:"stages"`
}

var userSlots = []tools.SlotKind{tools.SlotFile, tools.SlotBound, tools.SlotInputDir}

func viewOf(d tools.Descriptor) toolView {
	v := toolView{
		ID:        d.ID,
		Language:  d.Language,
		Streaming: d.Streaming,
		Stderr:    d.Stderr.String(),
		Required:  []string{},
		Optional:  []string{},
	}
	for _, k := range userSlots {
		switch {
		case d.Requires(k):
			v.Required = append(v.Required, k.String())
		case d.Accepts(k):
			v.Optional = append(v.Optional, k.String())
		}
	}
	for _, st := range d.Stages {
		v.Stages = append(v.Stages, stageView{Name: st.Name, Script: st.Script})
	}
	return v
}

// GET /v1/tools?language=c
func (r *Router) handleTools(w http.ResponseWriter, req *http.Request) error {
	lang := tools.Language(req.URL.Query().Get("language"))
	out := []toolView{}
	for _, d := range r.catalog.List() {
		if lang != "" && d.Language != lang {
			continue
		}
		out = append(out, viewOf(d))
	}
	return writeJSON(w, http.StatusOK, out)
}

// GET /v1/tools/{id}
func (r *Router) handleTool(w http.ResponseWriter, req *http.Request) error {
	id, err := tools.ParseToolID(chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	d, err := r.catalog.Lookup(id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, viewOf(d))
}
