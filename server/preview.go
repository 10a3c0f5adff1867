package server

import (
	"encoding/json"
	"go/types"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/nasa-jpl/mscam/camera"
)

// Preview publishes the most recent composite image and frame rate.  Update
// and SetFPS are called by the processing side; handlers only read.
type Preview struct {
	mu   sync.RWMutex
	img  image.Image
	fps  float64
	errs CaptureErrors

	// Stats, if set, backs GET /stats
	Stats func() interface{}

	// Source, if set, exposes its parameters under /param/{name}
	Source camera.FrameSource
}

// Update replaces the published composite
func (p *Preview) Update(img image.Image) {
	p.mu.Lock()
	p.img = img
	p.mu.Unlock()
}

// SetFPS replaces the published frame rate
func (p *Preview) SetFPS(f float64) {
	p.mu.Lock()
	p.fps = f
	p.mu.Unlock()
}

// CaptureErrors summarizes the capture errors reported so far
type CaptureErrors struct {
	// Counts is the number of errors of each kind
	Counts map[string]uint64 `json:"counts"`

	// LastKind and Last describe the most recent error
	LastKind string    `json:"last_kind,omitempty"`
	Last     string    `json:"last,omitempty"`
	LastAt   time.Time `json:"last_at,omitempty"`
}

// RecordError notes a capture error of the given kind
func (p *Preview) RecordError(kind string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.errs.Counts == nil {
		p.errs.Counts = map[string]uint64{}
	}
	p.errs.Counts[kind]++
	p.errs.LastKind = kind
	p.errs.Last = ""
	if err != nil {
		p.errs.Last = err.Error()
	}
	p.errs.LastAt = time.Now()
}

// Errors returns a copy of the capture error summary
func (p *Preview) Errors() CaptureErrors {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := p.errs
	out.Counts = make(map[string]uint64, len(p.errs.Counts))
	for k, v := range p.errs.Counts {
		out.Counts[k] = v
	}
	return out
}

// FPS returns the published frame rate
func (p *Preview) FPS() (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fps, nil
}

// Image writes the latest composite, JPEG unless ?fmt=png
func (p *Preview) Image(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	img := p.img
	p.mu.RUnlock()
	if img == nil {
		http.Error(w, "no cube processed yet", http.StatusServiceUnavailable)
		return
	}
	format, ctype := imaging.JPEG, "image/jpeg"
	switch r.URL.Query().Get("fmt") {
	case "", "jpg", "jpeg":
	case "png":
		format, ctype = imaging.PNG, "image/png"
	default:
		http.Error(w, "fmt must be jpg or png", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", ctype)
	if err := imaging.Encode(w, img, format, imaging.JPEGQuality(90)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetParam returns a source parameter as a HumanPayload
func (p *Preview) GetParam(w http.ResponseWriter, r *http.Request) {
	v, err := p.Source.GetParameter(chi.URLParam(r, "name"))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	var hp HumanPayload
	switch x := v.(type) {
	case bool:
		hp = HumanPayload{T: types.Bool, Bool: x}
	case int64:
		hp = HumanPayload{T: types.Int, Int: int(x)}
	case int:
		hp = HumanPayload{T: types.Int, Int: x}
	case float64:
		hp = HumanPayload{T: types.Float64, Float: x}
	case string:
		hp = HumanPayload{T: types.String, String: x}
	default:
		http.Error(w, "unsupported parameter type", http.StatusInternalServerError)
		return
	}
	hp.EncodeAndRespond(w, r)
}

// SetParam sets a source parameter from a one-key payload such as {"f64": 2}
func (p *Preview) SetParam(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	err := json.NewDecoder(r.Body).Decode(&body)
	defer r.Body.Close()
	if err != nil || len(body) != 1 {
		http.Error(w, "expected a single value payload", http.StatusBadRequest)
		return
	}
	var v interface{}
	for _, x := range body {
		v = x
	}
	if err = p.Source.SetParameter(chi.URLParam(r, "name"), v); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func statusFor(err error) int {
	if camera.Kind(err) == "ParameterRejected" {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// RT returns the preview's routes
func (p *Preview) RT() RouteTable {
	rt := RouteTable{
		{Method: http.MethodGet, Path: "/preview"}: p.Image,
		{Method: http.MethodGet, Path: "/fps"}:     GetFloat(p.FPS),
		{Method: http.MethodGet, Path: "/errors"}:  GetJSON(func() interface{} { return p.Errors() }),
	}
	if p.Stats != nil {
		rt[MethodPath{Method: http.MethodGet, Path: "/stats"}] = GetJSON(p.Stats)
	}
	if p.Source != nil {
		rt[MethodPath{Method: http.MethodGet, Path: "/param/{name}"}] = p.GetParam
		rt[MethodPath{Method: http.MethodPost, Path: "/param/{name}"}] = p.SetParam
	}
	return rt
}

// NewRouter returns a chi router with request logging and any extra
// middlewares serving the table
func NewRouter(rt RouteTable, mw ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(mw...)
	rt.Bind(r)
	return r
}
