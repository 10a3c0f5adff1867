// Package server contains the HTTP plumbing shared by the instrument's routes
// and the live preview endpoints
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"sort"

	"github.com/go-chi/chi"
)

// HumanPayload is a typed single value encoded as {"f64": 1.5}, {"int": 3},
// {"str": "x"} or {"bool": true} according to T
type HumanPayload struct {
	T      types.BasicKind
	Bool   bool
	Int    int
	Float  float64
	String string
}

func (hp HumanPayload) value() (string, interface{}) {
	switch hp.T {
	case types.Bool:
		return "bool", hp.Bool
	case types.Int:
		return "int", hp.Int
	case types.Float64:
		return "f64", hp.Float
	default:
		return "str", hp.String
	}
}

// EncodeAndRespond encodes the payload to JSON and writes it to w, replying
// with status 500 on error
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	k, v := hp.value()
	buf, err := json.Marshal(map[string]interface{}{k: v})
	if err != nil {
		http.Error(w, fmt.Sprintf("error encoding %s payload to json %q", k, err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}

// FloatT is the request body of a float setter
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is the request body of an int setter
type IntT struct {
	Int int `json:"int"`
}

// StrT is the request body of a string setter
type StrT struct {
	Str string `json:"str"`
}

// BoolT is the request body of a bool setter
type BoolT struct {
	Bool bool `json:"bool"`
}

// MethodPath is an HTTP method and a chi route pattern
type MethodPath struct {
	Method, Path string
}

// RouteTable maps routes to their handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints lists the routes in the table as "METHOD /path", sorted by path
func (rt RouteTable) Endpoints() []string {
	keys := make([]MethodPath, 0, len(rt))
	for k := range rt {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Method < keys[j].Method
	})
	routes := make([]string, len(keys))
	for i, k := range keys {
		routes[i] = k.Method + " " + k.Path
	}
	return routes
}

// Bind adds every route to r, plus GET /list-of-routes
func (rt RouteTable) Bind(r chi.Router) {
	for mp, h := range rt {
		r.MethodFunc(mp.Method, mp.Path, h)
	}
	r.Get("/list-of-routes", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rt.Endpoints()); err != nil {
			http.Error(w, fmt.Sprintf("error encoding list of routes data to json %q", err), http.StatusInternalServerError)
		}
	})
}

// GetFloat calls a float-getting function and returns the response
// as json {'f64': value}
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.Float64, Float: f}
		hp.EncodeAndRespond(w, r)
	}
}

// GetJSON calls fcn and returns its result encoded as JSON
func GetJSON(fcn func() interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(fcn()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
