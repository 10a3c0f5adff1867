package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nasa-jpl/mscam/server"
)

func TestLockerRefusesWrites(t *testing.T) {
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	rt := server.RouteTable{
		{Method: http.MethodGet, Path: "/param/{name}"}:  ok,
		{Method: http.MethodPost, Path: "/param/{name}"}: ok,
	}
	l := New()
	Inject(rt, l)
	h := server.NewRouter(rt, l.Check)

	do := func(method, path, body string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/param/exposure", ""))

	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/lock", `{"bool": true}`))
	assert.True(t, l.Locked())
	assert.Equal(t, http.StatusLocked, do(http.MethodPost, "/param/exposure", ""))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/param/exposure", ""), "reads pass while locked")

	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/lock", `{"bool": false}`))
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/param/exposure", ""))
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/lock", `nope`))
}
