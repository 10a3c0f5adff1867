// Package imgrec contains an image recorder used to automatically save cubes to disk.
package imgrec

import (
	"bufio"
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/astrogo/fitsio"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/nasa-jpl/mscam/datacube"
	"github.com/nasa-jpl/mscam/server"
)

// Recorder records cube sequences with incrementing filenames in yyyy-mm-dd
// subfolders of Root.  Save is safe for concurrent use.
type Recorder struct {
	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Enabled switches saving on, consumers check it with IsEnabled
	Enabled bool

	// Clock dates the subfolders, the wall clock if nil
	Clock clock.Clock

	mu      sync.Mutex
	counter int
}

// folder is the subfolder for today, created if needed
func (r *Recorder) folder() (string, error) {
	clk := r.Clock
	if clk == nil {
		clk = clock.New()
	}
	now := clk.Now()
	fldr := filepath.Join(r.Root, fmt.Sprintf("%04d-%02d-%02d", now.Year(), now.Month(), now.Day()))
	return fldr, os.MkdirAll(fldr, 0777)
}

// Incr updates the filename counter to one past the highest number present
// in today's folder.  Files that do not match the naming pattern are ignored.
func (r *Recorder) Incr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.incr()
}

func (r *Recorder) incr() error {
	dn, err := r.folder()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dn)
	if err != nil {
		return err
	}
	count := -1
	for _, e := range entries {
		fn := e.Name()
		if e.IsDir() || !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), ".fits"))
		if err != nil {
			continue
		}
		if n > count {
			count = n
		}
	}
	if count+1 > r.counter {
		r.counter = count + 1
	}
	return nil
}

// Save writes v as the next file in the sequence and returns its path
func (r *Recorder) Save(v datacube.Volume, cards []fitsio.Card) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.incr(); err != nil {
		return "", errors.Wrap(err, "preparing recorder folder")
	}
	dn, err := r.folder()
	if err != nil {
		return "", err
	}
	fn := filepath.Join(dn, fmt.Sprintf("%s%06d.fits", r.Prefix, r.counter))
	fid, err := os.Create(fn)
	if err != nil {
		return "", err
	}
	defer fid.Close()
	buf := bufio.NewWriter(fid)
	if err = WriteCube(buf, v, cards); err != nil {
		return "", errors.Wrapf(err, "writing %s", fn)
	}
	if err = buf.Flush(); err != nil {
		return "", err
	}
	r.counter++
	return fn, fid.Close()
}

// IsEnabled reads Enabled under the recorder's lock
func (r *Recorder) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Enabled
}

// HTTPWrapper is an HTTP wrapper around an image recorder that allows the folder and prefix to be changed on the fly
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// payload is the body of a setter, one of server.StrT or server.BoolT
type payload struct {
	Str  *string `json:"str"`
	Bool *bool   `json:"bool"`
}

// field is a recorder setting exposed under /autowrite.  get and set are
// called with the recorder locked.
type field struct {
	name string
	get  func(r *Recorder) server.HumanPayload
	set  func(r *Recorder, in payload) error
}

var errPayloadType = errors.New("payload has the wrong type for this setting")

var fields = []field{
	{
		name: "root",
		get:  func(r *Recorder) server.HumanPayload { return server.HumanPayload{T: types.String, String: r.Root} },
		set: func(r *Recorder, in payload) error {
			if in.Str == nil {
				return errPayloadType
			}
			old := r.Root
			r.Root = *in.Str
			if _, err := r.folder(); err != nil {
				r.Root = old
				return err
			}
			r.counter = 0
			return nil
		},
	},
	{
		name: "prefix",
		get:  func(r *Recorder) server.HumanPayload { return server.HumanPayload{T: types.String, String: r.Prefix} },
		set: func(r *Recorder, in payload) error {
			if in.Str == nil {
				return errPayloadType
			}
			r.Prefix = *in.Str
			r.counter = 0
			return nil
		},
	},
	{
		name: "enabled",
		get:  func(r *Recorder) server.HumanPayload { return server.HumanPayload{T: types.Bool, Bool: r.Enabled} },
		set: func(r *Recorder, in payload) error {
			if in.Bool == nil {
				return errPayloadType
			}
			r.Enabled = *in.Bool
			return nil
		},
	},
}

func (h HTTPWrapper) getter(f field) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		hp := f.get(h.Recorder)
		h.mu.Unlock()
		hp.EncodeAndRespond(w, r)
	}
}

func (h HTTPWrapper) setter(f field) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in payload
		err := json.NewDecoder(r.Body).Decode(&in)
		defer r.Body.Close()
		if err == nil {
			h.mu.Lock()
			err = f.set(h.Recorder, in)
			h.mu.Unlock()
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix and
// /autowrite/enabled to the table which manipulate this wrapper's recorder
func (h HTTPWrapper) Inject(rt server.RouteTable) {
	for _, f := range fields {
		path := "/autowrite/" + f.name
		rt[server.MethodPath{Method: http.MethodGet, Path: path}] = h.getter(f)
		rt[server.MethodPath{Method: http.MethodPost, Path: path}] = h.setter(f)
	}
}
