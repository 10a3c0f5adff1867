package camera

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Opener opens a FrameSource of a particular kind
type Opener func(p Params, logger *zap.SugaredLogger) (FrameSource, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Opener{}
)

// Register makes a device kind available to Open.  Driver packages call it
// from init.  Registering a kind twice replaces the earlier opener.
func Register(kind string, o Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = o
}

// Kinds lists the registered device kinds in sorted order
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open opens a device of the given kind.  All failures wrap ErrDeviceUnavailable.
func Open(kind string, p Params, logger *zap.SugaredLogger) (FrameSource, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	registryMu.RLock()
	o, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "no driver registered for %q, have %v", kind, Kinds())
	}
	src, err := o(p, logger)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return nil, err
		}
		return nil, errors.Wrapf(ErrDeviceUnavailable, "opening %s #%d: %v", kind, p.Index, err)
	}
	return src, nil
}
