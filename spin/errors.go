/*Package spin exposes FLIR/Point Grey cameras through the Spinnaker C SDK.

The cgo binding is only compiled with the "spinnaker" build tag, since it needs
the SDK headers and libSpinnaker_C at build time:

	go build -tags spinnaker ./cmd/mscam

With the tag, the package registers the "spinnaker" device kind with the
camera registry.  Without it, only the error code table is available.
*/
package spin

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/mscam/camera"
)

// SpinError is an error code returned by the Spinnaker C API
type SpinError int

const (
	// ErrSuccess is not an error
	ErrSuccess SpinError = 0

	// ErrTimeout is returned by GetNextImage when no image arrived in time
	ErrTimeout SpinError = -1011
)

// ErrCodes maps Spinnaker error codes to their names
var ErrCodes = map[SpinError]string{
	0:     "SPINNAKER_ERR_SUCCESS",
	-1001: "SPINNAKER_ERR_ERROR",
	-1002: "SPINNAKER_ERR_NOT_INITIALIZED",
	-1003: "SPINNAKER_ERR_NOT_IMPLEMENTED",
	-1004: "SPINNAKER_ERR_RESOURCE_IN_USE",
	-1005: "SPINNAKER_ERR_ACCESS_DENIED",
	-1006: "SPINNAKER_ERR_INVALID_HANDLE",
	-1007: "SPINNAKER_ERR_INVALID_ID",
	-1008: "SPINNAKER_ERR_NO_DATA",
	-1009: "SPINNAKER_ERR_INVALID_PARAMETER",
	-1010: "SPINNAKER_ERR_IO",
	-1011: "SPINNAKER_ERR_TIMEOUT",
	-1012: "SPINNAKER_ERR_ABORT",
	-1013: "SPINNAKER_ERR_INVALID_BUFFER",
	-1014: "SPINNAKER_ERR_NOT_AVAILABLE",
	-1015: "SPINNAKER_ERR_INVALID_ADDRESS",
	-1016: "SPINNAKER_ERR_BUFFER_TOO_SMALL",
	-1017: "SPINNAKER_ERR_INVALID_ACCESS",
	-1018: "SPINNAKER_ERR_OUT_OF_BOUNDS",
	-1019: "SPINNAKER_ERR_OUT_OF_MEMORY",
	-1020: "SPINNAKER_ERR_BUSY",
	-2001: "GENICAM_ERR_INVALID_ARGUMENT",
	-2002: "GENICAM_ERR_OUT_OF_RANGE",
	-2003: "GENICAM_ERR_PROPERTY",
	-2004: "GENICAM_ERR_RUN_TIME",
	-2005: "GENICAM_ERR_LOGICAL",
	-2006: "GENICAM_ERR_ACCESS",
	-2007: "GENICAM_ERR_TIMEOUT",
	-2008: "GENICAM_ERR_DYNAMIC_CAST",
	-2009: "GENICAM_ERR_GENERIC",
	-2010: "GENICAM_ERR_BAD_ALLOCATION",
}

// Error satisfies the error interface
func (e SpinError) Error() string {
	if s, ok := ErrCodes[e]; ok {
		return fmt.Sprintf("%d - %s", e, s)
	}
	return fmt.Sprintf("%d - UNKNOWN_ERROR_CODE", int(e))
}

// Error converts a C return code to an error, nil for success.
// Timeouts wrap camera.ErrFrameTimeout so the acquisition loop treats them as misses.
func Error(code int) error {
	e := SpinError(code)
	switch e {
	case ErrSuccess:
		return nil
	case ErrTimeout, -2007:
		return errors.Wrap(camera.ErrFrameTimeout, e.Error())
	}
	return e
}

// nodeNames maps camera parameter names to GenICam node names and types
var nodeNames = map[string]struct {
	Node, Type string
}{
	camera.ParamExposure:     {"ExposureTime", "float"},
	camera.ParamAutoExposure: {"ExposureAuto", "bool"},
	camera.ParamFPS:          {"AcquisitionFrameRate", "float"},
	camera.ParamBinning:      {"BinningHorizontal", "int"},
	camera.ParamOffsetX:      {"OffsetX", "int"},
	camera.ParamOffsetY:      {"OffsetY", "int"},
	camera.ParamADC:          {"AdcBitDepth", "int"},
	camera.ParamTriggerIn:    {"TriggerSource", "int"},
	camera.ParamTriggerOut:   {"LineSelector", "int"},
	camera.ParamTTLInvert:    {"LineInverter", "bool"},
	camera.ParamWidth:        {"Width", "int"},
	camera.ParamHeight:       {"Height", "int"},
}

// adcEnum is the AdcBitDepth enumeration entry for a bit depth
func adcEnum(bits int64) (string, error) {
	switch bits {
	case 8:
		return "Bit8", nil
	case 10:
		return "Bit10", nil
	case 12:
		return "Bit12", nil
	case 16:
		return "Bit16", nil
	}
	return "", fmt.Errorf("no ADC mode for %d bits", bits)
}

// pixelFormat is the PixelFormat entry delivering samples of the given bit depth
func pixelFormat(bits int64) string {
	if bits > 8 {
		return "Mono16"
	}
	return "Mono8"
}

// lineName is the GenICam line entry for a hardware line number
func lineName(line int64) string {
	return fmt.Sprintf("Line%d", line)
}
