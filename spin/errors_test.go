package spin

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/nasa-jpl/mscam/camera"
)

func TestError(t *testing.T) {
	assert.NoError(t, Error(0))

	err := Error(-1011)
	assert.True(t, errors.Is(err, camera.ErrFrameTimeout))
	assert.True(t, camera.IsMiss(err))

	err = Error(-1005)
	var se SpinError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "-1005 - SPINNAKER_ERR_ACCESS_DENIED", err.Error())

	assert.Equal(t, "-42 - UNKNOWN_ERROR_CODE", SpinError(-42).Error())
}

func TestEnumHelpers(t *testing.T) {
	s, err := adcEnum(12)
	assert.NoError(t, err)
	assert.Equal(t, "Bit12", s)
	_, err = adcEnum(9)
	assert.Error(t, err)
	assert.Equal(t, "Mono16", pixelFormat(12))
	assert.Equal(t, "Line2", lineName(2))
}
