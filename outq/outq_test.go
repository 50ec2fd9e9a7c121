package outq

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fixedProbe(values ...int) Probe {
	i := 0
	return func() (int, error) {
		v := values[i%len(values)]
		i++
		return v, nil
	}
}

func TestBaselineRelativeSamples(t *testing.T) {
	// Baseline 100, then raw readings above and below it.
	e := NewEstimator(fixedProbe(100, 612, 40))

	assert.Equal(t, 512, e.Sample())
	assert.Equal(t, 60, e.Sample(), "distance from baseline is absolute")
	assert.Equal(t, 60, e.Latest())
	assert.Equal(t, 512, e.Max())
}

func TestSaturateAndPressure(t *testing.T) {
	e := NewEstimator(fixedProbe(0, 1337))

	e.Saturate()
	assert.Equal(t, 16*1024, e.Latest())
	assert.Equal(t, 16, e.Pressure(1024))
	assert.Equal(t, 0, e.Pressure(0))

	assert.Equal(t, 1337, e.Sample())
	assert.Equal(t, 1, e.Pressure(1024))
	assert.Equal(t, 16*1024, e.Max(), "saturation stays in history")
}

func TestProbeFailureCarriesForward(t *testing.T) {
	calls := 0
	e := NewEstimator(func() (int, error) {
		calls++
		switch calls {
		case 1:
			return 0, nil
		case 2:
			return 200, nil
		default:
			return 0, fmt.Errorf("ioctl: bad file descriptor")
		}
	})

	assert.Equal(t, 200, e.Sample())
	assert.Equal(t, 200, e.Sample(), "failed probe keeps previous value")
}

func TestBaselineProbeFailure(t *testing.T) {
	e := NewEstimator(func() (int, error) {
		return 0, fmt.Errorf("ioctl: not supported")
	})
	assert.Equal(t, 0, e.Latest())
}

func TestHistoryEviction(t *testing.T) {
	e := NewEstimator(fixedProbe(0))
	e.record(9999)
	for i := 0; i < HistorySize; i++ {
		e.record(1)
	}
	assert.Equal(t, 1, e.Max(), "old peak evicted after a full ring turn")
}
