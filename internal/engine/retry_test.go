package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_DoublesWithoutJitter(t *testing.T) {
	p := RetryPolicy{Initial: time.Second, Max: 5 * time.Minute}

	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
}

func TestRetryPolicy_CapsAtMax(t *testing.T) {
	p := RetryPolicy{Initial: time.Second, Max: 5 * time.Minute}

	assert.Equal(t, 5*time.Minute, p.Delay(10))
	assert.Equal(t, 5*time.Minute, p.Delay(30))
}

func TestRetryPolicy_JitterStaysInBounds(t *testing.T) {
	p := RetryPolicy{Initial: 10 * time.Second, Max: time.Hour, Jitter: 0.2}

	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.LessOrEqual(t, d, 12*time.Second)
	}
}
