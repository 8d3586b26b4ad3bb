package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpecBackoffFormula(t *testing.T) {
	b := newSpecBackoff()

	prev := time.Duration(0)
	for i := 0; i < 5; i++ {
		d := b.NextBackOff()
		floor := backoffBase << uint(i)
		if floor > backoffCap {
			floor = backoffCap
		}
		assert.GreaterOrEqual(t, d, floor)
		assert.Less(t, d, floor+time.Second)
		prev = d
	}
	_ = prev
}

func TestSpecBackoffCaps(t *testing.T) {
	b := newSpecBackoff()
	for i := 0; i < 10; i++ {
		b.NextBackOff()
	}
	d := b.NextBackOff()
	assert.GreaterOrEqual(t, d, backoffCap)
	assert.Less(t, d, backoffCap+time.Second)
}

func TestSpecBackoffReset(t *testing.T) {
	b := newSpecBackoff().(*specBackoff)
	b.NextBackOff()
	b.NextBackOff()
	assert.Equal(t, 2, b.attempts)
	b.Reset()
	assert.Equal(t, 0, b.attempts)
}
