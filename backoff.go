package gateway

import (
	"math/rand"
	"time"

	"github.com/cenk/backoff"
)

const (
	backoffBase = time.Second
	backoffCap  = 60 * time.Second
)

// specBackoff implements backoff.BackOff with the formula spec.md §4.4
// fixes: min(CAP, BASE*2^(attempts-1)) plus a uniform additive jitter in
// [0,1)s, applied on every attempt including the first - the source's
// inconsistency about jittering the first attempt is explicitly not
// carried forward (see SPEC_FULL.md §6).
type specBackoff struct {
	attempts int
}

func newSpecBackoff() backoff.BackOff { return &specBackoff{} }

// NextBackOff implements backoff.BackOff.
func (b *specBackoff) NextBackOff() time.Duration {
	b.attempts++

	exp := backoffBase << uint(b.attempts-1)
	if exp > backoffCap || exp <= 0 {
		exp = backoffCap
	}

	jitter := time.Duration(rand.Float64() * float64(time.Second))
	return exp + jitter
}

// Reset implements backoff.BackOff. Called whenever a HELLO is received.
func (b *specBackoff) Reset() { b.attempts = 0 }
