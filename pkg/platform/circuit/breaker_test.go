package circuit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// answers replays primary outcomes ('x' failed, '.' succeeded) and returns whose
// answer the caller uses for each: 'p' primary, 'f' fallback, '-' neither (a failure
// before the circuit opens, where the caller fails open).
func answers(b *Breaker, outcomes string) string {
	out := make([]byte, 0, len(outcomes))
	for _, o := range outcomes {
		switch o {
		case 'x':
			if useFallback, _ := b.RecordFailure(); useFallback {
				out = append(out, 'f')
			} else {
				out = append(out, '-')
			}
		case '.':
			if usePrimary, _ := b.RecordSuccess(); usePrimary {
				out = append(out, 'p')
			} else {
				out = append(out, 'f')
			}
		}
	}
	return string(out)
}

func TestBreakerRoutesLimiterChecks(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		outcomes string
		want     string
		open     bool
	}{
		{"healthy store stays on primary", nil, ".....", "ppppp", false},
		{"defaults open on the fifth failure", nil, "xxxxx", "----f", true},
		{"flapping store never opens", []Option{WithFailureThreshold(2)}, "x.x.x.", "-p-p-p", false},
		{"open circuit keeps using fallback while store fails", []Option{WithFailureThreshold(2)}, "xxxxx", "-ffff", true},
		{"recovery needs consecutive successes", []Option{WithFailureThreshold(1), WithSuccessThreshold(3)}, "x..x...", "ffffffp", false},
		{"failure during recovery restarts the count", []Option{WithFailureThreshold(1), WithSuccessThreshold(2)}, "x.x.", "ffff", true},
		{"non-positive thresholds keep defaults", []Option{WithFailureThreshold(0), WithSuccessThreshold(-1)}, "xxxx", "----", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("redis-limiter", tt.opts...)
			assert.Equal(t, tt.want, answers(b, tt.outcomes))
			assert.Equal(t, tt.open, b.IsOpen())
		})
	}
}

func TestBreakerReportsTransitionsOnce(t *testing.T) {
	b := New("redis-limiter", WithFailureThreshold(2), WithSuccessThreshold(1))

	_, change := b.RecordFailure()
	assert.Equal(t, Change{}, change)
	_, change = b.RecordFailure()
	assert.Equal(t, Change{Opened: true}, change)
	_, change = b.RecordFailure()
	assert.Equal(t, Change{}, change, "already open")

	_, change = b.RecordSuccess()
	assert.Equal(t, Change{Closed: true}, change)
	assert.Equal(t, "closed", b.State().String())
}

func TestBreakerResetReturnsToPrimary(t *testing.T) {
	b := New("redis-limiter", WithFailureThreshold(1), WithSuccessThreshold(5))
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
	assert.Equal(t, "open", b.State().String())

	b.Reset()
	assert.Equal(t, "p", answers(b, "."))
	assert.Equal(t, "redis-limiter", b.Name())
}

func TestBreakerConcurrentFailuresOpenOnce(t *testing.T) {
	b := New("redis-limiter", WithFailureThreshold(10))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, change := b.RecordFailure(); change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, opened)
	assert.True(t, b.IsOpen())
}
