package pools

import (
	"math/bits"
	"sync"
)

// Size classes are powers of two between 2^minClass and 2^maxClass elements.
const (
	minClass = 6  // 64 values
	maxClass = 24 // 16M values; larger frames are not pooled
)

// Float64Pool provides size-class based pooling for float64 slices.
type Float64Pool struct {
	classes [maxClass + 1]sync.Pool
}

// NewFloat64Pool creates a new float64 slice pool.
func NewFloat64Pool() *Float64Pool {
	p := &Float64Pool{}
	for c := minClass; c <= maxClass; c++ {
		size := 1 << c
		p.classes[c].New = func() any {
			s := make([]float64, 0, size)
			return &s
		}
	}
	return p
}

func classOf(n int) int {
	c := bits.Len(uint(n - 1))
	if c < minClass {
		return minClass
	}
	return c
}

// Get returns a zeroed slice of length n.
func (p *Float64Pool) Get(n int) []float64 {
	if n <= 0 {
		return nil
	}
	c := classOf(n)
	if c > maxClass {
		return make([]float64, n)
	}

	sp, ok := p.classes[c].Get().(*[]float64)
	if !ok || cap(*sp) < n {
		return make([]float64, n)
	}
	s := (*sp)[:n]
	clear(s)
	return s
}

// Put returns a slice to the pool. Slices whose capacity is not exactly a
// size class (for example ones allocated by the caller) are dropped.
func (p *Float64Pool) Put(s []float64) {
	c := cap(s)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	class := bits.Len(uint(c)) - 1
	if class < minClass || class > maxClass {
		return
	}
	s = s[:0]
	p.classes[class].Put(&s)
}

var defaultFloat64Pool = NewFloat64Pool()

// Float64s returns the shared float64 pool.
func Float64s() *Float64Pool {
	return defaultFloat64Pool
}
