package pools

import (
	"sync"
	"testing"
)

func TestFloat64Pool_GetReturnsZeroedLength(t *testing.T) {
	p := NewFloat64Pool()

	for _, n := range []int{1, 63, 64, 65, 1000, 4096} {
		s := p.Get(n)
		if len(s) != n {
			t.Fatalf("Get(%d) length = %d", n, len(s))
		}
		if cap(s) < n {
			t.Fatalf("Get(%d) capacity = %d", n, cap(s))
		}
		for i := range s {
			s[i] = 42
		}
		p.Put(s)

		again := p.Get(n)
		for i, v := range again {
			if v != 0 {
				t.Fatalf("Get(%d) reused dirty slice: [%d] = %v", n, i, v)
			}
		}
	}
}

func TestFloat64Pool_Edges(t *testing.T) {
	p := NewFloat64Pool()

	if s := p.Get(0); s != nil {
		t.Errorf("Get(0) = %v, want nil", s)
	}
	// Odd capacities are ignored rather than corrupting a class.
	p.Put(make([]float64, 100))
	if s := p.Get(100); cap(s) != 128 {
		t.Errorf("Get(100) capacity = %d, want 128", cap(s))
	}
}

func TestClassOf(t *testing.T) {
	tests := []struct{ n, want int }{
		{1, minClass}, {64, 6}, {65, 7}, {128, 7}, {129, 8}, {1 << 20, 20},
	}
	for _, tt := range tests {
		if got := classOf(tt.n); got != tt.want {
			t.Errorf("classOf(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestFloat64Pool_Concurrent(t *testing.T) {
	p := Float64s()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s := p.Get(100 + g)
				s[0] = float64(i)
				p.Put(s)
			}
		}(g)
	}
	wg.Wait()
}
