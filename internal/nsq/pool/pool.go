package pool

import "sync"

const (
	sizeTiny   = 64
	sizeSmall  = 512
	sizeMedium = 4096
	sizeLarge  = 65536
)

var (
	tinyPool = sync.Pool{New: func() any {
		b := make([]byte, 0, sizeTiny)
		return &b
	}}
	smallPool = sync.Pool{New: func() any {
		b := make([]byte, 0, sizeSmall)
		return &b
	}}
	mediumPool = sync.Pool{New: func() any {
		b := make([]byte, 0, sizeMedium)
		return &b
	}}
	largePool = sync.Pool{New: func() any {
		b := make([]byte, 0, sizeLarge)
		return &b
	}}
)

// Get returns an empty slice with capacity of at least n.
// Slices bigger than the largest class are allocated directly and never pooled.
func Get(n int) []byte {
	var p *sync.Pool
	switch {
	case n <= sizeTiny:
		p = &tinyPool
	case n <= sizeSmall:
		p = &smallPool
	case n <= sizeMedium:
		p = &mediumPool
	case n <= sizeLarge:
		p = &largePool
	default:
		return make([]byte, 0, n)
	}

	return (*p.Get().(*[]byte))[:0]
}

func Put(b []byte) {
	switch cap(b) {
	case sizeTiny:
		tinyPool.Put(&b)
	case sizeSmall:
		smallPool.Put(&b)
	case sizeMedium:
		mediumPool.Put(&b)
	case sizeLarge:
		largePool.Put(&b)
	}
}
