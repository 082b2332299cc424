package capi

import (
	"sync"
	"unsafe"
)

// Allocator creates the NUL-terminated strings handed to the host.
// The cgo layer backs it with C.CString and C.free.
type Allocator interface {
	CString(s string) unsafe.Pointer
	Free(p unsafe.Pointer)
}

// Slots under which returned strings are kept alive.
const (
	slotFunctionName       = "function_name"
	slotFailureReason      = "failure_reason"
	slotRecoverySuggestion = "recovery_suggestion"
)

// stringCache keeps the last string returned per slot until the next call
// that replaces it.
type stringCache struct {
	alloc Allocator
	slots map[string]unsafe.Pointer
}

func newStringCache(alloc Allocator) *stringCache {
	return &stringCache{alloc: alloc, slots: make(map[string]unsafe.Pointer)}
}

func (c *stringCache) keep(slot, s string) unsafe.Pointer {
	if old, ok := c.slots[slot]; ok {
		c.alloc.Free(old)
	}
	p := c.alloc.CString(s)
	c.slots[slot] = p
	return p
}

func (c *stringCache) release() {
	for slot, p := range c.slots {
		c.alloc.Free(p)
		delete(c.slots, slot)
	}
}

// GoAllocator keeps strings in Go memory. The pointers stay valid while the
// allocator holds them, which is enough for pure Go callers and tests.
type GoAllocator struct {
	mu   sync.Mutex
	live map[unsafe.Pointer][]byte
}

// NewGoAllocator creates an empty GoAllocator.
func NewGoAllocator() *GoAllocator {
	return &GoAllocator{live: make(map[unsafe.Pointer][]byte)}
}

func (a *GoAllocator) CString(s string) unsafe.Pointer {
	buf := append([]byte(s), 0)
	p := unsafe.Pointer(&buf[0])
	a.mu.Lock()
	a.live[p] = buf
	a.mu.Unlock()
	return p
}

func (a *GoAllocator) Free(p unsafe.Pointer) {
	a.mu.Lock()
	delete(a.live, p)
	a.mu.Unlock()
}

// Live returns the number of strings not yet freed.
func (a *GoAllocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// GoString reads a string created by CString.
func (a *GoAllocator) GoString(p unsafe.Pointer) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.live[p]
	if !ok {
		return ""
	}
	return string(buf[:len(buf)-1])
}
