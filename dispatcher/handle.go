package dispatcher

import (
	"sync/atomic"

	"github.com/netmgmt/snmpcore/pdu"
)

// handleAllocator is the per-dispatcher counter from §4.3 "Handle
// allocation": "next = counter++; if the post-increment goes non-positive,
// reset to 2 and return 1. Guarantees uniqueness across 2^31-1 consecutive
// handles."
type handleAllocator struct {
	counter int32
}

func newHandleAllocator() *handleAllocator {
	return &handleAllocator{counter: 1}
}

func (h *handleAllocator) next() pdu.Handle {
	for {
		cur := atomic.LoadInt32(&h.counter)
		next := cur + 1
		if next <= 0 {
			if atomic.CompareAndSwapInt32(&h.counter, cur, 2) {
				return pdu.Handle(1)
			}
			continue
		}
		if atomic.CompareAndSwapInt32(&h.counter, cur, next) {
			return pdu.Handle(cur)
		}
	}
}
