// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package bus

import "github.com/sentinel-ops/sentinel/internal/signal"

// inbox is the bounded ring between the transport and a handler. Exactly one
// goroutine pushes and one drains, so eviction keeps FIFO order. In evicting
// mode a full ring drops its oldest signals; otherwise push blocks until the
// drainer makes room.
type inbox struct {
	ch    chan *signal.Signal
	evict bool
}

func newInbox(size int, evict bool) *inbox {
	if size <= 0 {
		size = 1
	}
	return &inbox{ch: make(chan *signal.Signal, size), evict: evict}
}

// push enqueues sig. Any signals evicted to make room are returned so the
// caller can count and report them; in blocking mode the result is always
// empty.
func (i *inbox) push(sig *signal.Signal) []*signal.Signal {
	if !i.evict {
		i.ch <- sig
		return nil
	}

	var evicted []*signal.Signal
	for {
		select {
		case i.ch <- sig:
			return evicted
		default:
		}
		select {
		case old := <-i.ch:
			evicted = append(evicted, old)
		default:
			// Drainer consumed concurrently; retry the send.
		}
	}
}

// out returns the drain side of the ring.
func (i *inbox) out() <-chan *signal.Signal { return i.ch }

// close releases the drainer. Only the pushing goroutine may call it.
func (i *inbox) close() { close(i.ch) }
