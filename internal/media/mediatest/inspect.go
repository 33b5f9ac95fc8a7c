// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package mediatest

import (
	"github.com/ManuGH/kvsedge/internal/media"
)

// Elements returns every element created from factory, in creation order.
func (a *Adapter) Elements(factory string) []media.Element {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []media.Element
	for _, e := range a.elements {
		if e.factory == factory {
			out = append(out, e)
		}
	}
	return out
}

// Property returns the last value set for name on e.
func (a *Adapter) Property(e media.Element, name string) (any, bool) {
	el, ok := e.(*element)
	if !ok {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := el.props[name]
	return v, ok
}

// State returns the current state of e.
func (a *Adapter) State(e media.Element) media.State {
	el, ok := e.(*element)
	if !ok {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return el.state
}

// Parent returns the pipeline e was added to, if any.
func (a *Adapter) Parent(e media.Element) (media.Pipeline, bool) {
	el, ok := e.(*element)
	if !ok {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if el.parent == nil {
		return nil, false
	}
	return el.parent, true
}

// RequestPads lists the live request pads of e in request order.
func (a *Adapter) RequestPads(e media.Element) []media.Pad {
	el, ok := e.(*element)
	if !ok {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	pads := sortedPads(el.pads, func(p *pad) bool { return p.request })
	out := make([]media.Pad, len(pads))
	for i, p := range pads {
		out[i] = p
	}
	return out
}

// Received returns copies of the buffers that reached sink element e.
func (a *Adapter) Received(e media.Element) [][]byte {
	el, ok := e.(*element)
	if !ok {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]byte, len(el.received))
	copy(out, el.received)
	return out
}

// Locations returns the fragment paths handed out by a splitmuxsink.
func (a *Adapter) Locations(e media.Element) []string {
	el, ok := e.(*element)
	if !ok {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), el.locations...)
}

// EOSCount reports how many EOS events reached e.
func (a *Adapter) EOSCount(e media.Element) int {
	el, ok := e.(*element)
	if !ok {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return el.eos
}

// Owner returns the element a pad belongs to.
func (a *Adapter) Owner(pd media.Pad) media.Element {
	p, ok := pd.(*pad)
	if !ok {
		return nil
	}
	return p.owner
}
