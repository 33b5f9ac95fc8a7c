// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package mediatest

import (
	"fmt"

	"github.com/ManuGH/kvsedge/internal/media"
)

// Announce creates a dynamic source pad on e and fires its pad-added
// callbacks on the calling goroutine.
func (a *Adapter) Announce(e media.Element, info media.StreamInfo) (media.Pad, error) {
	el, err := a.elem("announce", e)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	name := fmt.Sprintf("recv_rtp_src_%d", el.dynCount)
	el.dynCount++
	a.padSeq++
	p := &pad{name: name, owner: el, dir: dirSrc, dynamic: true, seq: a.padSeq}
	el.pads[name] = p
	fns := append([]media.PadAddedFunc(nil), el.padAdded...)
	a.mu.Unlock()

	for _, fn := range fns {
		fn(p, info)
	}
	return p, nil
}

// AnnounceCounts fires the stream-count callbacks of e.
func (a *Adapter) AnnounceCounts(e media.Element, audio, video int) error {
	el, err := a.elem("announce-counts", e)
	if err != nil {
		return err
	}
	a.mu.Lock()
	fns := append([]media.StreamCountFunc(nil), el.streamCount...)
	a.mu.Unlock()
	for _, fn := range fns {
		fn(audio, video)
	}
	return nil
}

// Push sends buf out of a source pad. The calling goroutine acts as the
// streaming thread for every element the buffer reaches.
func (a *Adapter) Push(pd media.Pad, buf []byte) error {
	p, err := a.pad("push", pd)
	if err != nil {
		return err
	}
	if p.dir != dirSrc {
		return media.Fail("push", p.name, "not a source pad")
	}
	a.push(p, buf)
	return nil
}

func (a *Adapter) push(src *pad, buf []byte) {
	src.stream.Lock()
	defer src.stream.Unlock()

	a.mu.Lock()
	peer := src.peer
	a.mu.Unlock()
	if peer != nil {
		a.deliver(peer, buf)
	}

	a.mu.Lock()
	probes := src.probes
	src.probes = nil
	a.mu.Unlock()
	var keep []media.ProbeFunc
	for _, fn := range probes {
		if fn(src) == media.ProbeOK {
			keep = append(keep, fn)
		}
	}
	if len(keep) > 0 {
		a.mu.Lock()
		src.probes = append(src.probes, keep...)
		a.mu.Unlock()
	}
}

func (a *Adapter) deliver(sink *pad, buf []byte) {
	a.mu.Lock()
	el := sink.owner
	if el.state != media.StatePlaying {
		a.mu.Unlock()
		return
	}

	switch el.factory {
	case "tee":
		srcs := sortedPads(el.pads, func(p *pad) bool { return p.request && p.dir == dirSrc })
		a.mu.Unlock()
		for _, s := range srcs {
			a.push(s, buf)
		}

	case "appsink":
		emit, _ := el.props["emit-signals"].(bool)
		fn := el.sample
		el.received = append(el.received, append([]byte(nil), buf...))
		a.mu.Unlock()
		if emit && fn != nil {
			fn(buf)
		}

	case "splitmuxsink":
		var fn media.FormatLocationFunc
		if len(el.locations) == 0 {
			fn = el.formatLocation
		}
		el.received = append(el.received, append([]byte(nil), buf...))
		a.mu.Unlock()
		if fn != nil {
			a.openFragment(el, fn)
		}

	case "fakesink", "filesink":
		el.received = append(el.received, append([]byte(nil), buf...))
		a.mu.Unlock()

	default:
		src := el.pads["src"]
		a.mu.Unlock()
		if src != nil {
			a.push(src, buf)
		}
	}
}

func (a *Adapter) openFragment(el *element, fn media.FormatLocationFunc) {
	a.mu.Lock()
	id := uint(el.fragments)
	el.fragments++
	a.mu.Unlock()

	loc := fn(id)

	a.mu.Lock()
	el.locations = append(el.locations, loc)
	a.mu.Unlock()
}

// Rotate forces a splitmuxsink to open its next fragment.
func (a *Adapter) Rotate(e media.Element) error {
	el, err := a.elem("rotate", e)
	if err != nil {
		return err
	}
	a.mu.Lock()
	fn := el.formatLocation
	a.mu.Unlock()
	if el.factory != "splitmuxsink" || fn == nil {
		return media.Fail("rotate", el.name, "no format-location handler")
	}
	a.openFragment(el, fn)
	return nil
}

// PostError injects an error message on the pipeline bus.
func (a *Adapter) PostError(p media.Pipeline, source string, err error) error {
	pl, perr := a.pipeline("post-error", p)
	if perr != nil {
		return perr
	}
	a.post(pl, media.Message{Type: media.MessageError, Source: source, Err: err, Debug: "injected"})
	return nil
}

// DenyProperty makes SetProperty reject name on every element.
func (a *Adapter) DenyProperty(name string) {
	a.mu.Lock()
	a.deniedProps[name] = true
	a.mu.Unlock()
}

// FailFactory makes NewElement fail for factory.
func (a *Adapter) FailFactory(factory string) {
	a.mu.Lock()
	a.failFactory[factory] = true
	a.mu.Unlock()
}

// SuppressEOS stops PostEOS from posting the EOS bus message.
func (a *Adapter) SuppressEOS(v bool) {
	a.mu.Lock()
	a.suppressEOS = v
	a.mu.Unlock()
}

// FailLinks makes LinkPads refuse every link while v is true.
func (a *Adapter) FailLinks(v bool) {
	a.mu.Lock()
	a.failLinks = v
	a.mu.Unlock()
}
