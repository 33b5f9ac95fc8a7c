// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package gstreamer implements media.Adapter on top of GStreamer via go-gst.
package gstreamer

import (
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/ManuGH/kvsedge/internal/media"
)

var initOnce sync.Once

type element struct {
	el      *gst.Element
	factory string
}

func (e *element) Name() string    { return e.el.GetName() }
func (e *element) Factory() string { return e.factory }

type pipeline struct {
	element
	pl  *gst.Pipeline
	bus *gst.Bus
}

type pad struct {
	p *gst.Pad
}

func (p *pad) Name() string { return p.p.GetName() }

// Adapter drives real GStreamer pipelines.
type Adapter struct {
	mu   sync.Mutex
	pads map[uintptr]*pad
}

var _ media.Adapter = (*Adapter)(nil)

// New initialises GStreamer once per process and returns an adapter.
func New() *Adapter {
	initOnce.Do(func() { gst.Init(nil) })
	return &Adapter{pads: make(map[uintptr]*pad)}
}

// wrap returns the canonical handle for a GstPad so that handles compare equal
// across calls.
func (a *Adapter) wrap(p *gst.Pad) *pad {
	if p == nil {
		return nil
	}
	key := p.Native()
	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok := a.pads[key]; ok {
		return w
	}
	w := &pad{p: p}
	a.pads[key] = w
	return w
}

func (a *Adapter) forget(p *pad) {
	a.mu.Lock()
	delete(a.pads, p.p.Native())
	a.mu.Unlock()
}

func (a *Adapter) NewPipeline(name string) (media.Pipeline, error) {
	pl, err := gst.NewPipeline(name)
	if err != nil {
		return nil, &media.AdapterError{Op: "new-pipeline", Target: name, Err: err}
	}
	return &pipeline{
		element: element{el: pl.Element, factory: "pipeline"},
		pl:      pl,
		bus:     pl.GetPipelineBus(),
	}, nil
}

func (a *Adapter) NewElement(factory string) (media.Element, error) {
	if factory == "" {
		return nil, media.Fail("new-element", "", "empty factory name")
	}
	el, err := gst.NewElement(factory)
	if err != nil {
		return nil, &media.AdapterError{Op: "new-element", Target: factory, Err: err}
	}
	return &element{el: el, factory: factory}, nil
}

func (a *Adapter) SetProperty(e media.Element, name string, value any) error {
	el, err := unwrap("set-property", e)
	if err != nil {
		return err
	}
	if name == "" || !media.ValidValue(value) {
		return media.Fail("set-property", el.GetName(), "invalid property %q=%T", name, value)
	}
	if inner, ok := value.(media.Element); ok {
		gel, err := unwrap("set-property", inner)
		if err != nil {
			return err
		}
		value = gel
	}
	if err := el.SetProperty(name, value); err != nil {
		return &media.AdapterError{Op: "set-property", Target: el.GetName() + "." + name, Err: err}
	}
	return nil
}

func (a *Adapter) Add(p media.Pipeline, elems ...media.Element) error {
	pl, err := unwrapPipeline("add", p)
	if err != nil {
		return err
	}
	gels, err := unwrapAll("add", elems)
	if err != nil {
		return err
	}
	if err := pl.pl.AddMany(gels...); err != nil {
		return &media.AdapterError{Op: "add", Target: pl.Name(), Err: err}
	}
	return nil
}

func (a *Adapter) LinkMany(elems ...media.Element) error {
	gels, err := unwrapAll("link-many", elems)
	if err != nil {
		return err
	}
	if err := gst.ElementLinkMany(gels...); err != nil {
		return &media.AdapterError{Op: "link-many", Err: err}
	}
	return nil
}

func (a *Adapter) StaticPad(e media.Element, name string) (media.Pad, error) {
	el, err := unwrap("static-pad", e)
	if err != nil {
		return nil, err
	}
	p := el.GetStaticPad(name)
	if p == nil {
		return nil, media.Fail("static-pad", el.GetName(), "no static pad %q", name)
	}
	return a.wrap(p), nil
}

func (a *Adapter) RequestPad(e media.Element, template string) (media.Pad, error) {
	el, err := unwrap("request-pad", e)
	if err != nil {
		return nil, err
	}
	p := el.GetRequestPad(template)
	if p == nil {
		return nil, media.Fail("request-pad", el.GetName(), "no request pad for template %q", template)
	}
	return a.wrap(p), nil
}

func (a *Adapter) ReleaseRequestPad(e media.Element, p media.Pad) error {
	el, err := unwrap("release-request-pad", e)
	if err != nil {
		return err
	}
	gp, err := unwrapPad("release-request-pad", p)
	if err != nil {
		return err
	}
	el.ReleaseRequestPad(gp.p)
	a.forget(gp)
	return nil
}

func (a *Adapter) IsLinked(p media.Pad) bool {
	gp, err := unwrapPad("is-linked", p)
	if err != nil {
		return false
	}
	return gp.p.IsLinked()
}

func (a *Adapter) Peer(p media.Pad) (media.Pad, bool) {
	gp, err := unwrapPad("peer", p)
	if err != nil {
		return nil, false
	}
	peer := gp.p.GetPeer()
	if peer == nil {
		return nil, false
	}
	return a.wrap(peer), true
}

func (a *Adapter) LinkPads(src, sink media.Pad) error {
	s, err := unwrapPad("link-pads", src)
	if err != nil {
		return err
	}
	k, err := unwrapPad("link-pads", sink)
	if err != nil {
		return err
	}
	if ret := s.p.Link(k.p); ret != gst.PadLinkOK {
		return media.Fail("link-pads", s.Name()+"->"+k.Name(), "link returned %v", ret)
	}
	return nil
}

func (a *Adapter) UnlinkPads(src, sink media.Pad) error {
	s, err := unwrapPad("unlink-pads", src)
	if err != nil {
		return err
	}
	k, err := unwrapPad("unlink-pads", sink)
	if err != nil {
		return err
	}
	if !s.p.Unlink(k.p) {
		return media.Fail("unlink-pads", s.Name()+"->"+k.Name(), "pads were not linked")
	}
	return nil
}

func (a *Adapter) SendEOS(p media.Pad) error {
	gp, err := unwrapPad("send-eos", p)
	if err != nil {
		return err
	}
	if !gp.p.SendEvent(gst.NewEOSEvent()) {
		return media.Fail("send-eos", gp.Name(), "event not handled")
	}
	return nil
}

func (a *Adapter) AddProbe(p media.Pad, typ media.ProbeType, fn media.ProbeFunc) error {
	gp, err := unwrapPad("add-probe", p)
	if err != nil {
		return err
	}
	if typ != media.ProbeIdle || fn == nil {
		return media.Fail("add-probe", gp.Name(), "unsupported probe type %d", typ)
	}
	gp.p.AddProbe(gst.PadProbeTypeIdle, func(_ *gst.Pad, _ *gst.PadProbeInfo) gst.PadProbeReturn {
		if fn(gp) == media.ProbeRemove {
			return gst.PadProbeRemove
		}
		return gst.PadProbeOK
	})
	return nil
}

func (a *Adapter) SyncWithParent(e media.Element) error {
	el, err := unwrap("sync-state", e)
	if err != nil {
		return err
	}
	if !el.SyncStateWithParent() {
		return media.Fail("sync-state", el.GetName(), "could not sync state with parent")
	}
	return nil
}

func (a *Adapter) StopElement(e media.Element) error {
	el, err := unwrap("stop-element", e)
	if err != nil {
		return err
	}
	if err := el.SetState(gst.StateNull); err != nil {
		return &media.AdapterError{Op: "stop-element", Target: el.GetName(), Err: err}
	}
	return nil
}

func (a *Adapter) SetState(p media.Pipeline, state media.State) error {
	pl, err := unwrapPipeline("set-state", p)
	if err != nil {
		return err
	}
	if err := pl.pl.SetState(toGstState(state)); err != nil {
		return &media.AdapterError{Op: "set-state", Target: pl.Name(), Err: err}
	}
	return nil
}

func (a *Adapter) PopMessage(p media.Pipeline, timeout time.Duration) (media.Message, bool) {
	pl, err := unwrapPipeline("pop-message", p)
	if err != nil {
		return media.Message{}, false
	}
	msg := pl.bus.TimedPop(timeout)
	if msg == nil {
		return media.Message{}, false
	}
	return translate(msg), true
}

func (a *Adapter) PostEOS(p media.Pipeline) error {
	pl, err := unwrapPipeline("post-eos", p)
	if err != nil {
		return err
	}
	if !pl.pl.SendEvent(gst.NewEOSEvent()) {
		return media.Fail("post-eos", pl.Name(), "event not handled")
	}
	return nil
}

func translate(msg *gst.Message) media.Message {
	out := media.Message{Source: msg.Source()}
	switch msg.Type() {
	case gst.MessageEOS:
		out.Type = media.MessageEOS
	case gst.MessageError:
		out.Type = media.MessageError
		gerr := msg.ParseError()
		out.Err = gerr
		out.Debug = gerr.DebugString()
	case gst.MessageWarning:
		out.Type = media.MessageWarning
		gerr := msg.ParseWarning()
		out.Err = gerr
		out.Debug = gerr.DebugString()
	case gst.MessageStateChanged:
		out.Type = media.MessageStateChanged
		old, cur := msg.ParseStateChanged()
		out.OldState = fromGstState(old)
		out.NewState = fromGstState(cur)
	default:
		out.Type = media.MessageUnknown
	}
	return out
}

func toGstState(s media.State) gst.State {
	switch s {
	case media.StateReady:
		return gst.StateReady
	case media.StatePaused:
		return gst.StatePaused
	case media.StatePlaying:
		return gst.StatePlaying
	default:
		return gst.StateNull
	}
}

func fromGstState(s gst.State) media.State {
	switch s {
	case gst.StateReady:
		return media.StateReady
	case gst.StatePaused:
		return media.StatePaused
	case gst.StatePlaying:
		return media.StatePlaying
	default:
		return media.StateNull
	}
}

func unwrap(op string, e media.Element) (*gst.Element, error) {
	switch v := e.(type) {
	case *element:
		if v != nil && v.el != nil {
			return v.el, nil
		}
	case *pipeline:
		if v != nil && v.el != nil {
			return v.el, nil
		}
	}
	return nil, media.Fail(op, "", "foreign or nil element %T", e)
}

func unwrapAll(op string, elems []media.Element) ([]*gst.Element, error) {
	out := make([]*gst.Element, 0, len(elems))
	for _, e := range elems {
		el, err := unwrap(op, e)
		if err != nil {
			return nil, err
		}
		out = append(out, el)
	}
	return out, nil
}

func unwrapPipeline(op string, p media.Pipeline) (*pipeline, error) {
	pl, ok := p.(*pipeline)
	if !ok || pl == nil {
		return nil, media.Fail(op, "", "not a pipeline: %T", p)
	}
	return pl, nil
}

func unwrapPad(op string, p media.Pad) (*pad, error) {
	gp, ok := p.(*pad)
	if !ok || gp == nil || gp.p == nil {
		return nil, media.Fail(op, "", "foreign or nil pad %T", p)
	}
	return gp, nil
}

// appSink converts an appsink element into its app.Sink view.
func appSink(el *gst.Element) *app.Sink {
	return app.SinkFromElement(el)
}
