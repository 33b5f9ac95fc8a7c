// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package mediatest provides an in-memory media.Adapter. It models pads,
// links, per-pad stream locks, IDLE probes and buffer flow closely enough to
// exercise live attach/detach without a real media framework.
//
// Buffers are pushed synchronously by the caller of Push, which plays the role
// of the streaming thread. Elements that are not PLAYING drop buffers.
package mediatest

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/kvsedge/internal/media"
)

type direction int

const (
	dirSrc direction = iota
	dirSink
)

type element struct {
	name    string
	factory string

	props    map[string]any
	parent   *element
	state    media.State
	pads     map[string]*pad
	reqCount map[string]int
	dynCount int

	// pipeline only
	children []*element
	bus      chan media.Message

	padAdded       []media.PadAddedFunc
	streamCount    []media.StreamCountFunc
	sample         media.SampleFunc
	formatLocation media.FormatLocationFunc

	fragments int
	locations []string
	received  [][]byte
	eos       int
}

func (e *element) Name() string    { return e.name }
func (e *element) Factory() string { return e.factory }

type pad struct {
	name     string
	owner    *element
	dir      direction
	request  bool
	dynamic  bool
	released bool
	seq      int
	peer     *pad
	probes   []media.ProbeFunc
	eos      int

	stream sync.Mutex
}

func (p *pad) Name() string { return p.name }

// Adapter is an in-memory media.Adapter.
type Adapter struct {
	mu       sync.Mutex
	counters map[string]int
	elements []*element
	padSeq   int

	deniedProps  map[string]bool
	failFactory  map[string]bool
	suppressEOS  bool
	failLinks    bool
	probesActive sync.WaitGroup
}

var _ media.Adapter = (*Adapter)(nil)

// New returns an empty in-memory adapter.
func New() *Adapter {
	return &Adapter{
		counters:    make(map[string]int),
		deniedProps: make(map[string]bool),
		failFactory: make(map[string]bool),
	}
}

func (a *Adapter) NewPipeline(name string) (media.Pipeline, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if name == "" {
		name = a.nextName("pipeline")
	}
	p := &element{
		name:    name,
		factory: "pipeline",
		props:   make(map[string]any),
		state:   media.StateNull,
		pads:    make(map[string]*pad),
		bus:     make(chan media.Message, 256),
	}
	a.elements = append(a.elements, p)
	return p, nil
}

func (a *Adapter) NewElement(factory string) (media.Element, error) {
	if factory == "" {
		return nil, media.Fail("new-element", "", "empty factory name")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failFactory[factory] {
		return nil, media.Fail("new-element", factory, "no such element factory")
	}
	e := &element{
		name:     a.nextName(factory),
		factory:  factory,
		props:    make(map[string]any),
		state:    media.StateNull,
		pads:     make(map[string]*pad),
		reqCount: make(map[string]int),
	}
	a.elements = append(a.elements, e)
	return e, nil
}

func (a *Adapter) nextName(factory string) string {
	n := a.counters[factory]
	a.counters[factory] = n + 1
	return fmt.Sprintf("%s%d", factory, n)
}

func (a *Adapter) SetProperty(e media.Element, name string, value any) error {
	el, err := a.elem("set-property", e)
	if err != nil {
		return err
	}
	if name == "" {
		return media.Fail("set-property", el.name, "empty property name")
	}
	if !media.ValidValue(value) {
		return media.Fail("set-property", el.name, "unsupported value %T for %q", value, name)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deniedProps[name] {
		return media.Fail("set-property", el.name, "no property %q", name)
	}
	el.props[name] = value
	return nil
}

func (a *Adapter) Add(p media.Pipeline, elems ...media.Element) error {
	pl, err := a.pipeline("add", p)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range elems {
		el, ok := e.(*element)
		if !ok || el == nil {
			return media.Fail("add", pl.name, "foreign element %T", e)
		}
		if el.parent != nil {
			return media.Fail("add", el.name, "already in %s", el.parent.name)
		}
		el.parent = pl
		pl.children = append(pl.children, el)
	}
	return nil
}

func (a *Adapter) LinkMany(elems ...media.Element) error {
	if len(elems) < 2 {
		return media.Fail("link-many", "", "need at least two elements")
	}
	for i := 0; i+1 < len(elems); i++ {
		src, err := a.StaticPad(elems[i], "src")
		if err != nil {
			return err
		}
		sink, err := a.StaticPad(elems[i+1], "sink")
		if err != nil {
			return err
		}
		if err := a.LinkPads(src, sink); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) StaticPad(e media.Element, name string) (media.Pad, error) {
	el, err := a.elem("static-pad", e)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := el.pads[name]; ok && !p.request && !p.dynamic {
		return p, nil
	}
	var dir direction
	switch {
	case name == "src" && hasStaticSrc(el.factory):
		dir = dirSrc
	case name == "sink" && hasStaticSink(el.factory):
		dir = dirSink
	default:
		return nil, media.Fail("static-pad", el.name, "no static pad %q", name)
	}
	p := &pad{name: name, owner: el, dir: dir}
	el.pads[name] = p
	return p, nil
}

func (a *Adapter) RequestPad(e media.Element, template string) (media.Pad, error) {
	el, err := a.elem("request-pad", e)
	if err != nil {
		return nil, err
	}
	dir, ok := requestTemplate(el.factory, template)
	if !ok {
		return nil, media.Fail("request-pad", el.name, "no request template %q", template)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	name := template
	if strings.Contains(template, "%u") {
		n := el.reqCount[template]
		el.reqCount[template] = n + 1
		name = strings.Replace(template, "%u", fmt.Sprint(n), 1)
	} else if _, exists := el.pads[name]; exists {
		return nil, media.Fail("request-pad", el.name, "pad %q already requested", name)
	}
	a.padSeq++
	p := &pad{name: name, owner: el, dir: dir, request: true, seq: a.padSeq}
	el.pads[name] = p
	return p, nil
}

func (a *Adapter) ReleaseRequestPad(e media.Element, pd media.Pad) error {
	el, err := a.elem("release-request-pad", e)
	if err != nil {
		return err
	}
	p, err := a.pad("release-request-pad", pd)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if p.owner != el || !p.request || p.released {
		return media.Fail("release-request-pad", el.name, "pad %q is not a live request pad of this element", p.name)
	}
	if p.peer != nil {
		p.peer.peer = nil
		p.peer = nil
	}
	p.released = true
	delete(el.pads, p.name)
	return nil
}

func (a *Adapter) IsLinked(pd media.Pad) bool {
	p, ok := pd.(*pad)
	if !ok || p == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return p.peer != nil
}

func (a *Adapter) Peer(pd media.Pad) (media.Pad, bool) {
	p, ok := pd.(*pad)
	if !ok || p == nil {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if p.peer == nil {
		return nil, false
	}
	return p.peer, true
}

func (a *Adapter) LinkPads(srcPad, sinkPad media.Pad) error {
	src, err := a.pad("link-pads", srcPad)
	if err != nil {
		return err
	}
	sink, err := a.pad("link-pads", sinkPad)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.failLinks:
		return media.Fail("link-pads", src.name+"->"+sink.name, "link refused")
	case src.dir != dirSrc || sink.dir != dirSink:
		return media.Fail("link-pads", src.name+"->"+sink.name, "wrong pad direction")
	case src.released || sink.released:
		return media.Fail("link-pads", src.name+"->"+sink.name, "pad released")
	case src.peer != nil || sink.peer != nil:
		return media.Fail("link-pads", src.name+"->"+sink.name, "pad already linked")
	}
	src.peer = sink
	sink.peer = src
	return nil
}

func (a *Adapter) UnlinkPads(srcPad, sinkPad media.Pad) error {
	src, err := a.pad("unlink-pads", srcPad)
	if err != nil {
		return err
	}
	sink, err := a.pad("unlink-pads", sinkPad)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if src.peer != sink || sink.peer != src {
		return media.Fail("unlink-pads", src.name+"->"+sink.name, "pads are not linked to each other")
	}
	src.peer = nil
	sink.peer = nil
	return nil
}

func (a *Adapter) SendEOS(pd media.Pad) error {
	p, err := a.pad("send-eos", pd)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p.eos++
	if p.dir == dirSink {
		a.propagateEOSLocked(p.owner, 0)
	} else if p.peer != nil {
		p.peer.eos++
		a.propagateEOSLocked(p.peer.owner, 0)
	}
	return nil
}

func (a *Adapter) propagateEOSLocked(el *element, depth int) {
	if depth > 64 {
		return
	}
	el.eos++
	if src, ok := el.pads["src"]; ok && src.peer != nil {
		src.peer.eos++
		a.propagateEOSLocked(src.peer.owner, depth+1)
	}
}

// AddProbe installs an IDLE probe. The callback runs on a separate goroutine
// once the pad's stream lock is free. A probe returning media.ProbeOK stays
// installed and runs again after each subsequent buffer.
func (a *Adapter) AddProbe(pd media.Pad, typ media.ProbeType, fn media.ProbeFunc) error {
	p, err := a.pad("add-probe", pd)
	if err != nil {
		return err
	}
	if typ != media.ProbeIdle {
		return media.Fail("add-probe", p.name, "unsupported probe type %d", typ)
	}
	if fn == nil {
		return media.Fail("add-probe", p.name, "nil probe callback")
	}
	a.probesActive.Add(1)
	go func() {
		defer a.probesActive.Done()
		p.stream.Lock()
		ret := fn(p)
		if ret == media.ProbeOK {
			a.mu.Lock()
			p.probes = append(p.probes, fn)
			a.mu.Unlock()
		}
		p.stream.Unlock()
	}()
	return nil
}

// WaitProbes blocks until every IDLE probe goroutine has returned.
func (a *Adapter) WaitProbes() {
	a.probesActive.Wait()
}

func (a *Adapter) SyncWithParent(e media.Element) error {
	el, err := a.elem("sync-state", e)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if el.parent == nil {
		return media.Fail("sync-state", el.name, "element has no parent")
	}
	el.state = el.parent.state
	return nil
}

func (a *Adapter) StopElement(e media.Element) error {
	el, err := a.elem("stop-element", e)
	if err != nil {
		return err
	}
	a.mu.Lock()
	el.state = media.StateNull
	a.mu.Unlock()
	return nil
}

func (a *Adapter) OnPadAdded(e media.Element, fn media.PadAddedFunc) error {
	el, err := a.elem("on-pad-added", e)
	if err != nil {
		return err
	}
	if fn == nil {
		return media.Fail("on-pad-added", el.name, "nil callback")
	}
	a.mu.Lock()
	el.padAdded = append(el.padAdded, fn)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) OnStreamCount(e media.Element, fn media.StreamCountFunc) error {
	el, err := a.elem("on-stream-count", e)
	if err != nil {
		return err
	}
	if fn == nil {
		return media.Fail("on-stream-count", el.name, "nil callback")
	}
	a.mu.Lock()
	el.streamCount = append(el.streamCount, fn)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) OnNewSample(e media.Element, fn media.SampleFunc) error {
	el, err := a.elem("on-new-sample", e)
	if err != nil {
		return err
	}
	if el.factory != "appsink" {
		return media.Fail("on-new-sample", el.name, "not an appsink")
	}
	if fn == nil {
		return media.Fail("on-new-sample", el.name, "nil callback")
	}
	a.mu.Lock()
	el.sample = fn
	a.mu.Unlock()
	return nil
}

func (a *Adapter) OnFormatLocation(e media.Element, fn media.FormatLocationFunc) error {
	el, err := a.elem("on-format-location", e)
	if err != nil {
		return err
	}
	if el.factory != "splitmuxsink" {
		return media.Fail("on-format-location", el.name, "not a splitmuxsink")
	}
	if fn == nil {
		return media.Fail("on-format-location", el.name, "nil callback")
	}
	a.mu.Lock()
	el.formatLocation = fn
	a.mu.Unlock()
	return nil
}

// SetState changes the pipeline and all of its children. Leaving PLAYING
// removes the dynamic pads of source elements, as rtspsrc does on teardown.
func (a *Adapter) SetState(p media.Pipeline, state media.State) error {
	pl, err := a.pipeline("set-state", p)
	if err != nil {
		return err
	}
	a.mu.Lock()
	old := pl.state
	pl.state = state
	for _, c := range pl.children {
		c.state = state
		if state == media.StateNull {
			for name, dp := range c.pads {
				if !dp.dynamic {
					continue
				}
				if dp.peer != nil {
					dp.peer.peer = nil
					dp.peer = nil
				}
				dp.released = true
				delete(c.pads, name)
			}
		}
	}
	a.mu.Unlock()

	if old != state {
		a.post(pl, media.Message{Type: media.MessageStateChanged, Source: pl.name, OldState: old, NewState: state})
	}
	return nil
}

func (a *Adapter) PopMessage(p media.Pipeline, timeout time.Duration) (media.Message, bool) {
	pl, err := a.pipeline("pop-message", p)
	if err != nil {
		return media.Message{}, false
	}
	if timeout <= 0 {
		select {
		case m := <-pl.bus:
			return m, true
		default:
			return media.Message{}, false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m := <-pl.bus:
		return m, true
	case <-t.C:
		return media.Message{}, false
	}
}

func (a *Adapter) PostEOS(p media.Pipeline) error {
	pl, err := a.pipeline("post-eos", p)
	if err != nil {
		return err
	}
	a.mu.Lock()
	suppress := a.suppressEOS
	for _, c := range pl.children {
		if isSinkFactory(c.factory) {
			c.eos++
		}
	}
	a.mu.Unlock()
	if !suppress {
		a.post(pl, media.Message{Type: media.MessageEOS, Source: pl.name})
	}
	return nil
}

func (a *Adapter) post(pl *element, m media.Message) {
	select {
	case pl.bus <- m:
	default:
	}
}

func (a *Adapter) elem(op string, e media.Element) (*element, error) {
	el, ok := e.(*element)
	if !ok || el == nil {
		return nil, media.Fail(op, "", "foreign or nil element %T", e)
	}
	return el, nil
}

func (a *Adapter) pipeline(op string, p media.Pipeline) (*element, error) {
	el, ok := p.(*element)
	if !ok || el == nil || el.factory != "pipeline" {
		return nil, media.Fail(op, "", "not a pipeline: %T", p)
	}
	return el, nil
}

func (a *Adapter) pad(op string, p media.Pad) (*pad, error) {
	pd, ok := p.(*pad)
	if !ok || pd == nil {
		return nil, media.Fail(op, "", "foreign or nil pad %T", p)
	}
	return pd, nil
}

func isMuxerFactory(f string) bool { return strings.HasSuffix(f, "mux") }

func isSinkFactory(f string) bool {
	switch f {
	case "appsink", "splitmuxsink", "filesink", "fakesink":
		return true
	}
	return false
}

func hasStaticSrc(f string) bool {
	switch {
	case f == "pipeline", f == "rtspsrc", f == "tee", isSinkFactory(f):
		return false
	}
	return true
}

func hasStaticSink(f string) bool {
	switch {
	case f == "pipeline", f == "rtspsrc", f == "splitmuxsink", isMuxerFactory(f):
		return false
	}
	return true
}

func requestTemplate(factory, template string) (direction, bool) {
	switch {
	case factory == "tee" && template == "src_%u":
		return dirSrc, true
	case isMuxerFactory(factory) && (template == "video_%u" || template == "audio_%u"):
		return dirSink, true
	case factory == "splitmuxsink" && (template == "video" || template == "audio_%u"):
		return dirSink, true
	}
	return 0, false
}

func sortedPads(pads map[string]*pad, keep func(*pad) bool) []*pad {
	out := make([]*pad, 0, len(pads))
	for _, p := range pads {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
