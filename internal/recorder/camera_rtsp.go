// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recorder

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/kvsedge/internal/log"
	"github.com/ManuGH/kvsedge/internal/media"
	"github.com/ManuGH/kvsedge/internal/media/preset"
)

const (
	// rtspProtocolsTCP is the GstRTSPLowerTrans flag for interleaved TCP.
	rtspProtocolsTCP = 4
	defaultLatencyMs = 200
)

type cameraConfig struct {
	logger zerolog.Logger
}

// chain is the per-stream depay → parse → tee path. It outlives pads so a
// restarted session can re-link into the same branches.
type chain struct {
	depay media.Element
	parse media.Element
	tee   Tee
}

type rtspCamera struct {
	adapter  media.Adapter
	pipeline media.Pipeline
	src      media.Element
	logger   zerolog.Logger

	mu     sync.Mutex
	chains map[string]*chain
	order  []string
	seen   map[string]int
	audio  int
	video  int
	teeFns []TeeFunc
	errFns []ErrorFunc
}

func newRTSPCamera(a media.Adapter, p media.Pipeline, url string, cfg cameraConfig) (*rtspCamera, error) {
	src, err := a.NewElement("rtspsrc")
	if err != nil {
		return nil, fmt.Errorf("create rtspsrc: %w", err)
	}
	for _, prop := range []struct {
		name  string
		value any
	}{
		{"location", url},
		{"protocols", rtspProtocolsTCP},
		{"latency", defaultLatencyMs},
	} {
		if err := a.SetProperty(src, prop.name, prop.value); err != nil {
			return nil, fmt.Errorf("configure rtspsrc: %w", err)
		}
	}
	if err := a.Add(p, src); err != nil {
		return nil, fmt.Errorf("add rtspsrc: %w", err)
	}

	c := &rtspCamera{
		adapter:  a,
		pipeline: p,
		src:      src,
		logger:   cfg.logger.With().Str(log.FieldElement, src.Name()).Logger(),
		chains:   make(map[string]*chain),
		seen:     make(map[string]int),
	}
	if err := a.OnPadAdded(src, c.handlePad); err != nil {
		return nil, err
	}
	if err := a.OnStreamCount(src, c.handleCounts); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *rtspCamera) setProperty(name string, value any) error {
	if err := c.adapter.SetProperty(c.src, name, value); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidProperty, name, err)
	}
	return nil
}

func (c *rtspCamera) onTee(fn TeeFunc) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.teeFns = append(c.teeFns, fn)
	c.mu.Unlock()
}

func (c *rtspCamera) onError(fn ErrorFunc) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.errFns = append(c.errFns, fn)
	c.mu.Unlock()
}

func (c *rtspCamera) resetSession() {
	c.mu.Lock()
	clear(c.seen)
	c.mu.Unlock()
}

func (c *rtspCamera) streamCounts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audio, c.video
}

func (c *rtspCamera) tees() []Tee {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Tee, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.chains[k].tee)
	}
	return out
}

func (c *rtspCamera) handleCounts(audio, video int) {
	c.mu.Lock()
	c.audio, c.video = audio, video
	c.mu.Unlock()
	c.logger.Info().
		Str(log.FieldEvent, "camera.streams").
		Int("audio", audio).
		Int("video", video).
		Msg("session description received")
}

// handlePad runs on a streaming goroutine for every announced RTP pad.
func (c *rtspCamera) handlePad(pad media.Pad, info media.StreamInfo) {
	logger := c.logger.With().
		Str(log.FieldPad, pad.Name()).
		Str(log.FieldMedia, info.Media).
		Str(log.FieldEncoding, info.Encoding).
		Logger()

	capability, ok := capabilityFromMedia(info.Media)
	if !ok {
		c.fail(logger, fmt.Errorf("%w: media type %q", preset.ErrUnsupportedCodec, info.Media))
		return
	}
	codec, err := preset.LookupCodec(info.Encoding)
	if err != nil {
		c.fail(logger, err)
		return
	}

	c.mu.Lock()
	base := info.Media + "/" + codec.Encoding
	key := fmt.Sprintf("%s#%d", base, c.seen[base])
	c.seen[base]++
	ch, exists := c.chains[key]
	if !exists {
		ch, err = c.buildChain(codec, capability)
		if err != nil {
			c.mu.Unlock()
			c.fail(logger, err)
			return
		}
		c.chains[key] = ch
		c.order = append(c.order, key)
	}
	fns := append([]TeeFunc(nil), c.teeFns...)
	c.mu.Unlock()

	if !exists {
		for _, fn := range fns {
			fn(ch.tee)
		}
	}

	if err := c.linkPad(pad, ch); err != nil {
		c.fail(logger, err)
		return
	}
	logger.Info().
		Str(log.FieldEvent, "camera.pad_linked").
		Bool("reused", exists).
		Str("tee", ch.tee.Element.Name()).
		Msg("elementary stream linked")
}

func (c *rtspCamera) buildChain(codec preset.Codec, capability Capability) (*chain, error) {
	a := c.adapter
	depay, err := a.NewElement(codec.Depay)
	if err != nil {
		return nil, err
	}
	parse, err := a.NewElement(codec.Parse)
	if err != nil {
		return nil, err
	}
	tee, err := a.NewElement("tee")
	if err != nil {
		return nil, err
	}
	if err := a.SetProperty(tee, "allow-not-linked", true); err != nil {
		return nil, err
	}
	if err := a.Add(c.pipeline, depay, parse, tee); err != nil {
		return nil, err
	}
	if err := a.LinkMany(depay, parse, tee); err != nil {
		return nil, err
	}
	return &chain{
		depay: depay,
		parse: parse,
		tee:   Tee{Element: tee, Cap: capability, Encoding: codec.Encoding},
	}, nil
}

// linkPad syncs the chain downstream-first and then links the source pad.
func (c *rtspCamera) linkPad(pad media.Pad, ch *chain) error {
	a := c.adapter
	for _, e := range []media.Element{ch.tee.Element, ch.parse, ch.depay} {
		if err := a.SyncWithParent(e); err != nil {
			return err
		}
	}
	sink, err := a.StaticPad(ch.depay, "sink")
	if err != nil {
		return err
	}
	if peer, linked := a.Peer(sink); linked {
		if err := a.UnlinkPads(peer, sink); err != nil {
			return err
		}
	}
	return a.LinkPads(pad, sink)
}

func (c *rtspCamera) fail(logger zerolog.Logger, err error) {
	logger.Warn().Err(err).Str(log.FieldEvent, "camera.pad_rejected").Msg("dropping elementary stream")
	c.mu.Lock()
	fns := append([]ErrorFunc(nil), c.errFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}
