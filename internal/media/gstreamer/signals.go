// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package gstreamer

import (
	"strings"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/ManuGH/kvsedge/internal/media"
)

func (a *Adapter) OnPadAdded(e media.Element, fn media.PadAddedFunc) error {
	el, err := unwrap("on-pad-added", e)
	if err != nil {
		return err
	}
	if fn == nil {
		return media.Fail("on-pad-added", el.GetName(), "nil callback")
	}
	_, err = el.Connect("pad-added", func(_ *gst.Element, p *gst.Pad) {
		fn(a.wrap(p), streamInfo(p))
	})
	if err != nil {
		return &media.AdapterError{Op: "on-pad-added", Target: el.GetName(), Err: err}
	}
	return nil
}

// OnStreamCount counts announced pads by media type and publishes the totals
// when the source signals no-more-pads.
func (a *Adapter) OnStreamCount(e media.Element, fn media.StreamCountFunc) error {
	el, err := unwrap("on-stream-count", e)
	if err != nil {
		return err
	}
	if fn == nil {
		return media.Fail("on-stream-count", el.GetName(), "nil callback")
	}
	var (
		mu           sync.Mutex
		audio, video int
	)
	if _, err := el.Connect("pad-added", func(_ *gst.Element, p *gst.Pad) {
		info := streamInfo(p)
		mu.Lock()
		switch info.Media {
		case "audio":
			audio++
		case "video":
			video++
		}
		mu.Unlock()
	}); err != nil {
		return &media.AdapterError{Op: "on-stream-count", Target: el.GetName(), Err: err}
	}
	if _, err := el.Connect("no-more-pads", func(_ *gst.Element) {
		mu.Lock()
		na, nv := audio, video
		audio, video = 0, 0
		mu.Unlock()
		fn(na, nv)
	}); err != nil {
		return &media.AdapterError{Op: "on-stream-count", Target: el.GetName(), Err: err}
	}
	return nil
}

// OnNewSample binds the appsink "new-sample" signal. The signal only fires
// while emit-signals is true.
func (a *Adapter) OnNewSample(e media.Element, fn media.SampleFunc) error {
	el, err := unwrap("on-new-sample", e)
	if err != nil {
		return err
	}
	if fn == nil {
		return media.Fail("on-new-sample", el.GetName(), "nil callback")
	}
	_, err = el.Connect("new-sample", func(self *gst.Element) gst.FlowReturn {
		sample := appSink(self).PullSample()
		if sample == nil {
			return gst.FlowOK
		}
		buffer := sample.GetBuffer()
		if buffer == nil {
			return gst.FlowOK
		}
		mapInfo := buffer.Map(gst.MapRead)
		fn(mapInfo.Bytes())
		buffer.Unmap()
		return gst.FlowOK
	})
	if err != nil {
		return &media.AdapterError{Op: "on-new-sample", Target: el.GetName(), Err: err}
	}
	return nil
}

func (a *Adapter) OnFormatLocation(e media.Element, fn media.FormatLocationFunc) error {
	el, err := unwrap("on-format-location", e)
	if err != nil {
		return err
	}
	if fn == nil {
		return media.Fail("on-format-location", el.GetName(), "nil callback")
	}
	_, err = el.Connect("format-location", func(_ *gst.Element, fragmentID uint) string {
		return fn(fragmentID)
	})
	if err != nil {
		return &media.AdapterError{Op: "on-format-location", Target: el.GetName(), Err: err}
	}
	return nil
}

// streamInfo reads media type and encoding from RTP caps.
func streamInfo(p *gst.Pad) media.StreamInfo {
	caps := p.GetCurrentCaps()
	if caps == nil {
		return media.StreamInfo{}
	}
	st := caps.GetStructureAt(0)
	if st == nil {
		return media.StreamInfo{}
	}
	var info media.StreamInfo
	if v, err := st.GetValue("media"); err == nil {
		if s, ok := v.(string); ok {
			info.Media = strings.ToLower(s)
		}
	}
	if v, err := st.GetValue("encoding-name"); err == nil {
		if s, ok := v.(string); ok {
			info.Encoding = strings.ToUpper(s)
		}
	}
	return info
}
