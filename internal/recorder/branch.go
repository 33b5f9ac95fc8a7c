// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recorder

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/kvsedge/internal/log"
	"github.com/ManuGH/kvsedge/internal/media"
)

const (
	queueLeakyDownstream = 2
	teeSrcTemplate       = "src_%u"
)

// entryPadFunc returns the branch-side pad a queue feeding a stream of the
// given capability should link to.
type entryPadFunc func(capability Capability) (media.Pad, error)

// branch owns the queues between camera tees and one downstream sub-graph.
//
// Invariant: while enabled, every queue sink pad is linked to a tee request
// pad recorded in reqPads; while disabled, reqPads is empty. queues is never
// shrunk, so re-attaching reuses the same queues.
type branch struct {
	name       string
	adapter    media.Adapter
	pipeline   media.Pipeline
	capability Capability
	entryPad   entryPadFunc
	logger     zerolog.Logger

	mu      sync.Mutex
	enabled bool
	queues  map[media.Element]media.Element
	order   []media.Element
	reqPads map[media.Pad]media.Element
}

func newBranch(name string, a media.Adapter, p media.Pipeline, capability Capability, enabled bool, entry entryPadFunc, logger zerolog.Logger) *branch {
	return &branch{
		name:       name,
		adapter:    a,
		pipeline:   p,
		capability: capability,
		entryPad:   entry,
		logger:     logger.With().Str(log.FieldBranch, name).Logger(),
		enabled:    enabled,
		queues:     make(map[media.Element]media.Element),
		reqPads:    make(map[media.Pad]media.Element),
	}
}

// Enabled reports whether the branch is currently attached to its tees.
func (b *branch) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// BindPath connects tee to this branch through a new queue. Streams the
// branch does not consume are skipped with a warning.
func (b *branch) BindPath(tee media.Element, capability Capability) error {
	ok, err := b.capability.accepts(capability)
	if err != nil {
		return err
	}
	if !ok {
		b.logger.Warn().
			Str(log.FieldEvent, "branch.bind_skipped").
			Str("stream", capability.String()).
			Str("accepts", b.capability.String()).
			Msg("branch does not consume this stream")
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, bound := b.queues[tee]; bound {
		b.logger.Warn().Str(log.FieldEvent, "branch.bind_duplicate").Str("tee", tee.Name()).Msg("tee already bound")
		return nil
	}

	a := b.adapter
	entry, err := b.entryPad(capability)
	if err != nil {
		return fmt.Errorf("branch %s: entry pad: %w", b.name, err)
	}
	queue, err := a.NewElement("queue")
	if err != nil {
		return fmt.Errorf("branch %s: %w", b.name, err)
	}
	if err := a.SetProperty(queue, "flush-on-eos", true); err != nil {
		return err
	}
	if err := a.SetProperty(queue, "leaky", queueLeakyDownstream); err != nil {
		return err
	}
	if err := a.Add(b.pipeline, queue); err != nil {
		return err
	}
	qsrc, err := a.StaticPad(queue, "src")
	if err != nil {
		return err
	}
	if err := a.LinkPads(qsrc, entry); err != nil {
		return err
	}
	if err := a.SyncWithParent(queue); err != nil {
		return err
	}

	b.queues[tee] = queue
	b.order = append(b.order, tee)
	if b.enabled {
		if err := b.linkLocked(tee, queue); err != nil {
			return err
		}
	}
	b.logger.Debug().
		Str(log.FieldEvent, "branch.bound").
		Str("tee", tee.Name()).
		Str("queue", queue.Name()).
		Bool("linked", b.enabled).
		Msg("path bound")
	return nil
}

func (b *branch) linkLocked(tee, queue media.Element) error {
	a := b.adapter
	req, err := a.RequestPad(tee, teeSrcTemplate)
	if err != nil {
		return err
	}
	sink, err := a.StaticPad(queue, "sink")
	if err != nil {
		_ = a.ReleaseRequestPad(tee, req)
		return err
	}
	if err := a.LinkPads(req, sink); err != nil {
		_ = a.ReleaseRequestPad(tee, req)
		return err
	}
	b.reqPads[req] = tee
	return nil
}

// Detach unlinks every queue from its tee at an IDLE point of the tee pad,
// pushes EOS through the queue so the downstream container is finalised, and
// releases the tee request pads. It blocks until every probe has run.
func (b *branch) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		doneMu    sync.Mutex
		doneCond  = sync.NewCond(&doneMu)
		detachCnt int
		installed int
		errs      []error
	)
	a := b.adapter
	for req, tee := range b.reqPads {
		sink, err := a.StaticPad(b.queues[tee], "sink")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		err = a.AddProbe(req, media.ProbeIdle, func(p media.Pad) media.ProbeReturn {
			if a.IsLinked(p) {
				if err := a.UnlinkPads(p, sink); err != nil {
					b.logger.Warn().Err(err).Str(log.FieldEvent, "branch.unlink_failed").Str(log.FieldPad, p.Name()).Msg("unlink in idle probe failed")
				}
			}
			if err := a.SendEOS(sink); err != nil {
				b.logger.Debug().Err(err).Str(log.FieldEvent, "branch.eos_failed").Msg("eos on detached queue not handled")
			}
			doneMu.Lock()
			detachCnt++
			doneCond.Broadcast()
			doneMu.Unlock()
			return media.ProbeRemove
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		installed++
	}

	doneMu.Lock()
	for detachCnt < installed {
		doneCond.Wait()
	}
	doneMu.Unlock()

	for req, tee := range b.reqPads {
		if err := a.ReleaseRequestPad(tee, req); err != nil {
			errs = append(errs, err)
		}
	}
	clear(b.reqPads)
	b.enabled = false

	b.logger.Debug().Str(log.FieldEvent, "branch.detached").Int("paths", installed).Msg("branch detached")
	return errors.Join(errs...)
}

// Attach links every unlinked queue to a fresh tee request pad. A path that
// fails to link releases its request pad; the branch only counts as enabled
// when at least one path is linked or there was nothing to link.
func (b *branch) Attach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	a := b.adapter
	var errs []error
	linked := 0
	for _, tee := range b.order {
		queue := b.queues[tee]
		sink, err := a.StaticPad(queue, "sink")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if a.IsLinked(sink) {
			b.logger.Warn().Str(log.FieldEvent, "branch.attach_skipped").Str("queue", queue.Name()).Msg("queue already linked")
			linked++
			continue
		}
		req, err := a.RequestPad(tee, teeSrcTemplate)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := a.SyncWithParent(queue); err != nil {
			errs = append(errs, err, a.ReleaseRequestPad(tee, req))
			continue
		}
		if err := a.LinkPads(req, sink); err != nil {
			errs = append(errs, err, a.ReleaseRequestPad(tee, req))
			continue
		}
		b.reqPads[req] = tee
		linked++
	}
	err := errors.Join(errs...)
	b.enabled = linked > 0 || err == nil

	b.logger.Debug().Str(log.FieldEvent, "branch.attached").Int("paths", len(b.reqPads)).Bool("enabled", b.enabled).Msg("branch attached")
	return err
}

// snapshot returns copies of the queue and request pad maps.
func (b *branch) snapshot() (map[media.Element]media.Element, map[media.Pad]media.Element) {
	b.mu.Lock()
	defer b.mu.Unlock()
	queues := make(map[media.Element]media.Element, len(b.queues))
	for k, v := range b.queues {
		queues[k] = v
	}
	reqs := make(map[media.Pad]media.Element, len(b.reqPads))
	for k, v := range b.reqPads {
		reqs[k] = v
	}
	return queues, reqs
}
