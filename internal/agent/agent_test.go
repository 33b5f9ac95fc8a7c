// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/kvsedge/internal/config"
	"github.com/ManuGH/kvsedge/internal/journal"
	"github.com/ManuGH/kvsedge/internal/recorder"
	"github.com/ManuGH/kvsedge/internal/recordings"
	"github.com/ManuGH/kvsedge/internal/recordings/recordingstest"
	"github.com/ManuGH/kvsedge/internal/uploader"
)

func TestAgent_LiveUploadStreamsRecorderOutput(t *testing.T) {
	f := newFixture(t, []config.Camera{liveCamera(t, "porch")})
	stop := f.run()

	cam, err := f.agent.Camera("porch")
	require.NoError(t, err)
	require.Eventually(t, f.agent.Ready, waitTimeout, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.kvs.count() == 1 }, waitTimeout, 5*time.Millisecond)

	video := f.announceVideo(0)
	f.push(video, 20)

	s := f.kvs.session(0)
	require.Eventually(t, func() bool { return s.received() > 0 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, "porch", s.req.StreamName)
	assert.Equal(t, uploader.TimecodeRelative, s.req.TimecodeType)

	require.Eventually(t, func() bool { return cam.Status().LastFragment != nil }, waitTimeout, 5*time.Millisecond)
	st := cam.Status()
	assert.Equal(t, string(recorder.StatusStarted), st.Recorder)
	assert.True(t, st.LiveEnabled)
	assert.True(t, st.LiveSession)

	require.NoError(t, stop())
	assert.Eventually(t, s.ended, waitTimeout, 5*time.Millisecond)
	assert.False(t, f.agent.Ready())
}

func TestAgent_ToggleLiveRotatesSession(t *testing.T) {
	f := newFixture(t, []config.Camera{liveCamera(t, "porch")})
	f.run()

	cam, err := f.agent.Camera("porch")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.kvs.count() == 1 }, waitTimeout, 5*time.Millisecond)
	video := f.announceVideo(0)
	f.push(video, 5)
	first := f.kvs.session(0)
	require.Eventually(t, func() bool { return first.received() > 0 }, waitTimeout, 5*time.Millisecond)

	changed, err := cam.SetLive(false)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Eventually(t, first.ended, waitTimeout, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !cam.Status().LiveSession }, waitTimeout, 5*time.Millisecond)

	changed, err = cam.SetLive(false)
	require.NoError(t, err)
	assert.False(t, changed)

	// Samples produced while live is off go nowhere.
	f.push(video, 5)
	assert.Equal(t, 1, f.kvs.count())

	changed, err = cam.SetLive(true)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Eventually(t, func() bool { return f.kvs.count() == 2 }, waitTimeout, 5*time.Millisecond)

	second := f.kvs.session(1)
	f.push(video, 5)
	require.Eventually(t, func() bool { return second.received() > 0 }, waitTimeout, 5*time.Millisecond)
	assert.True(t, cam.Status().LiveEnabled)
}

func TestAgent_SetLiveWithoutLiveUpload(t *testing.T) {
	cam := liveCamera(t, "garage")
	cam.LiveUpload = false
	cam.Record = true
	f := newFixture(t, []config.Camera{cam})

	c, err := f.agent.Camera("garage")
	require.NoError(t, err)
	_, err = c.SetLive(true)
	require.ErrorIs(t, err, ErrLiveNotConfigured)
	assert.False(t, c.Status().LiveEnabled)
}

func TestAgent_RestartsRecorderAfterSourceFailure(t *testing.T) {
	f := newFixture(t, []config.Camera{liveCamera(t, "porch")})
	f.run()
	require.Eventually(t, f.agent.Ready, waitTimeout, 5*time.Millisecond)

	pipelines := f.media.Elements("pipeline")
	require.Len(t, pipelines, 1)
	require.NoError(t, f.media.PostError(pipelines[0], f.source(0).Name(), errors.New("connection refused")))

	cam, err := f.agent.Camera("porch")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return cam.Status().LastError != "" }, waitTimeout, 5*time.Millisecond)
	require.Eventually(t, f.agent.Ready, waitTimeout, 5*time.Millisecond)
	assert.Contains(t, cam.Status().LastError, "connection refused")
}

func TestAgent_UnknownCamera(t *testing.T) {
	f := newFixture(t, []config.Camera{liveCamera(t, "porch")})
	_, err := f.agent.Camera("attic")
	require.ErrorIs(t, err, ErrUnknownCamera)
	assert.Len(t, f.agent.Statuses(), 1)

	_, err = f.agent.SetLive("attic", true)
	assert.ErrorIs(t, err, ErrUnknownCamera)
	_, err = f.agent.UploadHistorical(context.Background(), "attic", time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrUnknownCamera)
	_, err = f.agent.Recordings("attic")
	assert.ErrorIs(t, err, ErrUnknownCamera)
	assert.ErrorIs(t, f.agent.CancelUpload("attic"), ErrUnknownCamera)
}

func TestAgent_DuplicateCamera(t *testing.T) {
	cam := liveCamera(t, "porch")
	_, err := New(config.Config{Region: "eu-west-1", Cameras: []config.Camera{cam, cam}}, Deps{})
	require.Error(t, err)
}

func recordCamera(t *testing.T, name string) config.Camera {
	cam := liveCamera(t, name)
	cam.LiveUpload = false
	cam.Record = true
	return cam
}

func TestCamera_UploadHistorical(t *testing.T) {
	camCfg := recordCamera(t, "garage")
	payload := recordingstest.Encode(t, 3)
	for _, ms := range []int64{1_700_000_000_000, 1_700_000_060_000, 1_700_000_120_000} {
		recordingstest.Write(t, camCfg.RecordPath, ms, payload)
	}
	f := newFixture(t, []config.Camera{camCfg})
	cam, err := f.agent.Camera("garage")
	require.NoError(t, err)

	res, err := cam.UploadHistorical(context.Background(), time.UnixMilli(1_699_999_999_000), time.UnixMilli(1_700_000_200_000))
	require.NoError(t, err)
	assert.Positive(t, res.Acks)
	assert.Equal(t, res.Acks, res.Persisted)
	assert.Len(t, res.Uploaded, 3)
	assert.False(t, res.LastFragment.IsZero())

	require.Equal(t, 1, f.kvs.count())
	s := f.kvs.session(0)
	assert.Equal(t, 3*len(payload), s.received())
	assert.True(t, s.req.ProducerStart.Equal(time.UnixMilli(1_700_000_000_000)), s.req.ProducerStart)

	left, err := recordings.NewVisitor(camCfg.RecordPath).ListFilesToUpload(time.UnixMilli(0), time.UnixMilli(1_800_000_000_000))
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.NotNil(t, cam.Status().LastFragment)
}

func TestCamera_UploadHistoricalInvalidRange(t *testing.T) {
	f := newFixture(t, []config.Camera{recordCamera(t, "garage")})
	cam, err := f.agent.Camera("garage")
	require.NoError(t, err)

	_, err = cam.UploadHistorical(context.Background(), time.UnixMilli(2000), time.UnixMilli(1000))
	require.ErrorIs(t, err, uploader.ErrInvalidRange)
	assert.Equal(t, 0, f.kvs.count())
}

func TestCamera_Recordings(t *testing.T) {
	camCfg := recordCamera(t, "garage")
	now := time.UnixMilli(1_700_000_600_000)
	f := newFixture(t, []config.Camera{camCfg}, WithClock(func() time.Time { return now }))

	payload := recordingstest.Encode(t, 2)
	old := recordingstest.Write(t, camCfg.RecordPath, 1_700_000_000_000, payload)
	fresh := recordingstest.Write(t, camCfg.RecordPath, 1_700_000_540_000, payload)
	done := recordingstest.Write(t, camCfg.RecordPath, 1_699_999_000_000, payload)
	require.NoError(t, os.Chtimes(old, now.Add(-time.Minute), now.Add(-time.Minute)))
	require.NoError(t, os.Chtimes(fresh, now, now))
	vf := recordings.VideoFile{Path: done, Time: time.UnixMilli(1_699_999_000_000)}
	require.NoError(t, recordings.MarkUploaded(&vf))

	cam, err := f.agent.Camera("garage")
	require.NoError(t, err)
	recs, err := cam.Recordings()
	require.NoError(t, err)
	require.Len(t, recs, 3)

	states := map[string]recordings.SegmentState{}
	for _, r := range recs {
		states[r.Name] = r.State
		assert.Equal(t, int64(len(payload)), r.SizeBytes)
	}
	assert.Equal(t, recordings.StateUploaded, states[filepath.Base(vf.Path)])
	assert.Equal(t, recordings.StateFinished, states[filepath.Base(old)])
	assert.Equal(t, recordings.StateRecording, states[filepath.Base(fresh)])
}

func TestCamera_UploadHistoricalJournal(t *testing.T) {
	camCfg := recordCamera(t, "garage")
	payload := recordingstest.Encode(t, 2)
	for _, ms := range []int64{1_700_000_000_000, 1_700_000_060_000} {
		recordingstest.Write(t, camCfg.RecordPath, ms, payload)
	}
	f := newFixture(t, []config.Camera{camCfg})

	_, err := f.agent.UploadHistorical(context.Background(), "garage", time.UnixMilli(2000), time.UnixMilli(1000))
	require.ErrorIs(t, err, uploader.ErrInvalidRange)

	res, err := f.agent.UploadHistorical(context.Background(), "garage", time.UnixMilli(1_699_999_999_000), time.UnixMilli(1_700_000_100_000))
	require.NoError(t, err)

	entries, err := f.agent.Uploads(context.Background(), "garage", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "invalid ranges are not journalled")
	e := entries[0]
	assert.Equal(t, journal.KindHistorical, e.Kind)
	assert.Equal(t, journal.ResultCompleted, e.Result)
	assert.Equal(t, "garage", e.Stream)
	assert.Equal(t, 2, e.Files)
	assert.Equal(t, res.Persisted, e.Persisted)
	require.NotNil(t, e.RangeEnd)
	assert.Equal(t, int64(1_700_000_100_000), e.RangeEnd.UnixMilli())

	_, err = f.agent.Uploads(context.Background(), "attic", 10)
	require.ErrorIs(t, err, ErrUnknownCamera)

	cam, err := f.agent.Camera("garage")
	require.NoError(t, err)
	cam.journal = nil
	_, err = cam.Uploads(context.Background(), 10)
	require.ErrorIs(t, err, ErrJournalDisabled)
}

// gatedJournal holds Begin until release is closed.
type gatedJournal struct {
	*fakeJournal
	entered chan struct{}
	release chan struct{}
}

func (j *gatedJournal) Begin(ctx context.Context, e journal.Entry) error {
	close(j.entered)
	<-j.release
	return j.fakeJournal.Begin(ctx, e)
}

func TestCamera_CancelBeforeSessionStarts(t *testing.T) {
	camCfg := recordCamera(t, "garage")
	recordingstest.Write(t, camCfg.RecordPath, 1_700_000_000_000, recordingstest.Encode(t, 2))
	f := newFixture(t, []config.Camera{camCfg})
	cam, err := f.agent.Camera("garage")
	require.NoError(t, err)
	gate := &gatedJournal{fakeJournal: f.journal, entered: make(chan struct{}), release: make(chan struct{})}
	cam.journal = gate

	type outcome struct {
		res UploadResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := cam.UploadHistorical(context.Background(), time.UnixMilli(1_699_999_999_000), time.UnixMilli(1_700_000_100_000))
		done <- outcome{res, err}
	}()

	select {
	case <-gate.entered:
	case <-time.After(waitTimeout):
		t.Fatal("upload never reached the journal")
	}
	cam.CancelUpload()
	close(gate.release)

	var out outcome
	select {
	case out = <-done:
	case <-time.After(waitTimeout):
		t.Fatal("cancelled upload did not return")
	}
	require.NoError(t, out.err)
	assert.Empty(t, out.res.Uploaded)
	assert.Zero(t, f.kvs.count(), "no PutMedia after cancel")

	entries, err := f.journal.List(context.Background(), "garage", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.ResultCancelled, entries[0].Result)

	left, err := recordings.NewVisitor(camCfg.RecordPath).ListFilesToUpload(time.UnixMilli(0), time.UnixMilli(1_800_000_000_000))
	require.NoError(t, err)
	assert.Len(t, left, 1, "segment stays pending")
}

func TestCamera_CancelWhileIdleDoesNotLeak(t *testing.T) {
	camCfg := recordCamera(t, "garage")
	recordingstest.Write(t, camCfg.RecordPath, 1_700_000_000_000, recordingstest.Encode(t, 2))
	f := newFixture(t, []config.Camera{camCfg})
	cam, err := f.agent.Camera("garage")
	require.NoError(t, err)

	cam.CancelUpload()
	res, err := cam.UploadHistorical(context.Background(), time.UnixMilli(1_699_999_999_000), time.UnixMilli(1_700_000_100_000))
	require.NoError(t, err)
	assert.Len(t, res.Uploaded, 1)

	entries, err := f.journal.List(context.Background(), "garage", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.ResultCompleted, entries[0].Result)
}

func TestAgent_LiveSessionsAreJournalled(t *testing.T) {
	f := newFixture(t, []config.Camera{liveCamera(t, "porch")})
	stop := f.run()

	pad := f.announceVideo(0)
	require.Eventually(t, func() bool { return f.kvs.count() == 1 }, waitTimeout, time.Millisecond)
	f.push(pad, 5)
	require.NoError(t, stop())

	entries, err := f.agent.Uploads(context.Background(), "porch", 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, journal.KindLive, last.Kind)
	assert.Equal(t, journal.ResultCancelled, last.Result, "shutdown cancels the live session")
	assert.Nil(t, last.RangeStart)
}

func TestSessionResult(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	tests := []struct {
		name      string
		ctx       context.Context
		err       error
		cancelled bool
		want      journal.Result
	}{
		{"completed", context.Background(), nil, false, journal.ResultCompleted},
		{"failed", context.Background(), errors.New("boom"), false, journal.ResultFailed},
		{"cancel requested", context.Background(), nil, true, journal.ResultCancelled},
		{"context cancelled", cancelled, errors.New("boom"), false, journal.ResultCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sessionResult(tt.ctx, tt.err, tt.cancelled))
		})
	}
}
