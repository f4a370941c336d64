package alerts_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ogulcanaydogan/costwatch/pkg/alerts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeChannel struct {
	name  string
	err   error
	delay time.Duration
	panic bool
	sent  atomic.Int32
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, _ alerts.Alert) error {
	if f.panic {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.sent.Add(1)
	return f.err
}

// stubbornChannel ignores its context entirely.
type stubbornChannel struct{ release chan struct{} }

func (s *stubbornChannel) Name() string { return "stubborn" }

func (s *stubbornChannel) Send(context.Context, alerts.Alert) error {
	<-s.release
	return nil
}

func TestDispatcher_AllChannelsSucceed(t *testing.T) {
	a := &fakeChannel{name: "a"}
	b := &fakeChannel{name: "b"}
	d := alerts.NewDispatcher(testLogger(), time.Second, a, b)

	res := d.Dispatch(context.Background(), sampleAlert())
	require.Len(t, res.Results, 2)
	assert.False(t, res.Degraded())
	assert.NoError(t, res.Err())
	assert.Equal(t, "a", res.Results[0].Channel)
	assert.Equal(t, "b", res.Results[1].Channel)
	assert.True(t, res.Results[0].OK())
	assert.Equal(t, int32(1), a.sent.Load())
	assert.Equal(t, int32(1), b.sent.Load())
	assert.Equal(t, []string{"a", "b"}, d.Channels())
}

func TestDispatcher_PartialFailure(t *testing.T) {
	ok := &fakeChannel{name: "console"}
	bad := &fakeChannel{name: "email", err: errors.New("smtp unreachable")}
	d := alerts.NewDispatcher(testLogger(), time.Second, bad, ok)

	res := d.Dispatch(context.Background(), sampleAlert())
	assert.True(t, res.Degraded())
	assert.Equal(t, int32(1), ok.sent.Load())

	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "email", failed[0].Channel)

	err := res.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, alerts.ErrDispatchPartialFailure)
	assert.Contains(t, err.Error(), "smtp unreachable")
}

func TestDispatcher_SlowChannelTimesOut(t *testing.T) {
	slow := &fakeChannel{name: "webhook", delay: time.Minute}
	fast := &fakeChannel{name: "console"}
	d := alerts.NewDispatcher(testLogger(), 50*time.Millisecond, slow, fast)

	start := time.Now()
	res := d.Dispatch(context.Background(), sampleAlert())
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.True(t, res.Degraded())
	assert.ErrorIs(t, res.Results[0].Err, context.DeadlineExceeded)
	assert.True(t, res.Results[1].OK())
}

func TestDispatcher_ChannelIgnoringContext(t *testing.T) {
	s := &stubbornChannel{release: make(chan struct{})}
	defer close(s.release)
	d := alerts.NewDispatcher(testLogger(), 50*time.Millisecond, s)

	res := d.Dispatch(context.Background(), sampleAlert())
	require.Len(t, res.Results, 1)
	assert.ErrorIs(t, res.Results[0].Err, context.DeadlineExceeded)
}

func TestDispatcher_PanickingChannel(t *testing.T) {
	p := &fakeChannel{name: "broken", panic: true}
	ok := &fakeChannel{name: "console"}
	d := alerts.NewDispatcher(testLogger(), time.Second, p, ok)

	res := d.Dispatch(context.Background(), sampleAlert())
	assert.True(t, res.Degraded())
	assert.Contains(t, res.Results[0].Err.Error(), "panicked")
	assert.True(t, res.Results[1].OK())
}

func TestDispatcher_NoChannels(t *testing.T) {
	d := alerts.NewDispatcher(testLogger(), 0)
	res := d.Dispatch(context.Background(), sampleAlert())
	assert.Empty(t, res.Results)
	assert.False(t, res.Degraded())
}

func TestConsoleChannel_Send(t *testing.T) {
	var buf bytes.Buffer
	c := alerts.NewConsoleChannel(testLogger(), &buf)
	assert.Equal(t, "console", c.Name())

	require.NoError(t, c.Send(context.Background(), sampleAlert()))
	out := buf.String()
	assert.Contains(t, out, "14:00:00")
	assert.Contains(t, out, "[warning]")
	assert.Contains(t, out, "budget 82.0% used")
}
