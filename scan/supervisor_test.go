package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/assetcache/event"
)

const waitFor = 5 * time.Second

func waitCompleted(t *testing.T, ch <-chan event.Message) event.Message {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case msg := <-ch:
			if msg.Kind == event.ScanCompleted {
				return msg
			}
		case <-timeout:
			t.Fatal("timed out waiting for scan completion")
		}
	}
}

func assertNoCompletion(t *testing.T, ch <-chan event.Message, d time.Duration) {
	t.Helper()
	timeout := time.After(d)
	for {
		select {
		case msg := <-ch:
			if msg.Kind == event.ScanCompleted {
				t.Fatal("unexpected scan completion")
			}
		case <-timeout:
			return
		}
	}
}

func TestStartScansAndCountsDown(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	writeFile(t, filepath.Join(f.settings.source, "a.tex"), "alpha")

	ch, unsubscribe := f.bus.Subscribe(0)
	defer unsubscribe()

	f.scanner.Start(context.Background())
	defer f.scanner.Stop()

	msg := waitCompleted(t, ch)
	assert.Equal(t, 1, msg.Added)

	require.Eventually(t, func() bool {
		next := f.scanner.Progress().NextScan
		return next > 0 && next <= time.Hour
	}, waitFor, 5*time.Millisecond)
}

func TestPausedSkipsUnlessForced(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.settings.paused = true

	ch, unsubscribe := f.bus.Subscribe(0)
	defer unsubscribe()

	f.scanner.Start(context.Background())
	defer f.scanner.Stop()
	assertNoCompletion(t, ch, 100*time.Millisecond)

	f.scanner.RequestScan(false)
	assertNoCompletion(t, ch, 100*time.Millisecond)

	f.scanner.RequestScan(true)
	waitCompleted(t, ch)
}

func TestSuspendResumeForcesScan(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.settings.paused = true

	ch, unsubscribe := f.bus.Subscribe(0)
	defer unsubscribe()

	f.scanner.Start(context.Background())
	defer f.scanner.Stop()

	f.scanner.Suspend()
	f.scanner.Suspend()
	f.scanner.RequestScan(true)
	f.scanner.Resume()
	assertNoCompletion(t, ch, 100*time.Millisecond)

	f.scanner.Resume()
	waitCompleted(t, ch)
}

func TestListenHandlesDownloads(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.settings.paused = true

	ch, unsubscribe := f.bus.Subscribe(0)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.scanner.Start(ctx)
	defer f.scanner.Stop()

	listening := make(chan struct{})
	go func() {
		defer close(listening)
		f.scanner.Listen(ctx)
	}()
	require.Eventually(t, func() bool { return f.bus.Count() == 2 }, waitFor, time.Millisecond)

	f.bus.Publish(event.Message{Kind: event.DownloadStarted})
	f.bus.Publish(event.Message{Kind: event.DownloadFinished})
	waitCompleted(t, ch)

	cancel()
	<-listening
}

func TestEvictionForcesScan(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.settings.paused = true
	f.settings.maxBytes = 10

	old := writeFile(t, filepath.Join(f.settings.cache, "old.bin"), "0123456789")
	recent := writeFile(t, filepath.Join(f.settings.cache, "new.bin"), "0123456789")
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	ch, unsubscribe := f.bus.Subscribe(0)
	defer unsubscribe()

	f.scanner.Start(context.Background())
	defer f.scanner.Stop()

	waitCompleted(t, ch)
	_, err := os.Stat(old)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(recent)
	require.NoError(t, err)
	assert.Equal(t, int64(10), f.scanner.Progress().CacheSize)
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.scanner.RequestScan(true)
	f.scanner.Resume()
	f.scanner.Stop()
	assert.False(t, f.scanner.Progress().Running)
}

func TestListenStalledKeepsDownloadPairs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.settings.paused = true

	const downloads = 70
	ch, unsubscribe := f.bus.Subscribe(4*downloads + 8)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.scanner.Start(ctx)
	defer f.scanner.Stop()

	listening := make(chan struct{})
	go func() {
		defer close(listening)
		f.scanner.Listen(ctx)
	}()
	require.Eventually(t, func() bool { return f.bus.Count() == 2 }, waitFor, time.Millisecond)

	// Hold the scanner lock so the listener blocks on its first Suspend
	// while the downloads keep arriving.
	f.scanner.mu.Lock()
	published := make(chan struct{})
	go func() {
		defer close(published)
		for range downloads {
			f.bus.Publish(event.Message{Kind: event.DownloadStarted})
		}
		for range downloads {
			f.bus.Publish(event.Message{Kind: event.DownloadFinished})
		}
	}()
	time.Sleep(50 * time.Millisecond)
	f.scanner.mu.Unlock()
	<-published

	require.Eventually(t, func() bool {
		f.scanner.mu.Lock()
		defer f.scanner.mu.Unlock()
		return f.scanner.suspends == 0
	}, waitFor, time.Millisecond)
	waitCompleted(t, ch)

	cancel()
	<-listening
}
