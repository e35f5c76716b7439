package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"floatplay/internal/domain"
)

type fakeProbe struct {
	report domain.MediaCapabilityReport
	err    error
	calls  int
}

func (f *fakeProbe) Probe(ctx context.Context, path string) (domain.MediaCapabilityReport, error) {
	f.calls++
	return f.report, f.err
}

type fakeStreamer struct {
	configured   []domain.StreamSource
	starts       int
	stops        int
	configureErr error
	startErr     error
	startBlock   bool
}

func (f *fakeStreamer) Configure(ctx context.Context, source domain.StreamSource) error {
	if f.configureErr != nil {
		return f.configureErr
	}
	f.configured = append(f.configured, source)
	return nil
}

func (f *fakeStreamer) Start(ctx context.Context) error {
	f.starts++
	if f.startBlock {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.startErr
}

func (f *fakeStreamer) StopStreaming(ctx context.Context) error {
	f.stops++
	return nil
}

func (f *fakeStreamer) VideoURL() string    { return "http://127.0.0.1:8888/video.mp4" }
func (f *fakeStreamer) SubtitleURL() string { return "http://127.0.0.1:8888/subtitle" }

type event struct {
	kind    string
	payload any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []event
}

func (f *fakeNotifier) Notify(eventType string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event{kind: eventType, payload: payload})
}

func noSubtitle(string) (string, bool) { return "", false }

func newPlayFile(probe MediaProbe, streamer *fakeStreamer, notifier *fakeNotifier) *PlayFile {
	return &PlayFile{
		Probe:          probe,
		Streamer:       streamer,
		Notifier:       notifier,
		LocateSubtitle: noSubtitle,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:            func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestPlayFileNative(t *testing.T) {
	probe := &fakeProbe{report: domain.NewMediaCapabilityReport("h264", "aac", 120)}
	streamer := &fakeStreamer{}
	notifier := &fakeNotifier{}
	uc := newPlayFile(probe, streamer, notifier)

	got, err := uc.Execute(context.Background(), "/path/to/file.mp4")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Mode != domain.PlaybackNative {
		t.Fatalf("mode = %q, want native", got.Mode)
	}
	if got.VideoSource != "local-video:/path/to/file.mp4" {
		t.Fatalf("videoSource = %q", got.VideoSource)
	}
	if got.SubtitleSource != "" || got.DurationSeconds != 0 {
		t.Fatalf("unexpected descriptor %+v", got)
	}
	if got.ID == "" || got.CreatedAt.IsZero() {
		t.Fatalf("descriptor missing id/createdAt: %+v", got)
	}
	if streamer.starts != 0 || len(streamer.configured) != 0 {
		t.Fatal("native playback must not start the stream server")
	}
	if streamer.stops != 1 {
		t.Fatalf("stream stops = %d, want 1", streamer.stops)
	}
	if len(notifier.events) != 1 || notifier.events[0].kind != EventPlayback {
		t.Fatalf("events = %+v", notifier.events)
	}
	current, ok := uc.Current()
	if !ok || current.ID != got.ID {
		t.Fatalf("Current = %+v, %v", current, ok)
	}
}

func TestPlayFileNativeWithSubtitle(t *testing.T) {
	probe := &fakeProbe{report: domain.NewMediaCapabilityReport("vp8", "vorbis", 60)}
	uc := newPlayFile(probe, &fakeStreamer{}, &fakeNotifier{})
	uc.LocateSubtitle = func(string) (string, bool) { return "/path/to/file.smi", true }

	got, err := uc.Execute(context.Background(), "/path/to/file.webm")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.SubtitleSource != "local-subtitle:/path/to/file.smi" {
		t.Fatalf("subtitleSource = %q", got.SubtitleSource)
	}
}

func TestPlayFileForcedTranscode(t *testing.T) {
	probe := &fakeProbe{report: domain.NewMediaCapabilityReport("hevc", "aac", 120)}
	streamer := &fakeStreamer{}
	notifier := &fakeNotifier{}
	uc := newPlayFile(probe, streamer, notifier)
	uc.LocateSubtitle = func(string) (string, bool) { return "/movies/film.srt", true }

	got, err := uc.Execute(context.Background(), "/movies/film.mkv")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Mode != domain.PlaybackStream {
		t.Fatalf("mode = %q, want stream", got.Mode)
	}
	if got.VideoSource != "http://127.0.0.1:8888/video.mp4" {
		t.Fatalf("videoSource = %q", got.VideoSource)
	}
	if got.DurationSeconds != 120 {
		t.Fatalf("duration = %v, want 120", got.DurationSeconds)
	}
	if got.SubtitleSource != "http://127.0.0.1:8888/subtitle" {
		t.Fatalf("subtitleSource = %q", got.SubtitleSource)
	}
	if len(streamer.configured) != 1 || streamer.starts != 1 {
		t.Fatalf("configured %d, started %d", len(streamer.configured), streamer.starts)
	}
	want := domain.StreamSource{Path: "/movies/film.mkv", VideoSupported: false, AudioSupported: true, SubtitlePath: "/movies/film.srt"}
	if streamer.configured[0] != want {
		t.Fatalf("source = %+v, want %+v", streamer.configured[0], want)
	}
}

func TestPlayFileLocatesSubtitleBeforeInspectingMedia(t *testing.T) {
	inspector := &fakeProbe{report: domain.NewMediaCapabilityReport("h264", "aac", 10)}
	uc := newPlayFile(inspector, &fakeStreamer{}, &fakeNotifier{})
	located := false
	uc.LocateSubtitle = func(string) (string, bool) {
		if inspector.calls != 0 {
			t.Errorf("subtitle located after %d media inspections, want before", inspector.calls)
		}
		located = true
		return "", false
	}

	if _, err := uc.Execute(context.Background(), "/movies/a.mp4"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !located || inspector.calls != 1 {
		t.Fatalf("located = %v, inspections = %d", located, inspector.calls)
	}
}

func TestPlayFileMissingSubtitle(t *testing.T) {
	probe := &fakeProbe{report: domain.NewMediaCapabilityReport("mpeg4", "mp3", 30)}
	uc := newPlayFile(probe, &fakeStreamer{}, &fakeNotifier{})

	got, err := uc.Execute(context.Background(), "/movies/old.avi")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.SubtitleSource != "" {
		t.Fatalf("subtitleSource = %q, want empty", got.SubtitleSource)
	}
}

func TestPlayFileProbeFailureHasNoSideEffects(t *testing.T) {
	probe := &fakeProbe{err: fmt.Errorf("%w: /nope.mkv", domain.ErrFileNotFound)}
	streamer := &fakeStreamer{}
	notifier := &fakeNotifier{}
	uc := newPlayFile(probe, streamer, notifier)

	_, err := uc.Execute(context.Background(), "/nope.mkv")
	if !errors.Is(err, domain.ErrFileNotFound) {
		t.Fatalf("err = %v, want ErrFileNotFound", err)
	}
	if streamer.starts != 0 || streamer.stops != 0 || len(streamer.configured) != 0 {
		t.Fatalf("stream server touched: %+v", streamer)
	}
	if _, ok := uc.Current(); ok {
		t.Fatal("no descriptor may be stored after a failure")
	}
	if len(notifier.events) != 1 || notifier.events[0].kind != EventPlaybackError {
		t.Fatalf("events = %+v", notifier.events)
	}
	report, ok := notifier.events[0].payload.(domain.ErrorReport)
	if !ok {
		t.Fatalf("payload = %T", notifier.events[0].payload)
	}
	if report.Kind != domain.KindFileNotFound || report.Recoverable {
		t.Fatalf("report = %+v", report)
	}
}

func TestPlayFileEmptyPath(t *testing.T) {
	probe := &fakeProbe{}
	uc := newPlayFile(probe, &fakeStreamer{}, &fakeNotifier{})
	if _, err := uc.Execute(context.Background(), "  "); !errors.Is(err, domain.ErrFileNotFound) {
		t.Fatalf("err = %v", err)
	}
	if probe.calls != 0 {
		t.Fatal("probe must not run for an empty path")
	}
}

func TestPlayFileServerStartFailure(t *testing.T) {
	tests := []struct {
		name     string
		streamer *fakeStreamer
	}{
		{"start error", &fakeStreamer{startErr: errors.New("address already in use")}},
		{"start timeout", &fakeStreamer{startBlock: true}},
		{"configure error", &fakeStreamer{configureErr: errors.New("stop previous failed")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := &fakeProbe{report: domain.NewMediaCapabilityReport("hevc", "ac3", 90)}
			uc := newPlayFile(probe, tt.streamer, &fakeNotifier{})
			uc.ServerStartTimeout = 20 * time.Millisecond

			_, err := uc.Execute(context.Background(), "/movies/film.mkv")
			if !errors.Is(err, domain.ErrServerStartFailed) {
				t.Fatalf("err = %v, want ErrServerStartFailed", err)
			}
			if !domain.IsRecoverable(err) {
				t.Fatal("server start failures are recoverable")
			}
		})
	}
}

func TestPlayFileStop(t *testing.T) {
	probe := &fakeProbe{report: domain.NewMediaCapabilityReport("hevc", "aac", 10)}
	streamer := &fakeStreamer{}
	notifier := &fakeNotifier{}
	uc := newPlayFile(probe, streamer, notifier)

	if _, err := uc.Execute(context.Background(), "/movies/a.mkv"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := uc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := uc.Current(); ok {
		t.Fatal("Current should be empty after Stop")
	}
	if streamer.stops != 1 {
		t.Fatalf("stops = %d, want 1", streamer.stops)
	}
	last := notifier.events[len(notifier.events)-1]
	if last.kind != EventPlaybackStop {
		t.Fatalf("last event = %q", last.kind)
	}
}

func TestWrapServerStart(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), domain.KindServerStartFailed},
		{"deadline", context.DeadlineExceeded, domain.KindServerStartFailed},
		{"keeps transcode kind", domain.ErrTranscodeProcess, domain.KindTranscodeProcess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := domain.KindOf(wrapServerStart(tt.err)); got != tt.want {
				t.Fatalf("kind = %q, want %q", got, tt.want)
			}
		})
	}
}
