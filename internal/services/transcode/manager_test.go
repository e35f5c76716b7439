package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"floatplay/internal/domain"
)

// helperCommand runs this test binary as a stand-in for ffmpeg. mode picks
// what the fake does; see TestHelperProcess.
func helperCommand(mode string) commandFunc {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode)
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	hls := len(args) > 0 && args[len(args)-1] == PlaylistName

	if progressSupported() {
		for _, a := range args {
			if a == "pipe:3" {
				progress := os.NewFile(3, "progress")
				fmt.Fprint(progress, "frame=10\nout_time_us=1500000\nprogress=continue\n")
				_ = progress.Close()
			}
		}
	}

	var terminated chan os.Signal
	switch os.Getenv("HELPER_MODE") {
	case "slowstop":
		// Lingers after SIGTERM the way ffmpeg does while flushing output.
		terminated = make(chan os.Signal, 1)
		signal.Notify(terminated, syscall.SIGTERM)
	case "fail":
		fmt.Fprint(os.Stderr, "Conversion failed!")
		os.Exit(1)
	case "finish":
		fmt.Fprint(os.Stdout, "ftyp")
		return
	}

	if hls {
		_ = os.WriteFile(PlaylistName, []byte("#EXTM3U\n"), 0o644)
		_ = os.WriteFile("seg-00000.ts", []byte("segment"), 0o644)
	} else {
		fmt.Fprint(os.Stdout, "ftypmoov")
	}
	if terminated != nil {
		select {
		case <-terminated:
			time.Sleep(time.Second)
		case <-time.After(time.Minute):
		}
		return
	}
	time.Sleep(time.Minute)
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("helper process relies on SIGTERM")
	}
}

func newTestManager(t *testing.T, mode string) *Manager {
	t.Helper()
	m := NewManager(Config{FFmpegPath: "ffmpeg", BaseDir: t.TempDir()}, discardLogger())
	m.command = helperCommand(mode)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func waitDone(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestManagerStartStreamsFMP4(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t, "run")

	proc, err := m.Start(context.Background(), domain.TranscodeSession{
		SourcePath:     "/media/movie.mkv",
		VideoSupported: true,
		AudioSupported: true,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if proc.Session().ID == "" {
		t.Fatal("session id not assigned")
	}
	if proc.Session().Container != domain.ContainerFMP4 {
		t.Fatalf("container = %q, want fmp4", proc.Session().Container)
	}

	buf := make([]byte, len("ftypmoov"))
	if _, err := io.ReadFull(proc.Stdout(), buf); err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if string(buf) != "ftypmoov" {
		t.Fatalf("stdout = %q", buf)
	}
	if m.Current() != proc {
		t.Fatal("process should be current while running")
	}

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	_ = proc.Stdout().Close()
	if !proc.IsDone() {
		t.Fatal("Stop must wait for the process to exit")
	}
	if !proc.Intentional() {
		t.Fatal("stop-initiated exit should be intentional")
	}
	if m.Current() != nil {
		t.Fatal("manager should be idle after Stop")
	}
}

func TestManagerSingleActiveProcess(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t, "run")

	first, err := m.Start(context.Background(), domain.TranscodeSession{SourcePath: "/media/a.mkv", Container: domain.ContainerHLS})
	if err != nil {
		t.Fatalf("Start first: %v", err)
	}

	spawns := 0
	base := m.command
	m.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		spawns++
		if !first.IsDone() {
			t.Errorf("second process spawned while the first is alive")
		}
		return base(ctx, name, args...)
	}

	second, err := m.Start(context.Background(), domain.TranscodeSession{SourcePath: "/media/a.mkv", StartSeconds: 30, Container: domain.ContainerHLS})
	if err != nil {
		t.Fatalf("Start second: %v", err)
	}
	if spawns != 1 {
		t.Fatalf("spawns = %d, want 1", spawns)
	}
	if first.Session().ID == second.Session().ID {
		t.Fatal("sessions must get distinct ids")
	}
	if _, err := os.Stat(first.Session().OutputDir); !os.IsNotExist(err) {
		t.Fatalf("first segment dir should be removed, stat err = %v", err)
	}
	if m.Current() != second {
		t.Fatal("second process should be current")
	}
}

func waitForPlaylist(t *testing.T, p *Process) {
	t.Helper()
	playlist := filepath.Join(p.Session().OutputDir, PlaylistName)
	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, err := os.Stat(playlist); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("playlist never appeared")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestManagerStartWaitsForDrainingProcess(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t, "slowstop")

	first, err := m.Start(context.Background(), domain.TranscodeSession{SourcePath: "/media/a.mkv", Container: domain.ContainerHLS})
	if err != nil {
		t.Fatalf("Start first: %v", err)
	}
	waitForPlaylist(t, first)

	spawns := 0
	base := m.command
	m.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		spawns++
		if !first.IsDone() {
			t.Errorf("second process spawned while the first is still exiting")
		}
		return base(ctx, name, args...)
	}

	m.StopProcess(first)
	if first.IsDone() {
		t.Fatal("first process should still be exiting")
	}
	if m.Current() != nil {
		t.Fatal("a stopped process must not be reported as current")
	}

	second, err := m.Start(context.Background(), domain.TranscodeSession{SourcePath: "/media/a.mkv", StartSeconds: 30, Container: domain.ContainerHLS})
	if err != nil {
		t.Fatalf("Start second: %v", err)
	}
	if spawns != 1 {
		t.Fatalf("spawns = %d, want 1", spawns)
	}
	if !first.IsDone() || second.IsDone() {
		t.Fatalf("first done = %v, second done = %v", first.IsDone(), second.IsDone())
	}
	if lifetime := first.EndedAt().Sub(first.StartedAt()); lifetime < time.Second {
		t.Fatalf("first lifetime = %v, want at least the SIGTERM linger", lifetime)
	}
}

func TestManagerStartTimesOutOnDrainingProcess(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t, "slowstop")

	first, err := m.Start(context.Background(), domain.TranscodeSession{SourcePath: "/media/a.mkv", Container: domain.ContainerHLS})
	if err != nil {
		t.Fatalf("Start first: %v", err)
	}
	waitForPlaylist(t, first)
	m.StopProcess(first)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := m.Start(ctx, domain.TranscodeSession{SourcePath: "/media/a.mkv", Container: domain.ContainerHLS}); !errors.Is(err, domain.ErrTranscodeProcess) {
		t.Fatalf("err = %v, want ErrTranscodeProcess", err)
	}
	if m.Latest() != nil {
		t.Fatal("nothing may be spawned while the previous process is alive")
	}
	waitDone(t, first)
}

func TestManagerEncoderDetectionDoesNotBlockStops(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t, "run")

	first, err := m.Start(context.Background(), domain.TranscodeSession{SourcePath: "/media/a.mkv", VideoSupported: true, Container: domain.ContainerHLS})
	if err != nil {
		t.Fatalf("Start first: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	m.hw = newHWDetector("ffmpeg", true, discardLogger())
	m.hw.list = func(ctx context.Context, binary string) (string, error) {
		close(entered)
		<-release
		return "", errors.New("no encoders")
	}

	type result struct {
		proc *Process
		err  error
	}
	started := make(chan result, 1)
	go func() {
		proc, err := m.Start(context.Background(), domain.TranscodeSession{SourcePath: "/media/a.mkv", StartSeconds: 10, Container: domain.ContainerHLS})
		started <- result{proc, err}
	}()
	<-entered

	stopped := make(chan struct{})
	go func() {
		m.StopProcess(first)
		_ = m.Latest()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("StopProcess blocked behind encoder detection")
	}
	close(release)

	res := <-started
	if res.err != nil {
		t.Fatalf("Start second: %v", res.err)
	}
	if !first.IsDone() {
		t.Fatal("first process must have exited before the second spawned")
	}
	if m.Current() != res.proc {
		t.Fatal("second process should be current")
	}
}

func TestManagerHLSWritesIntoSessionDir(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t, "run")

	proc, err := m.Start(context.Background(), domain.TranscodeSession{SourcePath: "/media/a.avi", Container: domain.ContainerHLS})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	dir := proc.Session().OutputDir
	if !strings.HasPrefix(dir, m.cfg.BaseDir) || !strings.Contains(dir, proc.Session().ID) {
		t.Fatalf("output dir = %q", dir)
	}
	if proc.Stdout() != nil {
		t.Fatal("hls sessions have no stdout stream")
	}

	playlist := filepath.Join(dir, PlaylistName)
	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, err := os.Stat(playlist); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("playlist never appeared")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("segment dir should be removed on stop, stat err = %v", err)
	}
}

func TestManagerStopProcessIgnoresStale(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t, "run")

	first, err := m.Start(context.Background(), domain.TranscodeSession{SourcePath: "/media/a.mkv"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = first.Stdout().Close()
	second, err := m.Start(context.Background(), domain.TranscodeSession{SourcePath: "/media/a.mkv", StartSeconds: 5})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	m.StopProcess(first)
	if second.IsDone() || second.Intentional() {
		t.Fatal("stale StopProcess must not stop the newer session")
	}

	m.StopProcess(second)
	waitDone(t, second)
	_ = second.Stdout().Close()
	if !second.Intentional() {
		t.Fatal("StopProcess exit should be intentional")
	}
	if m.Current() != nil {
		t.Fatal("manager should be idle")
	}
}

func TestManagerNaturalExit(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t, "finish")

	proc, err := m.Start(context.Background(), domain.TranscodeSession{SourcePath: "/media/a.mkv"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, _ = io.Copy(io.Discard, proc.Stdout())
	_ = proc.Stdout().Close()
	waitDone(t, proc)

	if proc.Err() != nil {
		t.Fatalf("Err = %v, want clean exit", proc.Err())
	}
	if proc.Intentional() {
		t.Fatal("natural exit is not intentional")
	}
	if m.Current() != nil {
		t.Fatal("finished process must not be reported as running")
	}
	if m.Latest() != proc {
		t.Fatal("finished process should remain the latest until replaced")
	}
}

func TestManagerAbnormalExitKeepsServing(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t, "fail")

	proc, err := m.Start(context.Background(), domain.TranscodeSession{SourcePath: "/media/a.mkv"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = proc.Stdout().Close()
	waitDone(t, proc)
	if proc.Err() == nil {
		t.Fatal("expected a non-zero exit")
	}
	if !strings.Contains(proc.Stderr(), "Conversion failed!") {
		t.Fatalf("stderr = %q", proc.Stderr())
	}

	m.command = helperCommand("run")
	next, err := m.Start(context.Background(), domain.TranscodeSession{SourcePath: "/media/a.mkv"})
	if err != nil {
		t.Fatalf("Start after failure: %v", err)
	}
	_ = next.Stdout().Close()
}

func TestManagerProgress(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t, "run")

	proc, err := m.Start(context.Background(), domain.TranscodeSession{SourcePath: "/media/a.mkv", Container: domain.ContainerHLS})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(10 * time.Second)
	for proc.Progress() != 1.5 {
		if time.Now().After(deadline) {
			t.Fatalf("progress = %v, want 1.5", proc.Progress())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestManagerSpawnFailure(t *testing.T) {
	m := NewManager(Config{FFmpegPath: "/definitely/not/ffmpeg", BaseDir: t.TempDir()}, discardLogger())
	defer m.Close(context.Background())

	_, err := m.Start(context.Background(), domain.TranscodeSession{SourcePath: "/media/a.mkv", Container: domain.ContainerHLS})
	if !errors.Is(err, domain.ErrServerStartFailed) {
		t.Fatalf("err = %v, want ErrServerStartFailed", err)
	}
	entries, _ := os.ReadDir(m.cfg.BaseDir)
	if len(entries) != 0 {
		t.Fatalf("segment dir left behind: %v", entries)
	}
	if m.Current() != nil {
		t.Fatal("manager should stay idle")
	}
}

func TestManagerClosedRefusesStart(t *testing.T) {
	m := NewManager(Config{BaseDir: t.TempDir()}, discardLogger())
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := m.Start(context.Background(), domain.TranscodeSession{SourcePath: "/media/a.mkv"})
	if !errors.Is(err, ErrManagerClosed) || !errors.Is(err, domain.ErrServerStartFailed) {
		t.Fatalf("err = %v", err)
	}
}
