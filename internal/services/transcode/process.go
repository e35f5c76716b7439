package transcode

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"floatplay/internal/domain"
)

const (
	stopGracePeriod = 3 * time.Second
	stderrTailBytes = 8 << 10
)

// Process wraps one ffmpeg child. Stop sends SIGTERM and escalates to
// SIGKILL after stopGracePeriod.
type Process struct {
	session    domain.TranscodeSession
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	stdout     *os.File // fmp4 only, owned by the reader
	progressUs atomic.Int64
	stopping   atomic.Bool
	done       chan struct{}
	err        error
	stderr     tailBuffer
	startedAt  time.Time
	endedAt    time.Time
}

type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

func newProcess(ctx context.Context, command commandFunc, binary string, cfg ArgConfig, session domain.TranscodeSession) *Process {
	ctx, cancel := context.WithCancel(ctx)
	p := &Process{
		session: session,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	p.cmd = command(ctx, binary, BuildArgs(cfg)...)
	p.cmd.Dir = session.OutputDir
	p.cmd.Cancel = func() error {
		return p.cmd.Process.Signal(syscall.SIGTERM)
	}
	p.cmd.WaitDelay = stopGracePeriod
	return p
}

// progressSupported reports whether ffmpeg can be handed an extra pipe for
// -progress output.
func progressSupported() bool {
	return runtime.GOOS != "windows"
}

func (p *Process) start(withProgress bool) error {
	var stdoutW, progressR, progressW *os.File
	var err error

	if p.session.Container == domain.ContainerFMP4 {
		var stdoutR *os.File
		stdoutR, stdoutW, err = os.Pipe()
		if err != nil {
			return err
		}
		p.stdout = stdoutR
		p.cmd.Stdout = stdoutW
	}
	if withProgress {
		if progressR, progressW, err = os.Pipe(); err == nil {
			p.cmd.ExtraFiles = []*os.File{progressW}
		} else {
			progressR, progressW = nil, nil
		}
	}
	p.cmd.Stderr = &p.stderr

	if err := p.cmd.Start(); err != nil {
		closeFiles(p.stdout, stdoutW, progressR, progressW)
		p.stdout = nil
		p.cancel()
		return err
	}
	p.startedAt = time.Now()
	closeFiles(stdoutW, progressW)
	if progressR != nil {
		go p.parseProgress(progressR)
	}

	go func() {
		p.err = p.cmd.Wait()
		p.endedAt = time.Now()
		p.cancel()
		close(p.done)
	}()
	return nil
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}

// Stop asks ffmpeg to exit. It does not wait; use Done or Wait.
func (p *Process) Stop() {
	p.stopping.Store(true)
	p.cancel()
}

func (p *Process) Wait() error {
	<-p.done
	return p.err
}

func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) IsDone() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err is the exit error; only meaningful once Done is closed.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Intentional reports whether the exit was requested through Stop or by
// cancelling the context the process was started with.
func (p *Process) Intentional() bool {
	return p.stopping.Load()
}

// Stdout is the fragmented MP4 byte stream. The caller must close it.
func (p *Process) Stdout() io.ReadCloser {
	if p.stdout == nil {
		return nil
	}
	return p.stdout
}

func (p *Process) Session() domain.TranscodeSession {
	return p.session
}

func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

// EndedAt is the exit time; zero until Done is closed.
func (p *Process) EndedAt() time.Time {
	select {
	case <-p.done:
		return p.endedAt
	default:
		return time.Time{}
	}
}

// Progress returns how many seconds of output ffmpeg has produced.
func (p *Process) Progress() float64 {
	us := p.progressUs.Load()
	if us <= 0 {
		return 0
	}
	return float64(us) / 1e6
}

func (p *Process) Stderr() string {
	return strings.TrimSpace(p.stderr.String())
}

func (p *Process) parseProgress(r *os.File) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "out_time_us=") {
			if us, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_us="), 10, 64); err == nil {
				p.progressUs.Store(us)
			}
		}
	}
}

// tailBuffer keeps the last stderrTailBytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *tailBuffer) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, data...)
	if over := len(b.buf) - stderrTailBytes; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(data), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
