package transcode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
)

const encodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 V..... h264_qsv             H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (Intel Quick Sync Video acceleration) (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseEncoders(t *testing.T) {
	got := parseEncoders(encodersOutput)
	for _, name := range []string{"libx264", "h264_nvenc", "h264_qsv"} {
		if !got[name] {
			t.Fatalf("expected %s in %v", name, got)
		}
	}
	for _, name := range []string{"aac", "V.....", "Video", "h264_videotoolbox"} {
		if got[name] {
			t.Fatalf("unexpected %s in %v", name, got)
		}
	}
	if len(parseEncoders("")) != 0 {
		t.Fatal("empty output should yield no encoders")
	}
}

func TestHWDetectorEncoder(t *testing.T) {
	listErr := errors.New("exec: not found")
	tests := []struct {
		name      string
		enabled   bool
		output    string
		listErr   error
		broken    map[string]bool
		want      string
		wantLists int32
	}{
		{name: "first available wins", enabled: true, output: encodersOutput, want: "h264_nvenc", wantLists: 1},
		{name: "unusable encoder skipped", enabled: true, output: encodersOutput, broken: map[string]bool{"h264_nvenc": true}, want: "h264_qsv", wantLists: 1},
		{name: "all unusable", enabled: true, output: encodersOutput, broken: map[string]bool{"h264_nvenc": true, "h264_qsv": true}, want: "", wantLists: 1},
		{name: "list failure degrades", enabled: true, listErr: listErr, want: "", wantLists: 1},
		{name: "disabled", enabled: false, output: encodersOutput, want: "", wantLists: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var lists atomic.Int32
			d := newHWDetector("ffmpeg", tt.enabled, discardLogger())
			d.list = func(ctx context.Context, binary string) (string, error) {
				lists.Add(1)
				return tt.output, tt.listErr
			}
			d.verify = func(ctx context.Context, binary string, enc Encoder) error {
				if tt.broken[enc.Name] {
					return errors.New("no device")
				}
				return nil
			}

			enc := d.Encoder(context.Background())
			got := ""
			if enc != nil {
				got = enc.Name
				if !enc.Hardware {
					t.Fatalf("detected encoder %s not marked as hardware", got)
				}
			}
			if got != tt.want {
				t.Fatalf("encoder = %q, want %q", got, tt.want)
			}
			if lists.Load() != tt.wantLists {
				t.Fatalf("list calls = %d, want %d", lists.Load(), tt.wantLists)
			}
		})
	}
}

func TestHWDetectorRunsOnce(t *testing.T) {
	var lists atomic.Int32
	d := newHWDetector("ffmpeg", true, discardLogger())
	d.list = func(ctx context.Context, binary string) (string, error) {
		lists.Add(1)
		return encodersOutput, nil
	}
	d.verify = func(ctx context.Context, binary string, enc Encoder) error { return nil }

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Encoder(context.Background())
		}()
	}
	wg.Wait()
	if lists.Load() != 1 {
		t.Fatalf("encoder list ran %d times, want 1", lists.Load())
	}
}

func TestSoftwareEncoderDefaults(t *testing.T) {
	enc := softwareEncoder("", 0)
	if enc.Name != "libx264" || enc.Hardware {
		t.Fatalf("encoder = %+v", enc)
	}
	if !containsSeq(enc.Flags, "-preset", "veryfast", "-crf", "23") {
		t.Fatalf("flags = %v", enc.Flags)
	}
}
