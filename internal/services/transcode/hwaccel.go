package transcode

import (
	"bufio"
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Encoder is the video encoder choice used when the source video has to be
// re-encoded. Flags follow "-c:v <Name>".
type Encoder struct {
	Name     string
	Flags    []string
	Hardware bool
}

// hardwareEncoders are tried in order. VAAPI is left out because it needs a
// render device and an hwupload filter chain.
var hardwareEncoders = []Encoder{
	{Name: "h264_videotoolbox", Flags: []string{"-b:v", "6M", "-realtime", "1"}, Hardware: true},
	{Name: "h264_nvenc", Flags: []string{"-preset", "p4", "-tune", "ll"}, Hardware: true},
	{Name: "h264_qsv", Flags: []string{"-preset", "veryfast"}, Hardware: true},
}

func softwareEncoder(preset string, crf int) Encoder {
	if preset == "" {
		preset = "veryfast"
	}
	if crf <= 0 {
		crf = 23
	}
	return Encoder{
		Name:  "libx264",
		Flags: []string{"-preset", preset, "-crf", strconv.Itoa(crf)},
	}
}

type encoderLister func(ctx context.Context, binary string) (string, error)

// verifyFunc runs a tiny encode to make sure a listed encoder actually has
// hardware behind it; ffmpeg builds list nvenc/qsv regardless.
type verifyFunc func(ctx context.Context, binary string, enc Encoder) error

// hwDetector resolves the hardware encoder once per process lifetime.
type hwDetector struct {
	binary  string
	enabled bool
	logger  *slog.Logger
	list    encoderLister
	verify  verifyFunc

	once    sync.Once
	encoder *Encoder
}

func newHWDetector(binary string, enabled bool, logger *slog.Logger) *hwDetector {
	return &hwDetector{
		binary:  binary,
		enabled: enabled,
		logger:  logger,
		list:    listEncoders,
		verify:  verifyEncoder,
	}
}

// Encoder returns the detected hardware encoder, or nil when none is usable.
// Detection failures are logged and treated as "no hardware".
func (d *hwDetector) Encoder(ctx context.Context) *Encoder {
	d.once.Do(func() {
		if !d.enabled {
			d.logger.Info("hardware acceleration disabled by config")
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()

		output, err := d.list(ctx, d.binary)
		if err != nil {
			d.logger.Warn("could not list ffmpeg encoders, using software encoding",
				slog.String("error", err.Error()),
			)
			return
		}
		available := parseEncoders(output)
		for _, candidate := range hardwareEncoders {
			if !available[candidate.Name] {
				continue
			}
			if err := d.verify(ctx, d.binary, candidate); err != nil {
				d.logger.Debug("hardware encoder listed but unusable",
					slog.String("encoder", candidate.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			enc := candidate
			d.encoder = &enc
			break
		}
		name := "none"
		if d.encoder != nil {
			name = d.encoder.Name
		}
		d.logger.Info("hardware acceleration detected", slog.String("encoder", name))
	})
	return d.encoder
}

// parseEncoders reads "ffmpeg -encoders" output. Encoder rows look like
// " V....D h264_nvenc   NVIDIA NVENC H.264 encoder"; only video rows count.
func parseEncoders(output string) map[string]bool {
	result := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(output))
	pastHeader := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "------") {
			pastHeader = true
			continue
		}
		if !pastHeader {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "V") {
			continue
		}
		result[fields[1]] = true
	}
	return result
}

func listEncoders(ctx context.Context, binary string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, "-hide_banner", "-encoders")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(output), nil
}

func verifyEncoder(ctx context.Context, binary string, enc Encoder) error {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "lavfi", "-i", "color=black:s=256x256:d=0.1",
		"-frames:v", "1",
		"-c:v", enc.Name,
	}
	args = append(args, enc.Flags...)
	args = append(args, "-f", "null", "-")
	return exec.CommandContext(ctx, binary, args...).Run()
}
