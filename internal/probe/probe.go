// Package probe wraps the external media tooling (ffprobe/ffmpeg) that the
// ingestion pipeline shells out to. Both tools run as bounded child processes;
// their stdout/stderr/exit status are folded into a single error-or-value
// result for the caller.
package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/medleyhq/medley/pkg/logger"
)

var log = logger.Get("Probe")

var (
	// ErrExtraction indicates the duration probe wrote to its error stream,
	// exited non-zero, or produced output the parser could not understand.
	ErrExtraction = errors.New("duration extraction failed")

	// ErrThumbnail indicates the frame-capture tooling failed to produce
	// a usable image.
	ErrThumbnail = errors.New("thumbnail capture failed")

	// ErrTimeout indicates a child process exceeded its deadline
	// and was killed.
	ErrTimeout = errors.New("media tooling timed out")
)

const (
	defaultTimeout        = time.Second * 30
	defaultFfprobeBinPath = "ffprobe"
	defaultFfmpegBinPath  = "ffmpeg"

	durationMarker = "duration="
)

// Config holds the paths to the external binaries and the shared
// per-invocation deadline.
type Config struct {
	FfmpegBinPath  string        `yaml:"ffmpeg_binary" env:"PROBE_FFMPEG_BINARY_PATH" env-default:"ffmpeg"`
	FfprobeBinPath string        `yaml:"ffprobe_binary" env:"PROBE_FFPROBE_BINARY_PATH" env-default:"ffprobe"`
	Timeout        time.Duration `yaml:"timeout" env:"PROBE_TIMEOUT" env-default:"30s"`
}

type Prober struct {
	config Config
}

func New(config Config) *Prober {
	if config.FfprobeBinPath == "" {
		config.FfprobeBinPath = defaultFfprobeBinPath
	}
	if config.FfmpegBinPath == "" {
		config.FfmpegBinPath = defaultFfmpegBinPath
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	return &Prober{config: config}
}

// Duration spawns ffprobe against the file at the given path and returns the
// container-level duration in whole seconds. Fractional seconds are truncated,
// not rounded.
//
// Any bytes on the probe's error stream fail the call immediately (the tool is
// expected to be silent on success); a non-zero exit without stderr output
// fails with the exit code, and a zero exit without a parsable 'duration='
// line fails as a parse error. Exactly one subprocess is spawned per call and
// no retry is attempted.
func (prober *Prober) Duration(ctx context.Context, path string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, prober.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, prober.config.FfprobeBinPath,
		"-v", "error",
		"-show_format",
		"-show_entries", "format=duration",
		path,
	)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("%w: unable to open stdout pipe: %s", ErrExtraction, err.Error())
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("%w: unable to open stderr pipe: %s", ErrExtraction, err.Error())
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: unable to spawn '%s': %s", ErrExtraction, prober.config.FfprobeBinPath, err.Error())
	}

	stdoutChan := make(chan string, 1)
	go func() {
		output, _ := io.ReadAll(stdoutPipe)
		stdoutChan <- string(output)
	}()

	// ffprobe only writes to stderr on failure, so the first bytes we see
	// there condemn the whole invocation. Kill the process rather than
	// waiting for it to finish up.
	stderrChan := make(chan string, 1)
	go func() {
		buffer := make([]byte, 4096)
		n, _ := stderrPipe.Read(buffer)
		if n == 0 {
			stderrChan <- ""
			return
		}

		var output strings.Builder
		output.Write(buffer[:n])
		_ = cmd.Process.Kill()

		remainder, _ := io.ReadAll(stderrPipe)
		output.Write(remainder)
		stderrChan <- output.String()
	}()

	stdout := <-stdoutChan
	stderr := <-stderrChan
	waitErr := cmd.Wait()

	if stderr != "" {
		return 0, fmt.Errorf("%w: probe reported '%s' for file '%s'", ErrExtraction, strings.TrimSpace(stderr), path)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			log.Warnf("Duration probe for '%s' exceeded deadline of %s and was killed\n", path, prober.config.Timeout)
			return 0, fmt.Errorf("%w: duration probe for '%s' exceeded %s", ErrTimeout, path, prober.config.Timeout)
		}

		// A cancellation from the caller is not a tooling failure;
		// propagate it so batch handling can tell the two apart.
		return 0, fmt.Errorf("duration probe for '%s' was canceled: %w", path, ctxErr)
	}

	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}

		return 0, fmt.Errorf("%w: probe for file '%s' exited with code %d", ErrExtraction, path, exitCode)
	}

	duration, err := parseDuration(stdout)
	if err != nil {
		return 0, fmt.Errorf("%w: %s (file '%s')", ErrExtraction, err.Error(), path)
	}

	log.Debugf("Probed duration of '%s' as %ds\n", path, duration)
	return duration, nil
}

// parseDuration scans the accumulated probe output for the first 'duration='
// line and converts its value to whole seconds. The value's fractional part
// (if any) is discarded before conversion.
func parseDuration(output string) (int, error) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, durationMarker) {
			continue
		}

		value := strings.TrimPrefix(line, durationMarker)
		if idx := strings.IndexByte(value, '.'); idx != -1 {
			value = value[:idx]
		}

		duration, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("unable to parse probed duration '%s' as an integer", value)
		}

		return duration, nil
	}

	return 0, errors.New("probe output contained no duration marker")
}
