package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/floostack/transcoder/ffmpeg"
	"github.com/medleyhq/medley/internal/fsutil"
)

// CaptureFirstFrame invokes ffmpeg to decode the frame at timestamp zero of
// the given video and write it to outputImagePath, returning that path on
// success. The output directory is created if missing.
//
// A source with no decodable frame at timestamp zero (e.g. a zero-duration
// container) is a failure like any other tooling failure; the underlying
// cause is wrapped in ErrThumbnail. The subprocess shares the probers
// deadline, after which it is killed and ErrTimeout returned.
func (prober *Prober) CaptureFirstFrame(ctx context.Context, videoPath string, outputImagePath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, prober.config.Timeout)
	defer cancel()

	if err := fsutil.EnsureDirectory(filepath.Dir(outputImagePath)); err != nil {
		return "", fmt.Errorf("%w: %s", ErrThumbnail, err.Error())
	}

	seekTime := "0"
	vframes := 1
	overwrite := true
	opts := ffmpeg.Options{
		SeekTime:  &seekTime,
		Vframes:   &vframes,
		Overwrite: &overwrite,
	}

	// Progress must be enabled for the transcoder to run asynchronously
	// and close the progress channel once the process exits.
	transcoder := ffmpeg.
		New(&ffmpeg.Config{
			ProgressEnabled: true,
			FfmpegBinPath:   prober.config.FfmpegBinPath,
			FfprobeBinPath:  prober.config.FfprobeBinPath,
		}).
		Input(videoPath).
		Output(outputImagePath).
		WithContext(&ctx)

	progressChannel, err := transcoder.Start(opts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", prober.contextFailure(ctxErr, videoPath)
		}

		return "", fmt.Errorf("%w: unable to capture first frame of '%s': %s", ErrThumbnail, videoPath, err.Error())
	}

	// The capture is only complete once the progress channel closes.
	for range progressChannel {
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", prober.contextFailure(ctxErr, videoPath)
	}

	// Guard against the tool exiting cleanly without writing a usable
	// image; an empty file must not masquerade as a thumbnail.
	info, err := os.Stat(outputImagePath)
	if err != nil || info.Size() == 0 {
		return "", fmt.Errorf("%w: frame capture of '%s' produced no output at '%s'", ErrThumbnail, videoPath, outputImagePath)
	}

	log.Debugf("Captured first frame of '%s' to '%s'\n", videoPath, outputImagePath)
	return outputImagePath, nil
}

// contextFailure maps an expired capture context to the error the caller
// should see: a blown deadline is ErrTimeout, while a cancellation from the
// caller is propagated as-is so it is never mistaken for a tooling failure.
func (prober *Prober) contextFailure(ctxErr error, videoPath string) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		log.Warnf("Frame capture for '%s' exceeded deadline of %s and was killed\n", videoPath, prober.config.Timeout)
		return fmt.Errorf("%w: frame capture for '%s' exceeded %s", ErrTimeout, videoPath, prober.config.Timeout)
	}

	return fmt.Errorf("frame capture for '%s' was canceled: %w", videoPath, ctxErr)
}
