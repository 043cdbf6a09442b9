package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// screencast captures CDP screencast frames into a working directory. On
// stop the frames move to the caller's save path under a name derived from
// the task type and timestamp. cancel tears down the frame listener; after
// PageStopScreencast no further events arrive to unblock it.
type screencast struct {
	savePath string
	workDir  string
	frames   atomic.Int64
	stopped  atomic.Bool
	cancel   context.CancelFunc
}

// StartScreencast begins recording page frames. Returns false when
// recording could not start; the task proceeds without it.
func (b *Browser) StartScreencast(savePath string) bool {
	if b.page == nil {
		return false
	}
	if err := os.MkdirAll(savePath, 0o755); err != nil {
		b.log.Warn().Err(err).Msg("failed to create screencast dir")
		return false
	}
	workDir, err := os.MkdirTemp(savePath, ".recording-*")
	if err != nil {
		b.log.Warn().Err(err).Msg("failed to create screencast work dir")
		return false
	}

	sc := &screencast{savePath: savePath, workDir: workDir}

	quality := 60
	everyNth := 1
	err = proto.PageStartScreencast{
		Format:        proto.PageStartScreencastFormatJpeg,
		Quality:       &quality,
		EveryNthFrame: &everyNth,
	}.Call(b.page)
	if err != nil {
		b.log.Warn().Err(err).Msg("failed to start screencast")
		os.RemoveAll(workDir)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	sc.cancel = cancel

	page := b.page.Context(ctx)
	go page.EachEvent(func(e *proto.PageScreencastFrame) bool {
		_ = proto.PageScreencastFrameAck{SessionID: e.SessionID}.Call(page)
		if sc.stopped.Load() {
			return true
		}
		n := sc.frames.Add(1)
		name := filepath.Join(sc.workDir, fmt.Sprintf("frame_%06d.jpg", n))
		if err := os.WriteFile(name, e.Data, 0o644); err != nil {
			b.log.Debug().Err(err).Msg("failed to write screencast frame")
		}
		return false
	})()

	b.screencast = sc
	b.log.Info().Str("path", savePath).Msg("Screencast started")
	return true
}

// StopScreencast ends recording and returns the path the frames were saved
// under, or empty when nothing was recorded. The directory is named
// <taskType>_<timestamp><suffix>.
func (b *Browser) StopScreencast(taskType, suffix string) string {
	sc := b.screencast
	if sc == nil {
		return ""
	}
	b.screencast = nil
	sc.stopped.Store(true)

	if b.page != nil {
		if err := (proto.PageStopScreencast{}).Call(b.page); err != nil {
			b.log.Debug().Err(err).Msg("failed to stop screencast")
		}
	}
	if sc.cancel != nil {
		sc.cancel()
	}

	if sc.frames.Load() == 0 {
		os.RemoveAll(sc.workDir)
		return ""
	}

	timestamp := time.Now().Format("20060102_150405")
	dest := filepath.Join(sc.savePath, fmt.Sprintf("%s_%s%s", taskType, timestamp, suffix))
	if err := os.Rename(sc.workDir, dest); err != nil {
		b.log.Warn().Err(err).Msg("failed to move screencast frames")
		return ""
	}
	b.log.Info().Str("path", dest).Msg("Screencast saved")
	return dest
}
