package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/deploymenttheory/go-blockinject/internal/device"
	"github.com/deploymenttheory/go-blockinject/internal/interfaces"
	"github.com/deploymenttheory/go-blockinject/internal/services"
	"github.com/deploymenttheory/go-blockinject/internal/types"
	"github.com/deploymenttheory/go-blockinject/pkg/app"
)

// Handle replays the requested accesses through an injection session over a
// private copy of the image and writes the resulting image atomically.
func Handle(ctx *app.Context, req *Request) (*Response, error) {
	startTime := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx.Log(fmt.Sprintf("Replaying %d %s access(es) on %s", len(req.Blocks), opName(req.Op), req.ImagePath))

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = ctx.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = ctx.WithTimeout(timeout)
		defer cancel()
	}

	prefix := int64(req.StartSector) * types.SectorSize
	src, err := device.Open(req.ImagePath, device.Options{ReadOnly: true, Offset: prefix, Lock: req.Lock})
	if err != nil {
		return nil, app.NewError(app.ErrCodeDeviceAccess, "failed to open image", err)
	}
	defer src.Close()

	ctx.Progress("Copying image...", 5)
	mem := device.NewMemDevice(req.ImagePath, src.Size())
	if _, err := io.Copy(io.NewOffsetWriter(mem, 0), io.NewSectionReader(src, 0, src.Size())); err != nil {
		return nil, app.NewError(app.ErrCodeDeviceAccess, "failed to copy image", err)
	}

	s, err := services.Open(services.Args{
		Device:      req.ImagePath,
		StartSector: req.StartSector,
		FS:          req.FS,
		Specs:       req.Specs,
	}, services.Options{
		Open: func(string, int64) (interfaces.BlockDevice, error) {
			return mem, nil
		},
		Probe:   interfaces.MountProbeFunc(func() bool { return req.Mounted }),
		Enabled: req.Enabled,
		Logger:  ctx.Logger,
	})
	if err != nil {
		return nil, app.NewError(app.ErrCodeSession, "failed to create session", err)
	}
	defer s.Close()

	for _, msg := range req.Messages {
		if err := s.Message(msg); err != nil {
			return nil, app.NewError(app.ErrCodeInvalidInput, "invalid message", err)
		}
	}

	results, err := run(ctx, s, mem, req)
	if err != nil {
		return nil, err
	}

	ctx.Progress("Writing output image...", 95)
	if err := writeImage(req.OutPath, req.ImagePath, prefix, mem); err != nil {
		return nil, app.NewError(app.ErrCodeOutput, "failed to write output image", err)
	}

	resp := &Response{
		Image:   req.ImagePath,
		Out:     req.OutPath,
		FS:      string(req.FS),
		Results: results,
		Elapsed: time.Since(startTime),
	}
	for _, r := range results {
		resp.Summary.Accesses++
		switch r.Outcome {
		case OutcomeCorrupted:
			resp.Summary.Corrupted++
		case OutcomeFailed:
			resp.Summary.Failed++
		}
	}
	ctx.Progress("Complete", 100)
	ctx.Log(fmt.Sprintf("Replay completed: %d corrupted, %d failed in %v", resp.Summary.Corrupted, resp.Summary.Failed, resp.Elapsed))
	return resp, nil
}

// run performs every access on its own goroutine, at most req.Workers at once.
func run(ctx *app.Context, s *services.Session, mem *device.MemDevice, req *Request) ([]AccessResult, error) {
	results := make([]AccessResult, len(req.Blocks))
	target := s.Target()
	bs := int64(s.Locator().BlockSize())

	progress := &app.ProgressUpdate{Message: "Replaying accesses...", Total: int64(len(req.Blocks)), StartedAt: time.Now()}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(req.Workers)
	for i, b := range req.Blocks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := access(target, mem, b, bs, req.Op)
			if err != nil {
				return err
			}
			res.Area = s.Locator().Classify(b).Area
			results[i] = res

			mu.Lock()
			progress.Completed++
			progress.ElapsedTime = time.Since(progress.StartedAt)
			ctx.Progress(progress.Message, 10+progress.Percent()*85/100)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, app.NewError(app.ErrCodeTimeout, "replay interrupted", err)
		}
		return nil, app.NewError(app.ErrCodeSession, "replay failed", err)
	}
	return results, nil
}

// access replays one block access. Writes store the block's current content
// back through the session.
func access(target *services.Target, mem *device.MemDevice, b uint64, bs int64, op types.Op) (AccessResult, error) {
	res := AccessResult{Block: b, Op: opName(op), Outcome: OutcomePass}
	off := int64(b) * bs

	before := make([]byte, bs)
	if _, err := mem.ReadAt(before, off); err != nil {
		return res, fmt.Errorf("block %d: %w", b, err)
	}

	var (
		after []byte
		err   error
	)
	switch op {
	case types.OpRead:
		after = make([]byte, bs)
		_, err = target.ReadAt(after, off)
	default:
		_, err = target.WriteAt(before, off)
		if err == nil {
			after = make([]byte, bs)
			if _, rerr := mem.ReadAt(after, off); rerr != nil {
				return res, fmt.Errorf("block %d: %w", b, rerr)
			}
		}
	}

	switch {
	case errors.Is(err, types.ErrInjectedIO):
		res.Outcome = OutcomeFailed
		return res, nil
	case err != nil:
		return res, fmt.Errorf("block %d: %w", b, err)
	}

	res.Changed = changedBytes(before, after)
	if res.Changed > 0 {
		res.Outcome = OutcomeCorrupted
	}
	return res, nil
}

func changedBytes(a, b []byte) int {
	if bytes.Equal(a, b) {
		return 0
	}
	n := 0
	for i := range a {
		if a[i] != b[i] {
			n++
		}
	}
	return n
}

// writeImage writes the source prefix followed by the replayed volume.
func writeImage(out, source string, prefix int64, mem *device.MemDevice) error {
	body := io.NewSectionReader(mem, 0, mem.Size())
	if prefix == 0 {
		return atomic.WriteFile(out, body)
	}
	f, err := os.Open(source)
	if err != nil {
		return err
	}
	defer f.Close()
	return atomic.WriteFile(out, io.MultiReader(io.NewSectionReader(f, 0, prefix), body))
}

func opName(op types.Op) string {
	if op == types.OpWrite {
		return "write"
	}
	return "read"
}
