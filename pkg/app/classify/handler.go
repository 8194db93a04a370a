package classify

import (
	"fmt"
	"time"

	"github.com/deploymenttheory/go-blockinject/internal/interfaces"
	"github.com/deploymenttheory/go-blockinject/internal/locators/f2fs"
	"github.com/deploymenttheory/go-blockinject/internal/services"
	"github.com/deploymenttheory/go-blockinject/pkg/app"
)

// deviceMapper is implemented by locators of multi-device filesystems.
type deviceMapper interface {
	TargetDevice(block uint64) (f2fs.DeviceTarget, bool)
}

// Handle processes a classification request
func Handle(ctx *app.Context, req *Request) (*Response, error) {
	startTime := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx.Log(fmt.Sprintf("Classifying %d block(s) of %s as %s", len(req.Blocks), req.ImagePath, req.FS))

	s, err := services.Open(services.Args{
		Device:      req.ImagePath,
		StartSector: req.StartSector,
		FS:          req.FS,
	}, services.Options{ReadOnly: true, Logger: ctx.Logger})
	if err != nil {
		return nil, app.NewError(app.ErrCodeDeviceAccess, "failed to open session", err)
	}
	defer s.Close()

	return classify(ctx, s.Locator(), req, startTime)
}

func classify(ctx *app.Context, loc interfaces.Locator, req *Request, startTime time.Time) (*Response, error) {
	if req.Mounted {
		ctx.Progress("Loading mounted-state context...", 10)
		if err := loc.Upgrade(ctx); err != nil {
			return nil, app.NewError(app.ErrCodeSession, "failed to load mounted-state context", err)
		}
	}

	resp := &Response{
		Image:  req.ImagePath,
		FS:     string(loc.FS()),
		Full:   loc.Full(),
		Blocks: make([]BlockResult, 0, len(req.Blocks)),
	}
	mapper, _ := loc.(deviceMapper)

	for i, b := range req.Blocks {
		if err := ctx.Err(); err != nil {
			return nil, app.NewError(app.ErrCodeTimeout, "classification interrupted", err)
		}
		c := loc.Classify(b)
		res := BlockResult{Block: b, Area: c.Area, Detail: c.Detail}
		for _, k := range c.Keys {
			res.Keys = append(res.Keys, k.String())
		}
		if mapper != nil {
			if t, ok := mapper.TargetDevice(b); ok && t.Path != "" {
				res.Device = fmt.Sprintf("%d:%s+%d", t.Index, t.Path, t.Block)
			}
		}
		resp.Blocks = append(resp.Blocks, res)
		ctx.Progress("Classifying blocks...", 10+90*(i+1)/len(req.Blocks))
	}

	resp.Elapsed = time.Since(startTime)
	ctx.Log(fmt.Sprintf("Classification completed in %v", resp.Elapsed))
	return resp, nil
}
