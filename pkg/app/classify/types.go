package classify

import (
	"time"

	"github.com/deploymenttheory/go-blockinject/internal/types"
	"github.com/deploymenttheory/go-blockinject/pkg/app"
)

// Request represents a block classification request
type Request struct {
	ImagePath   string
	FS          types.FSKind
	StartSector uint64
	Blocks      app.BlockList

	// Mounted loads mounted-state context before classifying
	Mounted bool
}

// Response represents classification results
type Response struct {
	Image   string        `json:"image" yaml:"image"`
	FS      string        `json:"fs" yaml:"fs"`
	Full    bool          `json:"full" yaml:"full"`
	Blocks  []BlockResult `json:"blocks" yaml:"blocks"`
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`
}

// BlockResult describes one classified block
type BlockResult struct {
	Block  uint64   `json:"block" yaml:"block"`
	Area   string   `json:"area" yaml:"area"`
	Detail string   `json:"detail,omitempty" yaml:"detail,omitempty"`
	Keys   []string `json:"keys" yaml:"keys"`
	Device string   `json:"device,omitempty" yaml:"device,omitempty"`
}

// Validate validates a classification request
func (r *Request) Validate() error {
	if r.ImagePath == "" {
		return app.NewError(app.ErrCodeInvalidInput, "image path is required", nil)
	}
	if len(r.Blocks) == 0 {
		return app.NewError(app.ErrCodeInvalidInput, "at least one block is required", nil)
	}
	if r.FS == "" {
		r.FS = types.DefaultFSKind
	}
	return nil
}
