package replay

import (
	"time"

	"github.com/deploymenttheory/go-blockinject/internal/types"
	"github.com/deploymenttheory/go-blockinject/pkg/app"
)

// Outcomes of one replayed access.
const (
	OutcomePass      = "pass"
	OutcomeCorrupted = "corrupted"
	OutcomeFailed    = "failed"
)

// Request represents a replay of block accesses through an injection session
type Request struct {
	ImagePath   string
	OutPath     string
	FS          types.FSKind
	StartSector uint64
	Specs       []string

	// Op is the direction every listed block is accessed in
	Op     types.Op
	Blocks app.BlockList

	// Messages are sent to the session before the replay starts
	Messages []string

	// Enabled starts the session with injection on
	Enabled bool

	// Mounted lets the session load mounted-state context
	Mounted bool

	// Lock takes an exclusive lock on the source image
	Lock bool

	Workers int

	// Timeout bounds the replay; zero uses the context default
	Timeout time.Duration
}

// Response represents replay results
type Response struct {
	Image   string         `json:"image" yaml:"image"`
	Out     string         `json:"out" yaml:"out"`
	FS      string         `json:"fs" yaml:"fs"`
	Results []AccessResult `json:"results" yaml:"results"`
	Summary Summary        `json:"summary" yaml:"summary"`
	Elapsed time.Duration  `json:"elapsed" yaml:"elapsed"`
}

// AccessResult describes what the session did to one access
type AccessResult struct {
	Block   uint64 `json:"block" yaml:"block"`
	Op      string `json:"op" yaml:"op"`
	Area    string `json:"area" yaml:"area"`
	Outcome string `json:"outcome" yaml:"outcome"`
	Changed int    `json:"changed_bytes" yaml:"changed_bytes"`
}

// Summary counts the outcomes of a replay
type Summary struct {
	Accesses  int `json:"accesses" yaml:"accesses"`
	Corrupted int `json:"corrupted" yaml:"corrupted"`
	Failed    int `json:"failed" yaml:"failed"`
}

// Validate validates a replay request
func (r *Request) Validate() error {
	if r.ImagePath == "" {
		return app.NewError(app.ErrCodeInvalidInput, "image path is required", nil)
	}
	if r.OutPath == "" {
		return app.NewError(app.ErrCodeInvalidInput, "output path is required", nil)
	}
	if r.OutPath == r.ImagePath {
		return app.NewError(app.ErrCodeInvalidInput, "output must not overwrite the source image", nil)
	}
	if len(r.Blocks) == 0 {
		return app.NewError(app.ErrCodeInvalidInput, "at least one block is required", nil)
	}
	if r.Op != types.OpRead && r.Op != types.OpWrite {
		return app.NewError(app.ErrCodeInvalidInput, "op must be read or write", nil)
	}
	if r.Workers < 1 {
		r.Workers = 1
	}
	if r.FS == "" {
		r.FS = types.DefaultFSKind
	}
	return nil
}

// ParseOp converts the command-line direction name.
func ParseOp(name string) (types.Op, error) {
	switch name {
	case "read", "r", "R":
		return types.OpRead, nil
	case "write", "w", "W":
		return types.OpWrite, nil
	default:
		return types.OpAny, app.NewError(app.ErrCodeInvalidInput, "op must be read or write: "+name, nil)
	}
}
