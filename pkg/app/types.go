package app

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// BlockList is a set of filesystem block numbers given on the command line
// as comma-separated numbers and inclusive ranges, e.g. "0,16-19,0x4d2".
type BlockList []uint64

// maxRange bounds one range so a typo cannot expand to billions of blocks.
const maxRange = 1 << 20

// ParseBlockList parses the command-line block syntax. Duplicates are
// removed and the result is sorted.
func ParseBlockList(specs []string) (BlockList, error) {
	seen := make(map[uint64]struct{})
	for _, spec := range specs {
		for _, part := range strings.Split(spec, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			lo, hi, err := parseRange(part)
			if err != nil {
				return nil, NewError(ErrCodeInvalidInput, "invalid block list", err)
			}
			for b := lo; ; b++ {
				seen[b] = struct{}{}
				if b == hi {
					break
				}
			}
		}
	}
	out := make(BlockList, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func parseRange(part string) (uint64, uint64, error) {
	first, last, isRange := strings.Cut(part, "-")
	lo, err := strconv.ParseUint(first, 0, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad block %q", first)
	}
	if !isRange {
		return lo, lo, nil
	}
	hi, err := strconv.ParseUint(last, 0, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad block %q", last)
	}
	if hi < lo {
		return 0, 0, fmt.Errorf("range %q is reversed", part)
	}
	if hi-lo >= maxRange {
		return 0, 0, fmt.Errorf("range %q is longer than %d blocks", part, maxRange)
	}
	return lo, hi, nil
}

// String renders the list back in command-line form with ranges collapsed.
func (l BlockList) String() string {
	var parts []string
	for i := 0; i < len(l); {
		j := i
		for j+1 < len(l) && l[j+1] == l[j]+1 {
			j++
		}
		if j == i {
			parts = append(parts, strconv.FormatUint(l[i], 10))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", l[i], l[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}

// ProgressUpdate represents progress information
type ProgressUpdate struct {
	Message     string
	Completed   int64
	Total       int64
	StartedAt   time.Time
	ElapsedTime time.Duration
}

// Percent calculates completion percentage
func (p *ProgressUpdate) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return int((p.Completed * 100) / p.Total)
}

// CommonError represents application-level errors
type CommonError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CommonError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CommonError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeDeviceAccess = "DEVICE_ACCESS"
	ErrCodeSession      = "SESSION"
	ErrCodeOutput       = "OUTPUT"
	ErrCodeTimeout      = "TIMEOUT"
)

// NewError creates a new CommonError
func NewError(code, message string, cause error) *CommonError {
	return &CommonError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
