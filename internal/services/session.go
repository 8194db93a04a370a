package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-blockinject/internal/device"
	"github.com/deploymenttheory/go-blockinject/internal/interfaces"
	"github.com/deploymenttheory/go-blockinject/internal/locators"
	"github.com/deploymenttheory/go-blockinject/internal/rules"
	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// Verdict is the outcome of a submission hook.
type Verdict int

const (
	// VerdictPass forwards the request untouched.
	VerdictPass Verdict = iota
	// VerdictCorruptAndPass forwards the request after its buffer was corrupted.
	VerdictCorruptAndPass
	// VerdictFail completes the request with an I/O error without forwarding it.
	VerdictFail
)

// String returns the verdict name used in log lines.
func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictCorruptAndPass:
		return "corrupt-and-pass"
	case VerdictFail:
		return "fail"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Control messages accepted by Session.Message.
const (
	MessageStart         = "start"
	MessageStop          = "stop"
	MessageCorruptionOn  = "corruption_on"
	MessageCorruptionOff = "corruption_off"
	MessageTest          = "test"
)

// Request is one I/O request as seen by the hooks.
type Request struct {
	// Direction of the request
	Op types.Op

	// Byte offset of Data relative to the start of the volume
	Offset int64

	// Request buffer. Hooks corrupt it in place.
	Data []byte

	// ReadAhead marks speculative prefetch reads
	ReadAhead bool
}

// Sector returns the first sector of the request.
func (r *Request) Sector() types.Sector {
	return types.Sector(r.Offset / types.SectorSize)
}

// Args are the parsed construction arguments of a session.
type Args struct {
	Device      string
	StartSector uint64
	FS          types.FSKind
	Specs       []string
}

// ParseArgs parses `<device> <start-sector> [fs-kind] [spec...]`. The kind
// defaults to f2fs when the third token is not a registered kind.
func ParseArgs(argv []string) (Args, error) {
	if len(argv) < 2 {
		return Args{}, types.NewConfigError("", "invalid argument count: need <device> <start-sector>")
	}
	if argv[0] == "" {
		return Args{}, types.NewConfigError("", "no device given")
	}
	start, err := strconv.ParseUint(argv[1], 0, 64)
	if err != nil {
		return Args{}, types.NewConfigError(argv[1], "invalid device sector")
	}

	args := Args{Device: argv[0], StartSector: start, FS: types.DefaultFSKind}
	rest := argv[2:]
	if len(rest) > 0 && locators.IsKind(rest[0]) {
		args.FS = types.FSKind(rest[0])
		rest = rest[1:]
	}
	args.Specs = append([]string(nil), rest...)
	return args, nil
}

// Opener opens the backing device of a session at a byte offset.
type Opener func(path string, offset int64) (interfaces.BlockDevice, error)

// Options tunes session construction.
type Options struct {
	// Open replaces the default file device opener
	Open Opener

	// ReadOnly opens the backing device without write access
	ReadOnly bool

	// Lock takes an exclusive lock on the backing device
	Lock bool

	// Probe gates the upgrade to mounted-state context. Nil never upgrades.
	Probe interfaces.MountProbe

	// Enabled starts the session with injection on
	Enabled bool

	Logger *logrus.Entry
}

// SessionStats counts hook outcomes.
type SessionStats struct {
	Requests  uint64
	Corrupted uint64
	Failed    uint64
	ReadAhead uint64
	// Armed counts blocks that matched a rule still counting down
	Armed     uint64
}

// Session binds one backing device to one locator and one rule store and
// exposes the interception hooks.
type Session struct {
	args    Args
	dev     interfaces.BlockDevice
	store   *rules.Store
	locator interfaces.Locator
	probe   interfaces.MountProbe
	log     *logrus.Entry

	requests  atomic.Uint64
	corrupted atomic.Uint64
	failed    atomic.Uint64
	readAhead atomic.Uint64
	armed     atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// NewSession builds a session from construction arguments. Every resource
// acquired before a failure is released.
func NewSession(argv []string, opts Options) (s *Session, err error) {
	args, err := ParseArgs(argv)
	if err != nil {
		return nil, err
	}
	return Open(args, opts)
}

// Open builds a session from parsed arguments.
func Open(args Args, opts Options) (s *Session, err error) {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "session")

	factory, err := locators.Lookup(args.FS)
	if err != nil {
		return nil, err
	}

	open := opts.Open
	if open == nil {
		open = func(path string, offset int64) (interfaces.BlockDevice, error) {
			return device.Open(path, device.Options{ReadOnly: opts.ReadOnly, Offset: offset, Lock: opts.Lock})
		}
	}
	if args.StartSector > uint64(1<<63-1)/types.SectorSize {
		return nil, types.NewConfigError(strconv.FormatUint(args.StartSector, 10), "start sector out of range")
	}
	dev, err := open(args.Device, int64(args.StartSector)*types.SectorSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", args.Device, err)
	}
	defer func() {
		if err != nil {
			dev.Close()
		}
	}()

	store := rules.NewStore(log)
	loc, err := factory(dev, store, log)
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap %s context: %w", args.FS, err)
	}

	parsed, err := loc.Grammar().Parse(args.Specs)
	if err != nil {
		return nil, err
	}
	for _, r := range parsed {
		if err := loc.Prepare(r); err != nil {
			return nil, err
		}
		store.Add(r)
	}
	store.SetInjectionEnabled(opts.Enabled)

	s = &Session{
		args:    args,
		dev:     dev,
		store:   store,
		locator: loc,
		probe:   opts.Probe,
		log:     log.WithField("device", args.Device),
	}
	s.log.WithFields(logrus.Fields{
		"fs":    args.FS,
		"start": args.StartSector,
		"rules": store.Len(),
		"full":  loc.Full(),
	}).Info("session created")
	return s, nil
}

// Args returns the construction arguments.
func (s *Session) Args() Args {
	return s.args
}

// Store returns the rule store.
func (s *Session) Store() *rules.Store {
	return s.store
}

// Locator returns the attached locator.
func (s *Session) Locator() interfaces.Locator {
	return s.locator
}

// Device returns the backing device.
func (s *Session) Device() interfaces.BlockDevice {
	return s.dev
}

// Stats returns the hook counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Requests:  s.requests.Load(),
		Corrupted: s.corrupted.Load(),
		Failed:    s.failed.Load(),
		ReadAhead: s.readAhead.Load(),
		Armed:     s.armed.Load(),
	}
}

// Message applies one runtime control command.
func (s *Session) Message(msg string) error {
	argv := strings.Fields(msg)
	if len(argv) != 1 {
		return types.NewConfigError(msg, "invalid message argument count")
	}
	switch strings.ToLower(argv[0]) {
	case MessageStart:
		s.store.SetInjectionEnabled(true)
	case MessageStop:
		s.store.SetInjectionEnabled(false)
	case MessageCorruptionOn:
		s.store.SetGlobalCorrupt(true)
	case MessageCorruptionOff:
		s.store.SetGlobalCorrupt(false)
	case MessageTest:
		s.log.WithFields(logrus.Fields{
			"injection": s.store.InjectionEnabled(),
			"global":    s.store.GlobalCorrupt(),
			"full":      s.locator.Full(),
			"rules":     s.store.Len(),
		}).Info("test message")
		return nil
	default:
		return types.NewConfigError(argv[0], "unrecognised message")
	}
	s.log.WithField("message", strings.ToLower(argv[0])).Info("message applied")
	return nil
}

// OnSubmit runs before a request reaches the device. Writes go through the
// mutation path then the fail path for every block they touch. Read-ahead
// is always rejected.
func (s *Session) OnSubmit(req *Request) Verdict {
	s.requests.Add(1)
	if req.ReadAhead {
		s.readAhead.Add(1)
		return VerdictFail
	}
	s.maybeUpgrade()
	if req.Op != types.OpWrite || !s.store.InjectionEnabled() {
		return VerdictPass
	}

	v, err := s.process(req)
	if err != nil {
		s.log.WithError(err).WithField("offset", req.Offset).Error("submission hook failed")
		return VerdictFail
	}
	return v
}

// OnComplete runs after a request completed with status. Reads go through
// the mutation path then the fail path; a failing rule replaces the status
// with ErrInjectedIO.
func (s *Session) OnComplete(req *Request, status error) error {
	if status != nil || req.Op != types.OpRead || req.ReadAhead || !s.store.InjectionEnabled() {
		return status
	}
	s.maybeUpgrade()

	v, err := s.process(req)
	if err != nil {
		return err
	}
	if v == VerdictFail {
		return fmt.Errorf("%w: read at offset %d", types.ErrInjectedIO, req.Offset)
	}
	return nil
}

// process splits req into filesystem blocks and runs the paths on each. A
// block the mutation path corrupted is not offered to the fail path.
func (s *Session) process(req *Request) (Verdict, error) {
	verdict := VerdictPass
	for _, acc := range s.split(req) {
		out, err := s.locator.Mutate(acc)
		if err != nil {
			return VerdictFail, err
		}
		if len(out.Mutations) > 0 {
			s.corrupted.Add(1)
			verdict = VerdictCorruptAndPass
			continue
		}
		fail := s.locator.ShouldFail(acc)
		if fail.Rule != nil {
			s.failed.Add(1)
			return VerdictFail, nil
		}
		if out.Decision == rules.Armed || fail.Decision == rules.Armed {
			s.armed.Add(1)
			s.log.WithFields(logrus.Fields{
				"block": acc.Block,
				"op":    acc.Op.String(),
			}).Debug("block matched a rule that is not due yet")
		}
	}
	s.log.WithFields(logrus.Fields{
		"op":      req.Op.String(),
		"sector":  uint64(req.Sector()),
		"len":     len(req.Data),
		"verdict": verdict.String(),
	}).Debug("request processed")
	return verdict, nil
}

// split returns one access per filesystem block touched by req.
func (s *Session) split(req *Request) []*interfaces.BlockAccess {
	bs := int64(s.locator.BlockSize())
	var out []*interfaces.BlockAccess
	for done := int64(0); done < int64(len(req.Data)); {
		pos := req.Offset + done
		within := pos % bs
		n := min(bs-within, int64(len(req.Data))-done)
		out = append(out, &interfaces.BlockAccess{
			Block:     uint64(pos / bs),
			Op:        req.Op,
			Data:      req.Data[done : done+n],
			Offset:    uint32(within),
			BlockSize: uint32(bs),
		})
		done += n
	}
	return out
}

// maybeUpgrade loads mounted-state context once the probe reports a mount.
// A failed upgrade leaves the context partial and is retried later.
func (s *Session) maybeUpgrade() {
	if s.probe == nil || s.locator.Full() || !s.probe.Mounted() {
		return
	}
	if err := s.locator.Upgrade(context.Background()); err != nil {
		s.log.WithError(err).Warn("context upgrade failed")
	}
}

// Close releases the backing device.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if !s.dev.IsReadOnly() {
			errs = append(errs, s.dev.Sync())
		}
		errs = append(errs, s.dev.Close())
		s.closeErr = errors.Join(errs...)
		s.log.Info("session closed")
	})
	return s.closeErr
}
