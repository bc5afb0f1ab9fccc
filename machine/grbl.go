package machine

import (
	"bytes"
	"context"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"github.com/jorgerobles/aruco-cnc-registration-sub001/logging"
)

// DefaultCommandTimeout bounds each exchange when the caller's context has no deadline.
const DefaultCommandTimeout = 5 * time.Second

var statusField = regexp.MustCompile(`(MPos|WPos|WCO):(-?[0-9.]+),(-?[0-9.]+),(-?[0-9.]+)`)

// Status is one parsed GRBL status report.
type Status struct {
	State string

	MachinePosition    r3.Vector
	HasMachinePosition bool
	WorkPosition       r3.Vector
	HasWorkPosition    bool
	WorkOffset         r3.Vector
	HasWorkOffset      bool
}

// ParseStatus parses a report such as "<Idle|MPos:1.000,2.000,3.000|FS:0,0>". The comma
// separated GRBL 0.9 form "<Idle,MPos:...,WPos:...>" is accepted too.
func ParseStatus(line string) (Status, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "<") || !strings.HasSuffix(line, ">") {
		return Status{}, errors.Wrapf(ErrBadStatus, "%q is not a status report", line)
	}
	body := line[1 : len(line)-1]

	var st Status
	st.State = body
	if i := strings.IndexAny(body, "|,"); i >= 0 {
		st.State = body[:i]
	}
	if i := strings.IndexByte(st.State, ':'); i >= 0 {
		st.State = st.State[:i]
	}
	if st.State == "" {
		return Status{}, errors.Wrapf(ErrBadStatus, "%q has no machine state", line)
	}

	for _, m := range statusField.FindAllStringSubmatch(body, -1) {
		v, err := parseVector(m[2:5])
		if err != nil {
			return Status{}, errors.Wrapf(ErrBadStatus, "%s in %q: %v", m[1], line, err)
		}
		switch m[1] {
		case "MPos":
			st.MachinePosition, st.HasMachinePosition = v, true
		case "WPos":
			st.WorkPosition, st.HasWorkPosition = v, true
		case "WCO":
			st.WorkOffset, st.HasWorkOffset = v, true
		}
	}
	if !st.HasMachinePosition && !st.HasWorkPosition {
		return Status{}, errors.Wrapf(ErrBadStatus, "%q reports no position", line)
	}
	return st, nil
}

func parseVector(fields []string) (r3.Vector, error) {
	var xyz [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return r3.Vector{}, err
		}
		xyz[i] = v
	}
	return r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

// GRBL is a Link to a GRBL controller over a line oriented port.
type GRBL struct {
	mu      sync.Mutex
	port    io.ReadWriteCloser
	logger  logging.Logger
	timeout time.Duration
	pending []byte
	// GRBL 1.1 only reports WCO every few status reports, so the last one seen is kept.
	lastWCO    r3.Vector
	hasLastWCO bool
	closed     bool
}

// NewGRBL wraps an already open port. The GRBL owns the port and closes it.
func NewGRBL(port io.ReadWriteCloser, logger logging.Logger) *GRBL {
	return &GRBL{port: port, logger: logger, timeout: DefaultCommandTimeout}
}

// Connect opens the serial port at path and checks that a controller answers a status query.
func Connect(ctx context.Context, path string, opts Options, logger logging.Logger) (*GRBL, error) {
	port, err := OpenDevice(path, opts)
	if err != nil {
		return nil, err
	}
	g := NewGRBL(port, logger)
	st, err := g.Status(ctx)
	if err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "no grbl controller on %q", path), g.Close())
	}
	logger.Infow("connected to grbl", "path", path, "state", st.State)
	return g, nil
}

// Status queries and parses one status report.
func (g *GRBL) Status(ctx context.Context) (Status, error) {
	ctx, span := trace.StartSpan(ctx, "machine::grbl::Status")
	defer span.End()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return Status{}, ErrLinkClosed
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	// '?' is a realtime command and needs no newline.
	if err := g.write(ctx, "?"); err != nil {
		return Status{}, err
	}
	for {
		line, err := g.readLine(ctx)
		if err != nil {
			return Status{}, err
		}
		if !strings.HasPrefix(line, "<") {
			g.logger.Debugw("skipping grbl line", "line", line)
			continue
		}
		st, err := ParseStatus(line)
		if err != nil {
			return Status{}, err
		}
		if st.HasWorkOffset {
			g.lastWCO, g.hasLastWCO = st.WorkOffset, true
		}
		return st, nil
	}
}

// Position implements PositionReader. It returns the machine position, deriving it from the
// work position and offset when the controller is set to report WPos.
func (g *GRBL) Position(ctx context.Context) (r3.Vector, error) {
	st, err := g.Status(ctx)
	if err != nil {
		return r3.Vector{}, err
	}
	if st.HasMachinePosition {
		return st.MachinePosition, nil
	}
	g.mu.Lock()
	wco, ok := g.lastWCO, g.hasLastWCO
	g.mu.Unlock()
	if !ok {
		return r3.Vector{}, errors.Wrap(ErrBadStatus, "status reports WPos but no WCO has been seen")
	}
	return st.WorkPosition.Add(wco), nil
}

// SetWorkOffset implements OffsetApplier with G10 L2.
func (g *GRBL) SetWorkOffset(ctx context.Context, cs int, p r3.Vector) error {
	ctx, span := trace.StartSpan(ctx, "machine::grbl::SetWorkOffset")
	defer span.End()

	cmd, err := WorkOffsetCommand(cs, p)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrLinkClosed
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	if err := g.write(ctx, cmd+"\n"); err != nil {
		return err
	}
	for {
		line, err := g.readLine(ctx)
		if err != nil {
			return err
		}
		switch {
		case line == "ok":
			g.hasLastWCO = false
			g.logger.Infow("work offset set", "coordinate_system", CoordinateSystemName(cs), "offset", p)
			return nil
		case strings.HasPrefix(line, "error:"), strings.HasPrefix(line, "ALARM:"):
			return errors.Wrapf(ErrCommandRejected, "%q answered %q", cmd, line)
		default:
			g.logger.Debugw("skipping grbl line", "line", line)
		}
	}
}

// Close releases the port. It is safe to call more than once.
func (g *GRBL) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	return g.port.Close()
}

func (g *GRBL) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *GRBL) write(ctx context.Context, s string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.logger.Debugw("grbl send", "data", strings.TrimSpace(s))
	if _, err := io.WriteString(g.port, s); err != nil {
		return errors.Wrap(err, "writing to grbl")
	}
	return nil
}

// readLine returns the next non-empty line. A port read that times out returns no data, so the
// loop keeps checking ctx between reads.
func (g *GRBL) readLine(ctx context.Context) (string, error) {
	var buf [64]byte
	var readErr error
	for {
		if i := bytes.IndexByte(g.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(g.pending[:i]))
			g.pending = g.pending[i+1:]
			if line == "" {
				continue
			}
			return line, nil
		}
		if readErr != nil {
			return "", errors.Wrap(readErr, "reading from grbl")
		}
		if err := ctx.Err(); err != nil {
			return "", errors.Wrap(err, "waiting for grbl")
		}
		var n int
		n, readErr = g.port.Read(buf[:])
		g.pending = append(g.pending, buf[:n]...)
	}
}
