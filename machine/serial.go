package machine

import (
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.viam.com/utils"
)

// DefaultBaudRate is the GRBL default.
const DefaultBaudRate = 115200

// DefaultReadTimeout bounds a single read from the port so reads can observe cancellation.
const DefaultReadTimeout = 100 * time.Millisecond

// Options describes how to open the serial port.
type Options struct {
	BaudRate    int           `json:"baud_rate"`
	DataBits    int           `json:"data_bits"`
	StopBits    int           `json:"stop_bits"`
	Parity      string        `json:"parity"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

// Normalize applies defaults and validates the options.
func (o Options) Normalize() (Options, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, errors.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, errors.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}
	switch strings.ToUpper(strings.TrimSpace(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, errors.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	return opts, nil
}

// Mode converts the options into the serial.Mode used to open the port.
func (o Options) Mode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{BaudRate: opts.BaudRate, DataBits: opts.DataBits, StopBits: serial.OneStopBit}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// openPort is swapped out in tests.
var openPort = func(path string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(path, mode)
}

// OpenDevice opens the serial port at devicePath. Reads on the returned port time out after
// ReadTimeout and then return zero bytes with no error.
func OpenDevice(devicePath string, o Options) (io.ReadWriteCloser, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}
	port, err := openPort(devicePath, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "opening serial port %q", devicePath)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		utils.UncheckedErrorFunc(port.Close)
		return nil, errors.Wrapf(err, "setting read timeout on %q", devicePath)
	}
	if err := port.ResetInputBuffer(); err != nil {
		utils.UncheckedErrorFunc(port.Close)
		return nil, errors.Wrapf(err, "flushing %q", devicePath)
	}
	return port, nil
}

// Ports lists the serial ports present on the system.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
