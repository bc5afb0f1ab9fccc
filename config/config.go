// Package config defines the on-disk configuration of a calibration setup.
package config

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/jorgerobles/aruco-cnc-registration-sub001/logging"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/machine"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/marker"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/registration"
)

// DefaultRegistrationFile is where the registration is kept when the config names no file.
const DefaultRegistrationFile = "registration.json"

// Config describes one camera and machine pair.
type Config struct {
	Serial             SerialConfig      `json:"serial"`
	CameraProfile      string            `json:"camera_profile"`
	Marker             MarkerConfig      `json:"marker"`
	Board              *marker.GridBoard `json:"board,omitempty"`
	RegistrationFile   string            `json:"registration_file"`
	CoordinateSystem   int               `json:"coordinate_system"`
	MaxConditionNumber float64           `json:"max_condition_number"`
	LogLevel           string            `json:"log_level"`
	// LogFile, when set, also writes JSON logs to a size rotated file.
	LogFile string `json:"log_file,omitempty"`
}

// SerialConfig is where and how to reach the machine.
type SerialConfig struct {
	Path          string `json:"path"`
	BaudRate      int    `json:"baud_rate"`
	ReadTimeoutMS int    `json:"read_timeout_ms"`
}

// MarkerConfig selects the single marker tracked when no board is configured.
type MarkerConfig struct {
	Dictionary string  `json:"dictionary"`
	Length     float64 `json:"length"`
	ID         int     `json:"id"`
	// Reference is "center" or one of "top_left", "top_right", "bottom_right", "bottom_left".
	Reference string `json:"reference"`
	// Blur is the sigma of a gaussian blur applied to images before detection; zero disables it.
	Blur float64 `json:"blur"`
}

var referenceCorners = map[string]int{
	"":             marker.CenterReference,
	"center":       marker.CenterReference,
	"top_left":     0,
	"top_right":    1,
	"bottom_right": 2,
	"bottom_left":  3,
}

// ReferenceIndex returns the corner index for Reference, or marker.CenterReference.
func (c MarkerConfig) ReferenceIndex() int {
	if idx, ok := referenceCorners[c.Reference]; ok {
		return idx
	}
	return marker.CenterReference
}

// Options converts the serial settings into link options.
func (c SerialConfig) Options() machine.Options {
	return machine.Options{
		BaudRate:    c.BaudRate,
		ReadTimeout: time.Duration(c.ReadTimeoutMS) * time.Millisecond,
	}
}

// Level parses LogLevel.
func (c *Config) Level() (logging.Level, error) {
	return logging.LevelFromString(c.LogLevel)
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) error {
	if c.Serial.BaudRate < 0 {
		return utils.NewConfigValidationError(path+".serial", errors.New("baud_rate cannot be negative"))
	}
	if c.Serial.ReadTimeoutMS < 0 {
		return utils.NewConfigValidationError(path+".serial", errors.New("read_timeout_ms cannot be negative"))
	}
	if c.Marker.Blur < 0 {
		return utils.NewConfigValidationError(path+".marker", errors.New("blur cannot be negative"))
	}
	if _, ok := referenceCorners[c.Marker.Reference]; !ok {
		return utils.NewConfigValidationError(path+".marker",
			errors.Errorf("unknown reference %q", c.Marker.Reference))
	}
	if c.Board != nil {
		if err := c.Board.Validate(); err != nil {
			return utils.NewConfigValidationError(path+".board", err)
		}
	} else if c.Marker.Length <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path+".marker", "length")
	}
	if err := machine.ValidateCoordinateSystem(c.CoordinateSystem); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if c.MaxConditionNumber < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_condition_number cannot be negative"))
	}
	if _, err := c.Level(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Marker.Dictionary == "" {
		c.Marker.Dictionary = marker.DefaultDictionary
	}
	if c.RegistrationFile == "" {
		c.RegistrationFile = DefaultRegistrationFile
	}
	if c.CoordinateSystem == 0 {
		c.CoordinateSystem = machine.MinCoordinateSystem
	}
	if c.MaxConditionNumber == 0 {
		c.MaxConditionNumber = registration.DefaultMaxConditionNumber
	}
	if c.LogLevel == "" {
		c.LogLevel = logging.INFO.String()
	}
}

// Read reads a config from the given file, substituting ${VAR} references from the environment.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %q", filePath)
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader decodes and validates a config. originalPath only labels errors.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %q", originalPath)
	}

	var cfg Config
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:  "json",
		Result:   &cfg,
		Metadata: &md,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, errors.Wrapf(err, "cannot decode config %q", originalPath)
	}
	if len(md.Unused) > 0 {
		return nil, errors.Errorf("config %q has unknown fields %v", originalPath, md.Unused)
	}

	cfg.applyDefaults()
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	return &cfg, nil
}
