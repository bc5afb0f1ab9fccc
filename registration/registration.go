// Package registration fits and applies the rigid transform between a camera frame and a machine
// frame from marker/machine-position correspondences, and persists the result.
package registration

import (
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"

	"github.com/jorgerobles/aruco-cnc-registration-sub001/logging"
)

// Solver fits the camera to machine transform and applies it.
type Solver interface {
	ComputeRegistration(forceRecompute bool) error
	TransformPoint(cameraPoint r3.Vector) (r3.Vector, error)
	IsRegistered() bool
	RegistrationError() (float64, bool)
}

// Persister saves and restores the point set together with the last fit.
type Persister interface {
	SaveRegistration(filename string) error
	LoadRegistration(filename string) error
}

// Registration is the mutable calibration state: the ordered correspondences, the last fitted
// transform, and whether that transform still matches the points. A single RWMutex covers the
// whole mutate→invalidate→compute sequence so no reader sees a transform fitted to an older set.
type Registration struct {
	mu     sync.RWMutex
	logger logging.Logger
	clock  clock.Clock
	id     string

	store        Store
	fit          *Fit
	fitCount     int
	dirty        bool
	maxCondition float64
}

var (
	_ PointStore = (*Registration)(nil)
	_ Solver     = (*Registration)(nil)
	_ Persister  = (*Registration)(nil)
)

// Option configures a Registration.
type Option func(*Registration)

// WithClock sets the clock used to timestamp saved files.
func WithClock(c clock.Clock) Option {
	return func(r *Registration) {
		r.clock = c
	}
}

// WithMaxConditionNumber sets the largest cross-covariance condition number accepted by a fit.
func WithMaxConditionNumber(cond float64) Option {
	return func(r *Registration) {
		r.maxCondition = cond
	}
}

// NewRegistration returns an empty, unregistered state.
func NewRegistration(logger logging.Logger, opts ...Option) *Registration {
	r := &Registration{
		logger:       logger,
		clock:        clock.New(),
		id:           uuid.NewString(),
		maxCondition: DefaultMaxConditionNumber,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID identifies this registration across save/load cycles.
func (r *Registration) ID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.id
}

// AddCalibrationPoint validates and appends a correspondence and marks the fit stale.
func (r *Registration) AddCalibrationPoint(machinePos, cameraPoint r3.Vector, normPos r2.Point) error {
	p, err := NewCalibrationPoint(machinePos, cameraPoint, normPos)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Add(p); err != nil {
		return err
	}
	r.dirty = true
	r.logger.Debugw("calibration point added",
		"index", r.store.Len()-1, "machine", machinePos, "camera", cameraPoint, "count", r.store.Len())
	return nil
}

// RemoveCalibrationPoint removes the point at index; later points shift down by one.
func (r *Registration) RemoveCalibrationPoint(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Remove(index); err != nil {
		return err
	}
	r.dirty = true
	r.logger.Debugw("calibration point removed", "index", index, "count", r.store.Len())
	return nil
}

// ClearCalibrationPoints drops every point and the fitted transform.
func (r *Registration) ClearCalibrationPoints() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.Clear()
	r.fit = nil
	r.fitCount = 0
	r.dirty = false
	r.logger.Debug("calibration points cleared")
}

// CalibrationPointsCount returns the number of stored points.
func (r *Registration) CalibrationPointsCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Len()
}

// MachinePositions returns a copy of the machine positions in insertion order.
func (r *Registration) MachinePositions() []r3.Vector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.MachinePositions()
}

// CameraPoints returns a copy of the camera points in insertion order.
func (r *Registration) CameraPoints() []r3.Vector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.CameraPoints()
}

// CalibrationPoints returns a copy of every stored correspondence.
func (r *Registration) CalibrationPoints() []CalibrationPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Points()
}

// ComputeRegistration fits the transform to the stored points. It is a no-op when the current fit
// is still valid unless forceRecompute is set. On failure the previous fit is kept as is.
func (r *Registration) ComputeRegistration(forceRecompute bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fit != nil && !r.dirty && !forceRecompute {
		return nil
	}

	fit, err := FitRigidTransform(r.store.CameraPoints(), r.store.MachinePositions(), r.maxCondition)
	if err != nil {
		r.logger.Warnw("registration failed", "count", r.store.Len(), "error", err)
		return err
	}
	r.fit = &fit
	r.fitCount = r.store.Len()
	r.dirty = false
	r.logger.Infow("registration computed",
		"points", r.fitCount, "rms_error", fit.RMSError, "condition", fit.ConditionNumber)
	return nil
}

// TransformPoint maps a camera point into machine space with the current fit.
func (r *Registration) TransformPoint(cameraPoint r3.Vector) (r3.Vector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkRegistered(); err != nil {
		return r3.Vector{}, err
	}
	return r.fit.Transform.Apply(cameraPoint), nil
}

// InverseTransformPoint maps a machine position into the camera frame with the current fit.
func (r *Registration) InverseTransformPoint(machinePos r3.Vector) (r3.Vector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkRegistered(); err != nil {
		return r3.Vector{}, err
	}
	return r.fit.Transform.Inverse().Apply(machinePos), nil
}

// IsRegistered reports whether a fit exists and still matches the stored points.
func (r *Registration) IsRegistered() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fit != nil && !r.dirty
}

// IsDirty reports whether the points changed since the last fit.
func (r *Registration) IsDirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dirty
}

// RegistrationError returns the RMS residual of the last fit; ok is false if nothing was fitted.
func (r *Registration) RegistrationError() (rms float64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fit == nil {
		return 0, false
	}
	return r.fit.RMSError, true
}

// Transform returns the last fitted transform; ok is false if nothing was fitted.
func (r *Registration) Transform() (rt RigidTransform, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fit == nil {
		return RigidTransform{}, false
	}
	return r.fit.Transform, true
}

// Residuals returns the distance between each transformed camera point and its machine position.
func (r *Registration) Residuals() ([]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkRegistered(); err != nil {
		return nil, err
	}
	return PointResiduals(r.fit.Transform, r.store.CameraPoints(), r.store.MachinePositions()), nil
}

func (r *Registration) checkRegistered() error {
	if r.fit == nil || r.dirty {
		return NewNotRegisteredError(r.fit != nil && r.dirty)
	}
	return nil
}
