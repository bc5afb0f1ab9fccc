package registration

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// FormatVersion is the schema version written to registration files.
const FormatVersion = 1

// rotationTolerance is how far a stored rotation may be from orthonormal before the file is
// considered corrupt. Values round trip exactly through JSON so this only catches edits.
const rotationTolerance = 1e-6

type savedPoint struct {
	MachinePosition         [3]float64 `json:"machine_position"`
	CameraPoint             [3]float64 `json:"camera_point"`
	NormalizedImagePosition [2]float64 `json:"normalized_image_position"`
}

type savedTransform struct {
	Rotation        [9]float64 `json:"rotation"`
	Translation     [3]float64 `json:"translation"`
	ResidualError   float64    `json:"residual_error"`
	ConditionNumber float64    `json:"condition_number,omitempty"`
	// PointCount is the number of points the transform was fitted against.
	PointCount int  `json:"point_count"`
	Stale      bool `json:"stale,omitempty"`
}

type savedRegistration struct {
	Version    int             `json:"version"`
	ID         string          `json:"id"`
	SavedAt    time.Time       `json:"saved_at"`
	PointCount int             `json:"point_count"`
	Points     []savedPoint    `json:"points"`
	Transform  *savedTransform `json:"transform,omitempty"`
}

// SaveRegistration writes every point and the last fit to filename. The file is replaced
// atomically so a crash never leaves a truncated registration behind.
func (r *Registration) SaveRegistration(filename string) (err error) {
	var buf bytes.Buffer
	if err := r.SaveTo(&buf); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".*")
	if err != nil {
		return NewPersistenceIOError(filename, err)
	}
	defer func() {
		if err != nil {
			utils.UncheckedError(os.Remove(tmp.Name()))
		}
	}()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		utils.UncheckedError(tmp.Close())
		return NewPersistenceIOError(filename, err)
	}
	if err := tmp.Sync(); err != nil {
		utils.UncheckedError(tmp.Close())
		return NewPersistenceIOError(filename, err)
	}
	if err := tmp.Close(); err != nil {
		return NewPersistenceIOError(filename, err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return NewPersistenceIOError(filename, err)
	}
	r.logger.Infow("registration saved", "file", filename, "points", r.CalibrationPointsCount())
	return nil
}

// LoadRegistration replaces the current points and fit with the contents of filename.
func (r *Registration) LoadRegistration(filename string) error {
	//nolint:gosec
	f, err := os.Open(filename)
	if err != nil {
		return NewPersistenceIOError(filename, err)
	}
	defer utils.UncheckedErrorFunc(f.Close)

	if err := r.LoadFrom(f); err != nil {
		return errors.Wrap(err, filename)
	}
	r.logger.Infow("registration loaded",
		"file", filename, "points", r.CalibrationPointsCount(), "registered", r.IsRegistered())
	return nil
}

// SaveTo encodes the registration as JSON.
func (r *Registration) SaveTo(w io.Writer) error {
	r.mu.RLock()
	saved := savedRegistration{
		Version:    FormatVersion,
		ID:         r.id,
		SavedAt:    r.clock.Now().UTC(),
		PointCount: r.store.Len(),
		Points:     make([]savedPoint, 0, r.store.Len()),
	}
	for _, p := range r.store.points {
		saved.Points = append(saved.Points, savedPoint{
			MachinePosition:         vecToArray(p.MachinePosition),
			CameraPoint:             vecToArray(p.CameraPoint),
			NormalizedImagePosition: [2]float64{p.NormalizedImagePosition.X, p.NormalizedImagePosition.Y},
		})
	}
	if r.fit != nil {
		saved.Transform = &savedTransform{
			Rotation:        r.fit.Transform.Rotation,
			Translation:     vecToArray(r.fit.Transform.Translation),
			ResidualError:   r.fit.RMSError,
			ConditionNumber: r.fit.ConditionNumber,
			PointCount:      r.fitCount,
			Stale:           r.dirty,
		}
	}
	r.mu.RUnlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(&saved)
}

// LoadFrom decodes a registration written by SaveTo. Nothing is replaced unless the whole input
// is valid. The loaded transform is usable only when it was fitted to exactly the loaded points.
func (r *Registration) LoadFrom(rd io.Reader) error {
	data, err := io.ReadAll(rd)
	if err != nil {
		return errors.Wrap(ErrPersistenceIO, err.Error())
	}
	var saved savedRegistration
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&saved); err != nil {
		return NewPersistenceFormatError("cannot decode: %v", err)
	}
	if saved.Version != FormatVersion {
		return NewPersistenceFormatError("unsupported version %d, expected %d", saved.Version, FormatVersion)
	}
	if saved.PointCount != len(saved.Points) {
		return NewPersistenceFormatError("header says %d points but %d are stored", saved.PointCount, len(saved.Points))
	}
	if saved.ID != "" {
		if _, err := uuid.Parse(saved.ID); err != nil {
			return NewPersistenceFormatError("invalid id %q", saved.ID)
		}
	}

	points := make([]CalibrationPoint, 0, len(saved.Points))
	for i, sp := range saved.Points {
		p := CalibrationPoint{
			MachinePosition:         arrayToVec(sp.MachinePosition),
			CameraPoint:             arrayToVec(sp.CameraPoint),
			NormalizedImagePosition: r2.Point{X: sp.NormalizedImagePosition[0], Y: sp.NormalizedImagePosition[1]},
		}
		if err := p.Validate(); err != nil {
			return NewPersistenceFormatError("point %d: %v", i, err)
		}
		points = append(points, p)
	}

	var fit *Fit
	var fitCount int
	dirty := len(points) > 0
	if st := saved.Transform; st != nil {
		rt := RigidTransform{Rotation: st.Rotation, Translation: arrayToVec(st.Translation)}
		if !vectorIsFinite(rt.Translation) || !isFinite(st.ResidualError) || st.ResidualError < 0 {
			return NewPersistenceFormatError("transform has invalid translation or residual")
		}
		if !rt.IsProperRotation(rotationTolerance) {
			return NewPersistenceFormatError("transform rotation is not a proper rotation (det %.6f)", rt.Determinant())
		}
		if st.PointCount < MinPoints {
			return NewPersistenceFormatError("transform fitted to %d points, need at least %d", st.PointCount, MinPoints)
		}
		fit = &Fit{Transform: rt, RMSError: st.ResidualError, ConditionNumber: st.ConditionNumber}
		fitCount = st.PointCount
		dirty = st.Stale || st.PointCount != len(points)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.replace(points)
	r.fit = fit
	r.fitCount = fitCount
	r.dirty = dirty
	if saved.ID != "" {
		r.id = saved.ID
	}
	return nil
}

func vecToArray(v r3.Vector) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

func arrayToVec(a [3]float64) r3.Vector {
	return r3.Vector{X: a[0], Y: a[1], Z: a[2]}
}
