package objects

import (
	"encoding/json"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/avscene/internal/geometry"
)

// containerMarker identifies whole-file JSON records that carry a list of
// object states instead of a single one.
const containerMarker = "datacontainer"

type jsonReference struct {
	X [3]float64 `json:"x"`
	Q [4]float64 `json:"q"`
}

type jsonBox struct {
	HWL      [3]float64 `json:"hwl"`
	WhereIsT string     `json:"where_is_t"`
}

type jsonObjectState struct {
	ObjType         string        `json:"obj_type"`
	ID              ID            `json:"ID"`
	Timestamp       float64       `json:"t"`
	Position        [3]float64    `json:"position"`
	Velocity        *[3]float64   `json:"velocity,omitempty"`
	Acceleration    *[3]float64   `json:"acceleration,omitempty"`
	Attitude        [4]float64    `json:"attitude"`
	AngularVelocity *[4]float64   `json:"angular_velocity,omitempty"`
	Box             jsonBox       `json:"box"`
	Occlusion       int           `json:"occlusion"`
	Reference       jsonReference `json:"reference"`
}

type jsonContainer struct {
	Source    string            `json:"source"`
	Frame     int               `json:"frame"`
	Timestamp float64           `json:"timestamp"`
	Objects   []json.RawMessage `json:"objects"`
}

type jsonContainerRecord struct {
	Container *jsonContainer `json:"datacontainer"`
}

// Container is a decoded whole-file object-state record.
type Container struct {
	Source    string
	Frame     int
	Timestamp float64
	Objects   []*ObjectState
}

// IsContainerLine reports whether a JSON record holds a container of
// object states rather than a single object.
func IsContainerLine(line string) bool {
	return strings.Contains(line, containerMarker)
}

// EncodeJSON writes the object as a single-line JSON record. The
// reference frame is resolved to its global pose so the record is
// self-contained.
func EncodeJSON(o *ObjectState) (string, error) {
	ref := o.Reference()
	wire := jsonObjectState{
		ObjType:   o.Type,
		ID:        o.ID,
		Timestamp: o.Timestamp,
		Position:  vecArray(o.Position.V),
		Attitude:  quatArray(o.Attitude.Q),
		Box: jsonBox{
			HWL:      [3]float64{o.Box.H, o.Box.W, o.Box.L},
			WhereIsT: string(o.Box.Anchor),
		},
		Occlusion: int(o.Occlusion),
		Reference: jsonReference{
			X: vecArray(ref.GlobalPosition()),
			Q: quatArray(ref.GlobalRotation()),
		},
	}
	if o.Velocity != nil {
		v := vecArray(o.Velocity.V)
		wire.Velocity = &v
	}
	if o.Acceleration != nil {
		a := vecArray(o.Acceleration.V)
		wire.Acceleration = &a
	}
	if o.AngularVelocity != nil {
		w := quatArray(o.AngularVelocity.Q)
		wire.AngularVelocity = &w
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("encode object state: %w", err)
	}
	return string(b), nil
}

// DecodeJSON parses a single JSON object-state record.
func DecodeJSON(line string) (*ObjectState, error) {
	var wire jsonObjectState
	if err := json.Unmarshal([]byte(line), &wire); err != nil {
		return nil, fmt.Errorf("decode object state: %w", err)
	}
	return wire.toObjectState()
}

func (w *jsonObjectState) toObjectState() (*ObjectState, error) {
	if w.ObjType == "" {
		return nil, fmt.Errorf("object state record missing obj_type")
	}
	ref := geometry.NewReferenceFrame(arrayVec(w.Reference.X), arrayQuat(w.Reference.Q), nil)
	anchor := geometry.BoxAnchor(w.Box.WhereIsT)
	if anchor == "" {
		anchor = geometry.AnchorBottom
	}
	position := geometry.NewPosition(arrayVec(w.Position), ref)
	att := geometry.NewAttitude(arrayQuat(w.Attitude), ref)
	obj := &ObjectState{
		Type:      w.ObjType,
		ID:        w.ID,
		Timestamp: w.Timestamp,
		Position:  position,
		Attitude:  att,
		Box:       geometry.NewBox3D(position, att, w.Box.HWL[0], w.Box.HWL[1], w.Box.HWL[2], anchor),
		Occlusion: Occlusion(w.Occlusion),
	}
	if w.Velocity != nil {
		obj.Velocity = &geometry.Velocity{V: arrayVec(*w.Velocity), Ref: ref}
	}
	if w.Acceleration != nil {
		obj.Acceleration = &geometry.Acceleration{V: arrayVec(*w.Acceleration), Ref: ref}
	}
	if w.AngularVelocity != nil {
		obj.AngularVelocity = &geometry.AngularVelocity{Q: arrayQuat(*w.AngularVelocity), Ref: ref}
	}
	return obj, nil
}

// DecodeContainer parses a whole-file container record into its objects.
func DecodeContainer(line string) (*Container, error) {
	var record jsonContainerRecord
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return nil, fmt.Errorf("decode container: %w", err)
	}
	if record.Container == nil {
		return nil, fmt.Errorf("record has no %q key", containerMarker)
	}
	out := &Container{
		Source:    record.Container.Source,
		Frame:     record.Container.Frame,
		Timestamp: record.Container.Timestamp,
	}
	for i, raw := range record.Container.Objects {
		var wire jsonObjectState
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("container object %d: %w", i, err)
		}
		obj, err := wire.toObjectState()
		if err != nil {
			return nil, fmt.Errorf("container object %d: %w", i, err)
		}
		out.Objects = append(out.Objects, obj)
	}
	return out, nil
}

func vecArray(v r3.Vec) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

func arrayVec(a [3]float64) r3.Vec {
	return r3.Vec{X: a[0], Y: a[1], Z: a[2]}
}

func quatArray(q quat.Number) [4]float64 {
	return [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}
}

func arrayQuat(a [4]float64) quat.Number {
	return quat.Number{Real: a[0], Imag: a[1], Jmag: a[2], Kmag: a[3]}
}
