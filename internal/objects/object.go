// Package objects defines the canonical labeled-object representation and
// the decoders for the on-disk label line formats.
package objects

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"

	"github.com/banshee-data/avscene/internal/geometry"
)

// Occlusion classifies how visible an object is from a sensor.
type Occlusion int

const (
	// OcclusionUnknown means no depth or range source resolved visibility.
	OcclusionUnknown Occlusion = -1
	// OcclusionVisible means the object is essentially unobstructed.
	OcclusionVisible Occlusion = 0
	// OcclusionPartial means the object is partially obstructed.
	OcclusionPartial Occlusion = 1
	// OcclusionComplete means the object is fully obstructed.
	OcclusionComplete Occlusion = 2
)

func (o Occlusion) String() string {
	switch o {
	case OcclusionVisible:
		return "visible"
	case OcclusionPartial:
		return "partial"
	case OcclusionComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// PassesCeiling reports whether the occlusion state survives an
// occlusion-ceiling filter. Unknown always passes: an unresolved state is
// never grounds for dropping an object.
func (o Occlusion) PassesCeiling(ceiling Occlusion) bool {
	return o == OcclusionUnknown || o <= ceiling
}

// ID is an object identifier that is numeric when the source format
// provides one, and an opaque string token otherwise (hashed nuScenes
// instance tokens, for example).
type ID struct {
	num     int64
	str     string
	numeric bool
}

// NumericID builds an integer identifier.
func NumericID(n int64) ID {
	return ID{num: n, numeric: true}
}

// OpaqueID builds a string-token identifier.
func OpaqueID(s string) ID {
	return ID{str: s}
}

// ParseID converts a token to a numeric ID when possible, otherwise
// preserves it as an opaque token.
func ParseID(token string) ID {
	if n, err := strconv.ParseInt(token, 10, 64); err == nil {
		return NumericID(n)
	}
	return OpaqueID(token)
}

// SynthesizeID draws a random integer identifier for formats that carry
// none. Uniqueness is best effort only.
func SynthesizeID() ID {
	return NumericID(rand.Int63n(1_000_000))
}

// IsNumeric reports whether the ID holds an integer.
func (id ID) IsNumeric() bool { return id.numeric }

// Int returns the numeric value (0 for opaque IDs).
func (id ID) Int() int64 { return id.num }

func (id ID) String() string {
	if id.numeric {
		return strconv.FormatInt(id.num, 10)
	}
	return id.str
}

// MarshalJSON writes numeric IDs as JSON numbers and opaque IDs as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return json.Marshal(id.num)
	}
	return json.Marshal(id.str)
}

// UnmarshalJSON accepts either representation.
func (id *ID) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*id = NumericID(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("object ID must be a number or string: %s", data)
	}
	*id = ParseID(s)
	return nil
}

// ObjectState is the canonical, format-independent representation of one
// labeled object at one instant. All geometric fields are expressed in a
// single reference frame; ChangeReference is the only permitted mutation
// of that frame and retransforms every field consistently.
type ObjectState struct {
	Type            string
	ID              ID
	Timestamp       float64
	Position        geometry.Position
	Velocity        *geometry.Velocity
	Acceleration    *geometry.Acceleration
	Attitude        geometry.Attitude
	AngularVelocity *geometry.AngularVelocity
	Box             geometry.Box3D
	Occlusion       Occlusion
}

// Reference returns the frame all geometric fields are expressed in.
func (o *ObjectState) Reference() *geometry.ReferenceFrame {
	return o.Position.Ref
}

// ChangeReference re-expresses every geometric field in target.
func (o *ObjectState) ChangeReference(target *geometry.ReferenceFrame) {
	o.Position.ChangeReference(target)
	o.Attitude.ChangeReference(target)
	if o.Velocity != nil {
		o.Velocity.ChangeReference(target)
	}
	if o.Acceleration != nil {
		o.Acceleration.ChangeReference(target)
	}
	if o.AngularVelocity != nil {
		o.AngularVelocity.ChangeReference(target)
	}
	o.Box.ChangeReference(target)
}

// AsReference exposes the object's pose as a coordinate frame, anchored
// at the global origin. Used for the ego vehicle acting as a pseudo-sensor.
func (o *ObjectState) AsReference() *geometry.ReferenceFrame {
	pos := o.Position.InFrame(geometry.GlobalOrigin())
	return &geometry.ReferenceFrame{
		Name: fmt.Sprintf("%s-%s", o.Type, o.ID),
		X:    pos.V,
		Q:    o.Attitude.GlobalQuat(),
	}
}

// Copy returns a deep copy sharing no mutable state with o, so callers can
// reframe it without touching the source record.
func (o *ObjectState) Copy() *ObjectState {
	dup := *o
	if o.Velocity != nil {
		v := *o.Velocity
		dup.Velocity = &v
	}
	if o.Acceleration != nil {
		a := *o.Acceleration
		dup.Acceleration = &a
	}
	if o.AngularVelocity != nil {
		w := *o.AngularVelocity
		dup.AngularVelocity = &w
	}
	return &dup
}
