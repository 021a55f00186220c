package objects

import (
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/avscene/internal/geometry"
)

const tol = 1e-9

func synthObject(t *testing.T) *ObjectState {
	t.Helper()
	ref := geometry.NewReferenceFrame(r3.Vec{X: 12, Y: -3, Z: 0.5}, geometry.QuatFromYaw(0.3), nil)
	pos := geometry.NewPosition(r3.Vec{X: 4.5, Y: 1.25, Z: 0.75}, ref)
	att := geometry.NewAttitude(geometry.QuatFromYaw(1.1), ref)
	vel := &geometry.Velocity{V: r3.Vec{X: 6, Y: -0.5, Z: 0}, Ref: ref}
	return &ObjectState{
		Type:      "car",
		ID:        NumericID(42),
		Timestamp: 3.25,
		Position:  pos,
		Attitude:  att,
		Velocity:  vel,
		Box:       geometry.NewBox3D(pos, att, 1.6, 1.8, 4.2, geometry.AnchorBottom),
		Occlusion: OcclusionPartial,
	}
}

func assertObjectsMatch(t *testing.T, got, want *ObjectState) {
	t.Helper()
	if got.Type != want.Type {
		t.Errorf("type = %q, want %q", got.Type, want.Type)
	}
	if got.ID.String() != want.ID.String() {
		t.Errorf("ID = %v, want %v", got.ID, want.ID)
	}
	if math.Abs(got.Timestamp-want.Timestamp) > tol {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}
	if !geometry.VecNearEqual(got.Position.V, want.Position.V, tol) {
		t.Errorf("position = %+v, want %+v", got.Position.V, want.Position.V)
	}
	if !geometry.QuatNearEqual(got.Attitude.Q, want.Attitude.Q, tol) {
		t.Errorf("attitude = %+v, want %+v", got.Attitude.Q, want.Attitude.Q)
	}
	if math.Abs(got.Box.H-want.Box.H) > tol || math.Abs(got.Box.W-want.Box.W) > tol || math.Abs(got.Box.L-want.Box.L) > tol {
		t.Errorf("box hwl = %v,%v,%v want %v,%v,%v", got.Box.H, got.Box.W, got.Box.L, want.Box.H, want.Box.W, want.Box.L)
	}
	if got.Box.Anchor != want.Box.Anchor {
		t.Errorf("anchor = %q, want %q", got.Box.Anchor, want.Box.Anchor)
	}
	if got.Occlusion != want.Occlusion {
		t.Errorf("occlusion = %v, want %v", got.Occlusion, want.Occlusion)
	}
}

func TestNuScenesRoundTrip(t *testing.T) {
	want := synthObject(t)
	line := EncodeNuScenes(want)
	got, err := ParseLabelLine(line, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	assertObjectsMatch(t, got, want)
	if got.Velocity == nil {
		t.Fatal("velocity lost in round trip")
	}
	if !geometry.VecNearEqual(got.Velocity.V, want.Velocity.V, tol) {
		t.Errorf("velocity = %+v, want %+v", got.Velocity.V, want.Velocity.V)
	}
	if got.Acceleration != nil {
		t.Error("absent acceleration decoded as present")
	}
	// The decoded frame must resolve to the same global pose.
	if !geometry.VecNearEqual(got.Reference().GlobalPosition(), want.Reference().GlobalPosition(), tol) {
		t.Errorf("frame origin = %+v, want %+v",
			got.Reference().GlobalPosition(), want.Reference().GlobalPosition())
	}
}

func TestKittiV2RoundTrip(t *testing.T) {
	want := synthObject(t)
	want.Velocity = nil
	want.Occlusion = OcclusionUnknown
	line := EncodeKittiV2(want)
	got, err := ParseLabelLine(line, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	assertObjectsMatch(t, got, want)
	if got.Velocity != nil {
		t.Error("kitti-v2 should never carry velocity")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	want := synthObject(t)
	want.ID = OpaqueID("a3f9c2e1")
	want.AngularVelocity = &geometry.AngularVelocity{Q: geometry.QuatFromYaw(0.05), Ref: want.Reference()}
	line, err := EncodeJSON(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasPrefix(line, "{") {
		t.Fatalf("JSON record must start with '{': %q", line)
	}
	got, err := ParseLabelLine(line, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	assertObjectsMatch(t, got, want)
	if got.ID.IsNumeric() {
		t.Error("opaque ID was coerced to numeric")
	}
	if got.AngularVelocity == nil {
		t.Fatal("angular velocity lost in round trip")
	}
	if !geometry.QuatNearEqual(got.AngularVelocity.Q, want.AngularVelocity.Q, tol) {
		t.Errorf("angular velocity = %+v, want %+v", got.AngularVelocity.Q, want.AngularVelocity.Q)
	}
}

func TestKittiStaticFallback(t *testing.T) {
	cam := geometry.NewReferenceFrame(r3.Vec{X: 1}, geometry.QCamToStd, nil)
	line := "car 0.0 0 -1.57 100 120 340 280 1.5 1.7 4.1 2.0 1.4 12.0 -1.5707963267948966"
	got, err := ParseLabelLine(line, cam)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != "car" {
		t.Errorf("type = %q", got.Type)
	}
	if !got.ID.IsNumeric() {
		t.Error("synthesized ID should be numeric")
	}
	if got.Timestamp != 0 {
		t.Errorf("timestamp = %v, want 0", got.Timestamp)
	}
	if got.Occlusion != OcclusionUnknown {
		t.Errorf("occlusion = %v, want unknown", got.Occlusion)
	}
	if !geometry.VecNearEqual(got.Position.V, r3.Vec{X: 2.0, Y: 1.4, Z: 12.0}, tol) {
		t.Errorf("position = %+v", got.Position.V)
	}
	// ry = -pi/2 means the object faces along the camera's optical axis:
	// yaw = -ry - pi/2 = 0, so body-forward maps to camera +Z.
	fwd := geometry.QuatRotate(got.Attitude.Q, r3.Vec{X: 1})
	if !geometry.VecNearEqual(fwd, r3.Vec{Z: 1}, tol) {
		t.Errorf("body forward in camera coords = %+v, want +Z", fwd)
	}
}

func TestKittiStaticWithoutFallbackFails(t *testing.T) {
	line := "car 0.0 0 -1.57 100 120 340 280 1.5 1.7 4.1 2.0 1.4 12.0 0.2"
	if _, err := ParseLabelLine(line, nil); err == nil {
		t.Fatal("expected error without fallback reference")
	}
}

func TestMalformedYawIsParseError(t *testing.T) {
	cam := geometry.NewReferenceFrame(r3.Vec{}, geometry.QCamToStd, nil)
	line := "car 0.0 0 -1.57 100 120 340 280 1.5 1.7 4.1 2.0 1.4 12.0 not-a-number"
	_, err := ParseLabelLine(line, cam)
	if err == nil {
		t.Fatal("malformed rotation_y must surface as a parse error")
	}
	if !strings.Contains(err.Error(), "rotation_y") {
		t.Errorf("error should name the field: %v", err)
	}
}

func TestMixedSentinelVelocityIsError(t *testing.T) {
	obj := synthObject(t)
	line := EncodeNuScenes(obj)
	// Corrupt one velocity component into the unset sentinel.
	tokens := strings.Fields(line)
	tokens[9] = "None"
	if _, err := ParseLabelLine(strings.Join(tokens, " "), nil); err == nil {
		t.Fatal("mixed None/numeric velocity must be malformed input")
	}
}

func TestAllSentinelVelocityIsAbsent(t *testing.T) {
	obj := synthObject(t)
	obj.Velocity = nil
	got, err := ParseLabelLine(EncodeNuScenes(obj), nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Velocity != nil {
		t.Errorf("unset velocity decoded as %+v, want absent", got.Velocity.V)
	}
}

func TestParseOriginLine(t *testing.T) {
	ref, err := ParseOriginLine("origin 1 2 3 1 0 0 0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !geometry.VecNearEqual(ref.X, r3.Vec{X: 1, Y: 2, Z: 3}, tol) {
		t.Errorf("origin position = %+v", ref.X)
	}

	cases := []string{
		"frame 1 2 3 1 0 0 0",
		"origin 1 2 3",
		"origin 1 2 x 1 0 0 0",
		"",
	}
	for _, line := range cases {
		if _, err := ParseOriginLine(line); err == nil {
			t.Errorf("ParseOriginLine(%q) should fail", line)
		}
	}
}

func TestOcclusionCeiling(t *testing.T) {
	cases := []struct {
		occ     Occlusion
		ceiling Occlusion
		pass    bool
	}{
		{OcclusionVisible, OcclusionVisible, true},
		{OcclusionPartial, OcclusionVisible, false},
		{OcclusionPartial, OcclusionPartial, true},
		{OcclusionComplete, OcclusionPartial, false},
		{OcclusionUnknown, OcclusionVisible, true},
		{OcclusionUnknown, OcclusionComplete, true},
	}
	for _, tc := range cases {
		if got := tc.occ.PassesCeiling(tc.ceiling); got != tc.pass {
			t.Errorf("%v.PassesCeiling(%v) = %v, want %v", tc.occ, tc.ceiling, got, tc.pass)
		}
	}
}

func TestParseIDVariants(t *testing.T) {
	if id := ParseID("17"); !id.IsNumeric() || id.Int() != 17 {
		t.Errorf("numeric token parsed as %v", id)
	}
	if id := ParseID("token-9f"); id.IsNumeric() {
		t.Errorf("opaque token coerced to numeric: %v", id)
	}
}

func TestContainerRoundTrip(t *testing.T) {
	obj := synthObject(t)
	encoded, err := EncodeJSON(obj)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	line := `{"datacontainer":{"source":"tracker","frame":7,"timestamp":1.5,"objects":[` + encoded + `]}}`
	if !IsContainerLine(line) {
		t.Fatal("container line not recognised")
	}
	dc, err := DecodeContainer(line)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dc.Frame != 7 || len(dc.Objects) != 1 {
		t.Fatalf("container = frame %d, %d objects", dc.Frame, len(dc.Objects))
	}
	assertObjectsMatch(t, dc.Objects[0], obj)
}

func TestChangeReferenceRoundTrip(t *testing.T) {
	obj := synthObject(t)
	orig := obj.Copy()
	frameB := geometry.NewReferenceFrame(r3.Vec{X: -4, Y: 9, Z: 1}, geometry.QuatFromYaw(-0.8), nil)

	obj.ChangeReference(frameB)
	obj.ChangeReference(orig.Reference())

	assertObjectsMatch(t, obj, orig)
	if !geometry.VecNearEqual(obj.Velocity.V, orig.Velocity.V, tol) {
		t.Errorf("velocity after A->B->A = %+v, want %+v", obj.Velocity.V, orig.Velocity.V)
	}
}
