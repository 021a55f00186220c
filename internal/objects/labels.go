package objects

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/avscene/internal/geometry"
)

// Label line formats, discriminated by the leading token (or a leading
// '{' for the JSON variant). Field offsets are fixed per variant and must
// not change: existing corpora depend on them.
const (
	FormatNuScenes = "nuscenes"
	FormatKittiV2  = "kitti-v2"
)

const sentinelUnset = "None"

// ParseOriginLine decodes an embedded reference-frame declaration of the
// form "origin x y z qw qx qy qz", anchored at the global origin.
func ParseOriginLine(line string) (*geometry.ReferenceFrame, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 || tokens[0] != "origin" {
		return nil, fmt.Errorf("origin line must start with %q, got %q", "origin", line)
	}
	if len(tokens) < 8 {
		return nil, fmt.Errorf("origin line needs 7 numeric fields, got %d", len(tokens)-1)
	}
	vals, err := parseFloats(tokens[1:8], "origin")
	if err != nil {
		return nil, err
	}
	x := r3.Vec{X: vals[0], Y: vals[1], Z: vals[2]}
	q := quat.Number{Real: vals[3], Imag: vals[4], Jmag: vals[5], Kmag: vals[6]}
	return geometry.NewReferenceFrame(x, q, nil), nil
}

// EncodeOriginLine writes a frame's global pose in origin-line form.
func EncodeOriginLine(f *geometry.ReferenceFrame) string {
	x := f.GlobalPosition()
	q := f.GlobalRotation()
	return strings.Join([]string{
		"origin",
		ftoa(x.X), ftoa(x.Y), ftoa(x.Z),
		ftoa(q.Real), ftoa(q.Imag), ftoa(q.Jmag), ftoa(q.Kmag),
	}, " ")
}

// ParseLabelLine decodes one label record into the canonical object state.
// Dispatch is purely syntactic: the first token selects the text variant,
// a leading '{' selects the JSON variant. The fallback frame is only
// consulted by the untagged variant, which carries no per-line frame.
func ParseLabelLine(line string, fallback *geometry.ReferenceFrame) (*ObjectState, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.HasPrefix(line, "{") {
		return DecodeJSON(line)
	}
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty label line")
	}
	switch tokens[0] {
	case FormatNuScenes:
		return parseNuScenes(tokens)
	case FormatKittiV2:
		return parseKittiV2(tokens)
	default:
		return parseKittiStatic(tokens, fallback)
	}
}

// parseNuScenes decodes the simulation-origin style variant. Token layout
// (after the tag and one record-kind token): timestamp, ID, type,
// occlusion code, position(3), velocity(3), acceleration(3), hwl(3),
// orientation quaternion(4), box anchor, trailing origin declaration.
// The stored quaternion is the object-to-frame rotation and is conjugated
// on decode.
func parseNuScenes(tokens []string) (*ObjectState, error) {
	const originAt = 23
	if len(tokens) < originAt+8 {
		return nil, fmt.Errorf("nuscenes label needs %d tokens, got %d", originAt+8, len(tokens))
	}
	idx := 2
	ts, err := parseFloat(tokens[idx], "timestamp")
	if err != nil {
		return nil, err
	}
	id := ParseID(tokens[idx+1])
	objType := tokens[idx+2]
	occCode, err := strconv.Atoi(tokens[idx+3])
	if err != nil {
		return nil, fmt.Errorf("occlusion code %q: %w", tokens[idx+3], err)
	}
	idx += 4

	pos, err := parseFloats(tokens[idx:idx+3], "position")
	if err != nil {
		return nil, err
	}
	idx += 3
	vel, err := parseOptionalVec(tokens[idx:idx+3], "velocity")
	if err != nil {
		return nil, err
	}
	idx += 3
	acc, err := parseOptionalVec(tokens[idx:idx+3], "acceleration")
	if err != nil {
		return nil, err
	}
	idx += 3
	hwl, err := parseFloats(tokens[idx:idx+3], "box size")
	if err != nil {
		return nil, err
	}
	idx += 3
	qv, err := parseFloats(tokens[idx:idx+4], "orientation")
	if err != nil {
		return nil, err
	}
	idx += 4
	anchor, err := parseAnchor(tokens[idx])
	if err != nil {
		return nil, err
	}
	idx++

	ref, err := ParseOriginLine(strings.Join(tokens[idx:], " "))
	if err != nil {
		return nil, err
	}

	qLine := quat.Number{Real: qv[0], Imag: qv[1], Jmag: qv[2], Kmag: qv[3]}
	att := geometry.NewAttitude(geometry.QuatConj(qLine), ref)
	position := geometry.NewPosition(r3.Vec{X: pos[0], Y: pos[1], Z: pos[2]}, ref)

	obj := &ObjectState{
		Type:      objType,
		ID:        id,
		Timestamp: ts,
		Position:  position,
		Attitude:  att,
		Box:       geometry.NewBox3D(position, att, hwl[0], hwl[1], hwl[2], anchor),
		Occlusion: Occlusion(occCode),
	}
	if vel != nil {
		obj.Velocity = &geometry.Velocity{V: *vel, Ref: ref}
	}
	if acc != nil {
		obj.Acceleration = &geometry.Acceleration{V: *acc, Ref: ref}
	}
	return obj, nil
}

// parseKittiV2 decodes the converted-raw style variant. Token layout:
// timestamp, ID, type, alpha, 2D box(4), hwl(3), translation(3), yaw,
// score, trailing origin declaration. Orientation is the yaw angle
// composed with the frame's own orientation; occlusion is always unknown.
func parseKittiV2(tokens []string) (*ObjectState, error) {
	const originAt = 17
	if len(tokens) < originAt+8 {
		return nil, fmt.Errorf("kitti-v2 label needs %d tokens, got %d", originAt+8, len(tokens))
	}
	ts, err := parseFloat(tokens[1], "timestamp")
	if err != nil {
		return nil, err
	}
	id := ParseID(tokens[2])
	objType := tokens[3]
	if _, err := parseFloat(tokens[4], "alpha"); err != nil {
		return nil, err
	}
	if _, err := parseFloats(tokens[5:9], "2d box"); err != nil {
		return nil, err
	}
	hwl, err := parseFloats(tokens[9:12], "box size")
	if err != nil {
		return nil, err
	}
	pos, err := parseFloats(tokens[12:15], "translation")
	if err != nil {
		return nil, err
	}
	yaw, err := parseFloat(tokens[15], "yaw")
	if err != nil {
		return nil, err
	}
	if _, err := parseFloat(tokens[16], "score"); err != nil {
		return nil, err
	}
	ref, err := ParseOriginLine(strings.Join(tokens[originAt:], " "))
	if err != nil {
		return nil, err
	}

	qGlobal := geometry.QuatMul(ref.GlobalRotation(), geometry.QuatFromYaw(yaw))
	att := geometry.AttitudeFromGlobal(qGlobal, ref)
	position := geometry.NewPosition(r3.Vec{X: pos[0], Y: pos[1], Z: pos[2]}, ref)

	return &ObjectState{
		Type:      objType,
		ID:        id,
		Timestamp: ts,
		Position:  position,
		Attitude:  att,
		Box:       geometry.NewBox3D(position, att, hwl[0], hwl[1], hwl[2], geometry.AnchorBottom),
		Occlusion: OcclusionUnknown,
	}, nil
}

// parseKittiStatic decodes the untagged KITTI static variant: type,
// truncation, occlusion flag, alpha, 2D box(4), hwl(3), camera-frame
// translation(3), rotation_y. The line carries no frame, so the caller
// must supply the camera calibration reference as fallback. Orientation
// composes the fixed camera-to-standard rotation with a yaw-only rotation.
func parseKittiStatic(tokens []string, fallback *geometry.ReferenceFrame) (*ObjectState, error) {
	if fallback == nil {
		return nil, fmt.Errorf("label format %q carries no reference frame and no fallback was supplied", tokens[0])
	}
	if len(tokens) < 15 {
		return nil, fmt.Errorf("kitti label needs 15 tokens, got %d", len(tokens))
	}
	objType := tokens[0]
	if _, err := parseFloats(tokens[4:8], "2d box"); err != nil {
		return nil, err
	}
	hwl, err := parseFloats(tokens[8:11], "box size")
	if err != nil {
		return nil, err
	}
	pos, err := parseFloats(tokens[11:14], "translation")
	if err != nil {
		return nil, err
	}
	ry, err := parseFloat(tokens[14], "rotation_y")
	if err != nil {
		return nil, err
	}

	yaw := -ry - math.Pi/2
	att := geometry.NewAttitude(
		geometry.QuatMul(geometry.QuatConj(geometry.QCamToStd), geometry.QuatFromYaw(yaw)),
		fallback,
	)
	position := geometry.NewPosition(r3.Vec{X: pos[0], Y: pos[1], Z: pos[2]}, fallback)

	return &ObjectState{
		Type:      objType,
		ID:        SynthesizeID(),
		Timestamp: 0,
		Position:  position,
		Attitude:  att,
		Box:       geometry.NewBox3D(position, att, hwl[0], hwl[1], hwl[2], geometry.AnchorBottom),
		Occlusion: OcclusionUnknown,
	}, nil
}

// EncodeNuScenes writes an object in the simulation-origin variant.
func EncodeNuScenes(o *ObjectState) string {
	qLine := geometry.QuatConj(o.Attitude.Q)
	tokens := []string{
		FormatNuScenes, "object",
		ftoa(o.Timestamp),
		o.ID.String(),
		o.Type,
		strconv.Itoa(int(o.Occlusion)),
	}
	tokens = append(tokens, vecTokens(o.Position.V)...)
	tokens = append(tokens, optionalVecTokens(velVec(o.Velocity))...)
	tokens = append(tokens, optionalVecTokens(accVec(o.Acceleration))...)
	tokens = append(tokens, ftoa(o.Box.H), ftoa(o.Box.W), ftoa(o.Box.L))
	tokens = append(tokens, ftoa(qLine.Real), ftoa(qLine.Imag), ftoa(qLine.Jmag), ftoa(qLine.Kmag))
	tokens = append(tokens, string(o.Box.Anchor))
	tokens = append(tokens, EncodeOriginLine(o.Reference()))
	return strings.Join(tokens, " ")
}

// EncodeKittiV2 writes an object in the converted-raw variant. The 2D box
// and alpha are not represented in the canonical state and encode as
// zeros; orientation round-trips only through its yaw component, which is
// all the format can carry.
func EncodeKittiV2(o *ObjectState) string {
	yaw := geometry.YawOf(o.Attitude.Q)
	tokens := []string{
		FormatKittiV2,
		ftoa(o.Timestamp),
		o.ID.String(),
		o.Type,
		"0",                // alpha
		"0", "0", "0", "0", // 2d box
		ftoa(o.Box.H), ftoa(o.Box.W), ftoa(o.Box.L),
	}
	tokens = append(tokens, vecTokens(o.Position.V)...)
	tokens = append(tokens, ftoa(yaw), "1")
	tokens = append(tokens, EncodeOriginLine(o.Reference()))
	return strings.Join(tokens, " ")
}

func parseAnchor(token string) (geometry.BoxAnchor, error) {
	switch geometry.BoxAnchor(token) {
	case geometry.AnchorBottom, geometry.AnchorCenter:
		return geometry.BoxAnchor(token), nil
	default:
		return "", fmt.Errorf("unknown box anchor %q", token)
	}
}

func parseFloat(token, field string) (float64, error) {
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, fmt.Errorf("%s field %q: %w", field, token, err)
	}
	return v, nil
}

func parseFloats(tokens []string, field string) ([]float64, error) {
	out := make([]float64, len(tokens))
	for i, tok := range tokens {
		v, err := parseFloat(tok, field)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// parseOptionalVec treats a field whose every token is the unset sentinel
// as absent, not zero. A mix of sentinel and numeric tokens is malformed.
func parseOptionalVec(tokens []string, field string) (*r3.Vec, error) {
	unset := 0
	for _, tok := range tokens {
		if tok == sentinelUnset {
			unset++
		}
	}
	if unset == len(tokens) {
		return nil, nil
	}
	if unset > 0 {
		return nil, fmt.Errorf("%s field mixes %q and numeric tokens", field, sentinelUnset)
	}
	vals, err := parseFloats(tokens, field)
	if err != nil {
		return nil, err
	}
	return &r3.Vec{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}

func vecTokens(v r3.Vec) []string {
	return []string{ftoa(v.X), ftoa(v.Y), ftoa(v.Z)}
}

func optionalVecTokens(v *r3.Vec) []string {
	if v == nil {
		return []string{sentinelUnset, sentinelUnset, sentinelUnset}
	}
	return vecTokens(*v)
}

func velVec(v *geometry.Velocity) *r3.Vec {
	if v == nil {
		return nil
	}
	return &v.V
}

func accVec(a *geometry.Acceleration) *r3.Vec {
	if a == nil {
		return nil
	}
	return &a.V
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
