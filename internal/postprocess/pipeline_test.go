package postprocess

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/avscene/internal/geometry"
	"github.com/banshee-data/avscene/internal/objects"
	"github.com/banshee-data/avscene/internal/scene"
	"github.com/banshee-data/avscene/internal/sensors"
)

const pipelineConfig = `{
  "name": "pipeline-scene",
  "sensors": [
    {"name": "CAM_FRONT", "type": "camera", "ext": "png"},
    {"name": "LIDAR_TOP", "type": "lidar", "ext": "bin"},
    {"name": "LIDAR_INFRA1", "type": "lidar", "ext": "bin"},
    {"name": "RADAR_FRONT", "type": "radar", "ext": "bin"}
  ]
}`

// Camera mounted looking along ego +X with optical axes (QCamToStd).
const camCalib = `{"anchor":"ego","reference":{"x":[1.5,0,1.2],"q":[0.5,-0.5,0.5,-0.5]},` +
	`"P":[100,0,320,0,0,100,240,0,0,0,1,0],"img_shape":[480,640]}`

const lidarTopCalib = `{"anchor":"ego","reference":{"x":[0,0,0],"q":[1,0,0,0]}}`

const lidarInfraCalib = `{"anchor":"global","reference":{"x":[0,50,0],"q":[1,0,0,0]}}`

func mustWrite(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func labeled(typ string, id int64, p r3.Vec) *objects.ObjectState {
	g := geometry.GlobalOrigin()
	return &objects.ObjectState{
		Type:     typ,
		ID:       objects.NumericID(id),
		Position: geometry.NewPosition(p, g),
		Attitude: geometry.NewAttitude(geometry.QIdentity, g),
		Box: geometry.NewBox3D(
			geometry.NewPosition(p, g),
			geometry.NewAttitude(geometry.QIdentity, g),
			1.6, 2, 4.7, geometry.AnchorBottom,
		),
		Occlusion: objects.OcclusionUnknown,
	}
}

func cloudBytes(t *testing.T, points []sensors.LidarPoint) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := sensors.WritePointCloud(&buf, &sensors.PointCloud{Points: points}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// writePipelineScene lays out six frames; frames 1..4 survive the
// default test trim. The camera calibration is missing for frame 1 to
// exercise the warm-up gap.
func writePipelineScene(t *testing.T, root, name string) {
	t.Helper()
	dir := filepath.Join(root, name)
	mustWrite(t, filepath.Join(dir, "config.json"), []byte(pipelineConfig))

	var ts strings.Builder
	for frame := 0; frame <= 5; frame++ {
		fmt.Fprintf(&ts, "%d %.1f\n", frame, float64(frame)*0.1)
	}
	mustWrite(t, filepath.Join(dir, "timestamps", "CAM_FRONT.txt"), []byte(ts.String()))

	topCloud := cloudBytes(t, func() []sensors.LidarPoint {
		var pts []sensors.LidarPoint
		for i := 0; i < 10; i++ {
			pts = append(pts, sensors.LidarPoint{X: 20, Y: float32(i)*0.06 - 0.3, Z: 0.5})
		}
		return pts
	}())
	infraCloud := cloudBytes(t, func() []sensors.LidarPoint {
		var pts []sensors.LidarPoint
		for i := 0; i < 10; i++ {
			pts = append(pts, sensors.LidarPoint{X: float32(i)*0.1 - 0.5, Y: -50, Z: 0.5})
		}
		return pts
	}())

	for frame := 1; frame <= 4; frame++ {
		ego := labeled("ego", 0, r3.Vec{})
		mustWrite(t, filepath.Join(dir, "ego", fmt.Sprintf("ego-%06d.txt", frame)),
			[]byte(objects.EncodeNuScenes(ego)+"\n"))

		labels := objects.EncodeNuScenes(labeled("car", 1, r3.Vec{X: 20})) + "\n" +
			objects.EncodeNuScenes(labeled("car", 2, r3.Vec{X: -20})) + "\n"
		mustWrite(t, filepath.Join(dir, "objects_global", scene.ObjectFileName(frame)), []byte(labels))

		if frame >= 2 {
			mustWrite(t, filepath.Join(dir, "calibration", "CAM_FRONT", fmt.Sprintf("calib-%06d.json", frame)),
				[]byte(camCalib))
		}
		mustWrite(t, filepath.Join(dir, "calibration", "LIDAR_TOP", fmt.Sprintf("calib-%06d.json", frame)),
			[]byte(lidarTopCalib))
		mustWrite(t, filepath.Join(dir, "calibration", "LIDAR_INFRA1", fmt.Sprintf("calib-%06d.json", frame)),
			[]byte(lidarInfraCalib))

		mustWrite(t, filepath.Join(dir, "data", "LIDAR_TOP", fmt.Sprintf("LIDAR_TOP-%06d.bin", frame)), topCloud)
		mustWrite(t, filepath.Join(dir, "data", "LIDAR_INFRA1", fmt.Sprintf("LIDAR_INFRA1-%06d.bin", frame)), infraCloud)
	}
}

func testParams(multi bool) Params {
	p := DefaultParams()
	p.FrameStart = 1
	p.FrameEndTrim = 1
	p.CalibWarmupFrames = 1
	p.Multi = multi
	return p
}

func runPipeline(t *testing.T, multi bool) (*scene.Dataset, *SceneResult) {
	t.Helper()
	root := t.TempDir()
	writePipelineScene(t, root, "scene-000")
	d, err := scene.Open(root, "scene-000")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	res, err := New(testParams(multi)).ProcessScene(d)
	if err != nil {
		t.Fatalf("ProcessScene: %v", err)
	}
	return d, res
}

func TestProcessSceneWritesAllPasses(t *testing.T) {
	d, res := runPipeline(t, false)

	// Ego pass: 4 frames. Camera: frames 2..4 (frame 1 has no
	// calibration yet). Two lidars: 4 frames each.
	if want := 4 + 3 + 4 + 4; res.FramesWritten != want {
		t.Fatalf("FramesWritten = %d, want %d", res.FramesWritten, want)
	}

	egoObjs, err := d.Objects(2, EgoSensorName, scene.Filters{})
	if err != nil {
		t.Fatalf("ego objects: %v", err)
	}
	if len(egoObjs) != 2 {
		t.Fatalf("ego pass kept %d objects, want 2", len(egoObjs))
	}
	for _, o := range egoObjs {
		// Ego sits at the global origin, so ego-frame coordinates match.
		if got := o.Position.V.X; got != 20 && got != -20 {
			t.Fatalf("ego-frame object at x=%v, want ±20", got)
		}
	}
}

func TestCameraPassCullsAndEstimatesOcclusion(t *testing.T) {
	d, _ := runPipeline(t, false)

	objs, err := d.Objects(3, "CAM_FRONT", scene.Filters{})
	if err != nil {
		t.Fatalf("camera objects: %v", err)
	}
	// The car behind the camera is culled by the FOV test; the car ahead
	// is visible to the lidar fallback.
	if len(objs) != 1 {
		t.Fatalf("camera pass kept %d objects, want 1", len(objs))
	}
	o := objs[0]
	if o.ID.Int() != 1 {
		t.Fatalf("kept object ID %v, want 1", o.ID)
	}
	if o.Occlusion != objects.OcclusionVisible {
		t.Fatalf("occlusion = %v, want visible", o.Occlusion)
	}
	// In the camera's optical frame the car ahead sits along +Z.
	p := o.Position.InFrame(geometry.GlobalOrigin())
	if !geometry.VecNearEqual(p.V, r3.Vec{X: 20}, 1e-6) {
		t.Fatalf("object global position drifted to %v", p.V)
	}
}

func TestCalibWarmupGapIsSilent(t *testing.T) {
	d, res := runPipeline(t, false)

	// Frame 1 has no camera calibration: skipped without a warning and
	// without an output file.
	for _, w := range res.Warnings {
		if strings.Contains(w, "CAM_FRONT frame 1") {
			t.Fatalf("warm-up gap produced warning %q", w)
		}
	}
	if _, err := d.Objects(1, "CAM_FRONT", scene.Filters{}); err == nil {
		t.Fatal("frame 1 should have no camera label file")
	}
}

func TestRadarSensorSkippedWithWarning(t *testing.T) {
	_, res := runPipeline(t, false)
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "RADAR_FRONT") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no radar warning in %v", res.Warnings)
	}
	for _, s := range res.Sensors {
		if s == "RADAR_FRONT" {
			t.Fatal("radar should not be listed as processed")
		}
	}
}

func TestInfrastructureLidarSeesEgo(t *testing.T) {
	d, _ := runPipeline(t, false)

	objs, err := d.Objects(2, "LIDAR_INFRA1", scene.Filters{})
	if err != nil {
		t.Fatalf("infra objects: %v", err)
	}
	// The infra cloud only returns points at the ego location, so both
	// cars read as completely occluded and only the injected ego stays.
	if len(objs) != 1 {
		t.Fatalf("infra pass kept %d objects, want 1", len(objs))
	}
	if objs[0].Type != "ego" {
		t.Fatalf("kept object type %q, want ego", objs[0].Type)
	}
}

func TestRoofLidarDropsOccludedCar(t *testing.T) {
	d, _ := runPipeline(t, false)

	objs, err := d.Objects(4, "LIDAR_TOP", scene.Filters{})
	if err != nil {
		t.Fatalf("lidar objects: %v", err)
	}
	if len(objs) != 1 {
		t.Fatalf("lidar pass kept %d objects, want 1", len(objs))
	}
	if objs[0].ID.Int() != 1 || objs[0].Occlusion != objects.OcclusionVisible {
		t.Fatalf("kept %+v, want visible car 1", objs[0])
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	seq, _ := runPipeline(t, false)
	par, _ := runPipeline(t, true)

	seqFiles := readAllLabelFiles(t, seq.Root)
	parFiles := readAllLabelFiles(t, par.Root)
	if len(seqFiles) != len(parFiles) {
		t.Fatalf("sequential wrote %d files, parallel %d", len(seqFiles), len(parFiles))
	}
	for rel, want := range seqFiles {
		got, ok := parFiles[rel]
		if !ok {
			t.Fatalf("parallel run missing %s", rel)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("parallel output differs for %s", rel)
		}
	}
}

func readAllLabelFiles(t *testing.T, sceneRoot string) map[string][]byte {
	t.Helper()
	out := map[string][]byte{}
	base := filepath.Join(sceneRoot, "objects_sensor")
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[rel] = data
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", base, err)
	}
	return out
}

func TestWorkerCount(t *testing.T) {
	cases := []struct {
		n, chunk, cap, want int
	}{
		{0, 10, 100, 1},
		{5, 10, 100, 1},
		{100, 10, 100, 10},
		{5000, 10, 100, 100},
		{100, 20, 20, 5},
	}
	for _, tc := range cases {
		if got := workerCount(tc.n, tc.chunk, tc.cap); got != tc.want {
			t.Fatalf("workerCount(%d,%d,%d) = %d, want %d", tc.n, tc.chunk, tc.cap, got, tc.want)
		}
	}
}

func TestSceneTooShort(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "tiny")
	mustWrite(t, filepath.Join(dir, "config.json"), []byte(pipelineConfig))
	mustWrite(t, filepath.Join(dir, "timestamps", "CAM_FRONT.txt"), []byte("0 0.0\n1 0.1\n"))
	d, err := scene.Open(root, "tiny")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := New(testParams(false)).ProcessScene(d); err == nil {
		t.Fatal("expected error for scene shorter than the trim window")
	}
}

const loneCameraConfig = `{
  "name": "lone-camera",
  "sensors": [
    {"name": "CAM_FRONT", "type": "camera", "ext": "png"}
  ]
}`

func labeledOcc(typ string, id int64, p r3.Vec, occ objects.Occlusion) *objects.ObjectState {
	o := labeled(typ, id, p)
	o.Occlusion = occ
	return o
}

// A camera with no depth twin and no lidar has nothing to estimate
// occlusion from. The labeled states must survive untouched, and the
// complete/unknown drop still applies to them.
func TestNoOcclusionSourceKeepsLabeledStates(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "scene-000")
	mustWrite(t, filepath.Join(dir, "config.json"), []byte(loneCameraConfig))
	mustWrite(t, filepath.Join(dir, "timestamps", "CAM_FRONT.txt"), []byte("0 0.0\n1 0.1\n2 0.2\n"))

	ego := labeled("ego", 0, r3.Vec{})
	mustWrite(t, filepath.Join(dir, "ego", "ego-000001.txt"),
		[]byte(objects.EncodeNuScenes(ego)+"\n"))
	labels := objects.EncodeNuScenes(labeledOcc("car", 1, r3.Vec{X: 10, Y: 1}, objects.OcclusionVisible)) + "\n" +
		objects.EncodeNuScenes(labeledOcc("car", 2, r3.Vec{X: 10, Y: -1}, objects.OcclusionComplete)) + "\n" +
		objects.EncodeNuScenes(labeledOcc("car", 3, r3.Vec{X: 10}, objects.OcclusionUnknown)) + "\n"
	mustWrite(t, filepath.Join(dir, "objects_global", scene.ObjectFileName(1)), []byte(labels))
	mustWrite(t, filepath.Join(dir, "calibration", "CAM_FRONT", "calib-000001.json"), []byte(camCalib))

	d, err := scene.Open(root, "scene-000")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	res, err := New(testParams(false)).ProcessScene(d)
	if err != nil {
		t.Fatalf("ProcessScene: %v", err)
	}

	objs, err := d.Objects(1, "CAM_FRONT", scene.Filters{})
	if err != nil {
		t.Fatalf("Objects: %v", err)
	}
	if len(objs) != 1 {
		t.Fatalf("kept %d objects, want 1", len(objs))
	}
	if objs[0].ID != objects.NumericID(1) || objs[0].Occlusion != objects.OcclusionVisible {
		t.Fatalf("kept ID=%v occlusion=%v, want ID=1 visible", objs[0].ID, objs[0].Occlusion)
	}

	var noSource int
	for _, w := range res.Warnings {
		if strings.Contains(w, "no occlusion source") {
			noSource++
		}
	}
	if noSource != 1 {
		t.Fatalf("no-source warnings = %d, want 1", noSource)
	}
}

func TestLidarFallbackName(t *testing.T) {
	cases := []struct{ name, want string }{
		{"CAM_FRONT", "LIDAR_TOP"},
		{"CAM_INFRA1", "LIDAR_INFRA1"},
		{"CAM_Infra2", "LIDAR_Infra2"},
	}
	for _, tc := range cases {
		if got := lidarFallbackName(tc.name); got != tc.want {
			t.Fatalf("lidarFallbackName(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}
