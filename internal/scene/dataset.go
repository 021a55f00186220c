package scene

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/avscene/internal/calib"
	"github.com/banshee-data/avscene/internal/geometry"
	"github.com/banshee-data/avscene/internal/objects"
	"github.com/banshee-data/avscene/internal/sensors"
)

// Scene directory layout.
const (
	dirEgo           = "ego"
	dirGlobalObjects = "objects_global"
	dirSensorObjects = "objects_sensor"
	dirCalibration   = "calibration"
	dirData          = "data"
	dirTimestamps    = "timestamps"
)

// DefaultTimestampTolerance is the widest |measured - requested| gap
// FrameAtTimestamp accepts, in seconds.
const DefaultTimestampTolerance = 0.5

// Dataset reads one scene. Frame and timestamp tables are loaded lazily
// and memoized; a Dataset is safe for concurrent readers.
type Dataset struct {
	Root   string
	Name   string
	Config *Config

	mu        sync.Mutex
	frameMemo map[string][]frameStamp
}

type frameStamp struct {
	frame int
	ts    float64
}

// Open loads the named scene under root.
func Open(root, name string) (*Dataset, error) {
	dir := filepath.Join(root, name)
	cfg, err := loadConfig(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("open scene %s: %w", name, err)
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	return &Dataset{Root: dir, Name: name, Config: cfg, frameMemo: map[string][]frameStamp{}}, nil
}

// SensorName maps an alias to its canonical sensor name. Unknown names
// pass through unchanged.
func (d *Dataset) SensorName(name string) string {
	for _, s := range d.Config.Sensors {
		if s.Name == name {
			return s.Name
		}
		for _, a := range s.Aliases {
			if a == name {
				return s.Name
			}
		}
	}
	return name
}

// Sensor returns the config record for a sensor name or alias.
func (d *Dataset) Sensor(name string) (SensorInfo, error) {
	canonical := d.SensorName(name)
	for _, s := range d.Config.Sensors {
		if s.Name == canonical {
			return s, nil
		}
	}
	return SensorInfo{}, fmt.Errorf("scene %s has no sensor %q", d.Name, name)
}

func (d *Dataset) stamps(sensor string) ([]frameStamp, error) {
	sensor = d.SensorName(sensor)
	d.mu.Lock()
	defer d.mu.Unlock()
	if memo, ok := d.frameMemo[sensor]; ok {
		return memo, nil
	}
	path := filepath.Join(d.Root, dirTimestamps, sensor+".txt")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("timestamps for %s: %w", sensor, err)
	}
	defer f.Close()

	var out []frameStamp
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("timestamps for %s: bad line %q", sensor, line)
		}
		frame, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("timestamps for %s: frame %q: %w", sensor, fields[0], err)
		}
		ts, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("timestamps for %s: stamp %q: %w", sensor, fields[1], err)
		}
		out = append(out, frameStamp{frame: frame, ts: ts})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("timestamps for %s: %w", sensor, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].frame < out[j].frame })
	d.frameMemo[sensor] = out
	return out, nil
}

// Frames returns the sorted frame indices recorded for a sensor.
func (d *Dataset) Frames(sensor string) ([]int, error) {
	stamps, err := d.stamps(sensor)
	if err != nil {
		return nil, err
	}
	frames := make([]int, len(stamps))
	for i, s := range stamps {
		frames[i] = s.frame
	}
	return frames, nil
}

// Timestamps returns the sensor's timestamps in frame order.
func (d *Dataset) Timestamps(sensor string) ([]float64, error) {
	stamps, err := d.stamps(sensor)
	if err != nil {
		return nil, err
	}
	ts := make([]float64, len(stamps))
	for i, s := range stamps {
		ts[i] = s.ts
	}
	return ts, nil
}

// Timestamp returns the capture time of one frame of a sensor.
func (d *Dataset) Timestamp(frame int, sensor string) (float64, error) {
	stamps, err := d.stamps(sensor)
	if err != nil {
		return 0, err
	}
	for _, s := range stamps {
		if s.frame == frame {
			return s.ts, nil
		}
	}
	return 0, fmt.Errorf("sensor %s has no frame %d", sensor, frame)
}

// FrameAtTimestamp returns the sensor frame captured nearest ts. A
// tolerance of 0 means DefaultTimestampTolerance; the nearest frame
// further away than the tolerance is an error.
func (d *Dataset) FrameAtTimestamp(ts float64, sensor string, tolerance float64) (int, error) {
	if tolerance <= 0 {
		tolerance = DefaultTimestampTolerance
	}
	stamps, err := d.stamps(sensor)
	if err != nil {
		return 0, err
	}
	if len(stamps) == 0 {
		return 0, fmt.Errorf("sensor %s has no frames", sensor)
	}
	best, bestGap := stamps[0].frame, math.Abs(stamps[0].ts-ts)
	for _, s := range stamps[1:] {
		if gap := math.Abs(s.ts - ts); gap < bestGap {
			best, bestGap = s.frame, gap
		}
	}
	if bestGap > tolerance {
		return 0, fmt.Errorf("sensor %s has no frame within %.3fs of t=%.3f (nearest gap %.3fs)",
			sensor, tolerance, ts, bestGap)
	}
	return best, nil
}

// Ego returns the ego vehicle state for a frame.
func (d *Dataset) Ego(frame int) (*objects.ObjectState, error) {
	path := filepath.Join(d.Root, dirEgo, fmt.Sprintf("ego-%06d.txt", frame))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ego frame %d: %w", frame, err)
	}
	line := strings.TrimSpace(string(data))
	ego, err := objects.ParseLabelLine(line, nil)
	if err != nil {
		return nil, fmt.Errorf("ego frame %d: %w", frame, err)
	}
	return ego, nil
}

// EgoReference returns a reference frame anchored at the ego pose.
func (d *Dataset) EgoReference(frame int) (*geometry.ReferenceFrame, error) {
	ego, err := d.Ego(frame)
	if err != nil {
		return nil, err
	}
	return ego.AsReference(), nil
}

// Calibration returns a sensor's calibration for one frame. Ego-anchored
// records are composed with that frame's ego pose. A missing calibration
// file surfaces as an fs.ErrNotExist-wrapped error so callers can treat
// warm-up gaps separately from corrupt records.
func (d *Dataset) Calibration(frame int, sensor string) (*calib.Calibration, error) {
	sensor = d.SensorName(sensor)
	path := filepath.Join(d.Root, dirCalibration, sensor, fmt.Sprintf("calib-%06d.json", frame))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calibration %s frame %d: %w", sensor, frame, err)
	}
	// Ego pose is only needed for ego-anchored records; Decode rejects
	// ego-anchored records when it is missing.
	egoRef, err := d.EgoReference(frame)
	if err != nil {
		egoRef = nil
	}
	c, err := calib.Decode(data, egoRef)
	if err != nil {
		return nil, fmt.Errorf("calibration %s frame %d: %w", sensor, frame, err)
	}
	return c, nil
}

func (d *Dataset) dataPath(frame int, s SensorInfo) string {
	return filepath.Join(d.Root, dirData, s.Name, fmt.Sprintf("%s-%06d.%s", s.Name, frame, s.Ext))
}

// Image returns the raw encoded image bytes for a camera frame.
func (d *Dataset) Image(frame int, sensor string) (*sensors.ImageData, error) {
	s, err := d.Sensor(sensor)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.dataPath(frame, s))
	if err != nil {
		return nil, fmt.Errorf("image %s frame %d: %w", s.Name, frame, err)
	}
	return &sensors.ImageData{Meta: d.meta(frame, s), Bytes: data}, nil
}

// meta stamps a payload with its capture context. The timestamp is
// best-effort: sensors without a timestamp table report zero.
func (d *Dataset) meta(frame int, s SensorInfo) sensors.Meta {
	ts, _ := d.Timestamp(frame, s.Name)
	return sensors.Meta{SensorID: s.Name, Frame: frame, Timestamp: ts}
}

// DepthImage loads and decodes a depth camera frame.
func (d *Dataset) DepthImage(frame int, sensor string) (*sensors.DepthImage, error) {
	s, err := d.Sensor(sensor)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(d.dataPath(frame, s))
	if err != nil {
		return nil, fmt.Errorf("depth image %s frame %d: %w", s.Name, frame, err)
	}
	defer f.Close()
	img, err := sensors.ReadDepthImage(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("depth image %s frame %d: %w", s.Name, frame, err)
	}
	img.Meta = d.meta(frame, s)
	return img, nil
}

// Lidar loads a point cloud, tagged with the sensor's frame when the
// calibration for that frame is available.
func (d *Dataset) Lidar(frame int, sensor string) (*sensors.PointCloud, error) {
	s, err := d.Sensor(sensor)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(d.dataPath(frame, s))
	if err != nil {
		return nil, fmt.Errorf("lidar %s frame %d: %w", s.Name, frame, err)
	}
	defer f.Close()
	var ref *geometry.ReferenceFrame
	if c, err := d.Calibration(frame, s.Name); err == nil {
		ref = c.Reference
	}
	pc, err := sensors.ReadPointCloud(bufio.NewReader(f), ref)
	if err != nil {
		return nil, fmt.Errorf("lidar %s frame %d: %w", s.Name, frame, err)
	}
	pc.Meta = d.meta(frame, s)
	return pc, nil
}

// Radar loads a radar scan for one frame.
func (d *Dataset) Radar(frame int, sensor string) (*sensors.RadarScan, error) {
	s, err := d.Sensor(sensor)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(d.dataPath(frame, s))
	if err != nil {
		return nil, fmt.Errorf("radar %s frame %d: %w", s.Name, frame, err)
	}
	defer f.Close()
	var ref *geometry.ReferenceFrame
	if c, err := d.Calibration(frame, s.Name); err == nil {
		ref = c.Reference
	}
	rs, err := sensors.ReadRadarScan(bufio.NewReader(f), ref)
	if err != nil {
		return nil, fmt.Errorf("radar %s frame %d: %w", s.Name, frame, err)
	}
	rs.Meta = d.meta(frame, s)
	return rs, nil
}

// Filters narrows an object query. The zero value keeps everything.
type Filters struct {
	// WhitelistTypes, when non-empty, keeps only the listed obj types.
	WhitelistTypes []string
	// IgnoreTypes drops the listed obj types.
	IgnoreTypes []string
	// OcclusionCeiling drops objects more occluded than the ceiling.
	// Unknown occlusion always passes.
	OcclusionCeiling *objects.Occlusion
	// MaxDistance, when positive, drops objects further than this from
	// DistanceFrom (or their own frame's origin when DistanceFrom is nil).
	MaxDistance  float64
	DistanceFrom *geometry.ReferenceFrame
	// ToGlobal re-expresses every kept object in the global frame.
	ToGlobal bool
}

func (f Filters) keep(o *objects.ObjectState) bool {
	if len(f.WhitelistTypes) > 0 && !containsString(f.WhitelistTypes, o.Type) {
		return false
	}
	if containsString(f.IgnoreTypes, o.Type) {
		return false
	}
	if f.OcclusionCeiling != nil && !o.Occlusion.PassesCeiling(*f.OcclusionCeiling) {
		return false
	}
	if f.MaxDistance > 0 {
		var dist float64
		if f.DistanceFrom != nil {
			dist = o.Position.Distance(f.DistanceFrom)
		} else {
			dist = o.Position.Norm()
		}
		if dist > f.MaxDistance {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ObjectFileName is the label file name for one frame.
func ObjectFileName(frame int) string {
	return fmt.Sprintf("objects-%06d.txt", frame)
}

// GlobalObjects reads the frame's global-frame object labels.
func (d *Dataset) GlobalObjects(frame int, f Filters) ([]*objects.ObjectState, error) {
	path := filepath.Join(d.Root, dirGlobalObjects, ObjectFileName(frame))
	return d.loadObjectsFile(path, nil, f)
}

// Objects reads the frame's per-sensor object labels written by the
// postprocess pipeline.
func (d *Dataset) Objects(frame int, sensor string, f Filters) ([]*objects.ObjectState, error) {
	sensor = d.SensorName(sensor)
	path := filepath.Join(d.Root, dirSensorObjects, sensor, ObjectFileName(frame))
	var fallback *geometry.ReferenceFrame
	if c, err := d.Calibration(frame, sensor); err == nil {
		fallback = c.Reference
	}
	return d.loadObjectsFile(path, fallback, f)
}

func (d *Dataset) loadObjectsFile(path string, fallback *geometry.ReferenceFrame, f Filters) ([]*objects.ObjectState, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("objects file: %w", err)
	}
	defer file.Close()

	var out []*objects.ObjectState
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var parsed []*objects.ObjectState
		if objects.IsContainerLine(line) {
			c, err := objects.DecodeContainer(line)
			if err != nil {
				return nil, fmt.Errorf("objects file %s: %w", path, err)
			}
			parsed = c.Objects
		} else {
			o, err := objects.ParseLabelLine(line, fallback)
			if err != nil {
				return nil, fmt.Errorf("objects file %s: %w", path, err)
			}
			parsed = []*objects.ObjectState{o}
		}
		for _, o := range parsed {
			if !f.keep(o) {
				continue
			}
			if f.ToGlobal {
				o.ChangeReference(geometry.GlobalOrigin())
			}
			out = append(out, o)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("objects file %s: %w", path, err)
	}
	return out, nil
}

// SaveObjects writes per-sensor labels as one JSON record per line under
// objects_sensor/<sensor>/.
func (d *Dataset) SaveObjects(frame int, sensor string, objs []*objects.ObjectState) error {
	sensor = d.SensorName(sensor)
	dir := filepath.Join(d.Root, dirSensorObjects, sensor)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save objects: %w", err)
	}
	var b strings.Builder
	for _, o := range objs {
		line, err := objects.EncodeJSON(o)
		if err != nil {
			return fmt.Errorf("save objects frame %d: %w", frame, err)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	path := filepath.Join(dir, ObjectFileName(frame))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("save objects: %w", err)
	}
	return nil
}
