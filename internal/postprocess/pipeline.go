package postprocess

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/avscene/internal/calib"
	"github.com/banshee-data/avscene/internal/geometry"
	"github.com/banshee-data/avscene/internal/objects"
	"github.com/banshee-data/avscene/internal/scene"
	"github.com/banshee-data/avscene/internal/sensors"
)

// EgoSensorName is the pseudo-sensor directory that receives ego-frame
// labels for every frame.
const EgoSensorName = "ego"

// Pipeline reframes global labels into per-sensor label files.
type Pipeline struct {
	Params Params
}

// New builds a pipeline.
func New(params Params) *Pipeline {
	return &Pipeline{Params: params}
}

// SceneResult summarizes one processed scene. Warnings carry per-frame
// and per-sensor problems that did not abort the scene.
type SceneResult struct {
	Scene         string
	Sensors       []string
	FramesWritten int
	Warnings      []string
}

// frameData is everything fetched up front for one frame.
type frameData struct {
	frame   int
	ego     *objects.ObjectState
	globals []*objects.ObjectState
}

type run struct {
	p Params
	d *scene.Dataset

	mu            sync.Mutex
	warnings      []string
	framesWritten int
	warnedSensors map[string]bool
}

func (r *run) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[postprocess] %s: %s", r.d.Name, msg)
	r.mu.Lock()
	r.warnings = append(r.warnings, msg)
	r.mu.Unlock()
}

// warnSensorOnce suppresses repeats of a per-sensor condition that would
// otherwise fire on every frame.
func (r *run) warnSensorOnce(sensor, format string, args ...any) {
	r.mu.Lock()
	seen := r.warnedSensors[sensor]
	r.warnedSensors[sensor] = true
	r.mu.Unlock()
	if !seen {
		r.warnf(format, args...)
	}
}

func (r *run) wrote() {
	r.mu.Lock()
	r.framesWritten++
	r.mu.Unlock()
}

// ProcessScene runs the pipeline over one scene: an ego pass plus one
// pass per supported sensor. Individual frame failures become warnings;
// only scene-wide problems return an error.
func (pl *Pipeline) ProcessScene(d *scene.Dataset) (*SceneResult, error) {
	r := &run{p: pl.Params, d: d, warnedSensors: map[string]bool{}}

	frames, err := r.sceneFrames()
	if err != nil {
		return nil, err
	}
	log.Printf("[postprocess] %s: processing %d frames", d.Name, len(frames))

	data := r.fetchFrames(frames)

	processed := []string{EgoSensorName}
	r.egoPass(data)
	for _, s := range d.Config.Sensors {
		switch s.Type {
		case scene.SensorCamera, scene.SensorDepthCamera, scene.SensorLidar:
			r.sensorPass(s, data)
			processed = append(processed, s.Name)
		case scene.SensorRadar:
			r.warnf("skipping radar sensor %s: radar labels are not supported", s.Name)
		default:
			r.warnf("skipping sensor %s: unknown type %q", s.Name, s.Type)
		}
	}

	return &SceneResult{
		Scene:         d.Name,
		Sensors:       processed,
		FramesWritten: r.framesWritten,
		Warnings:      r.warnings,
	}, nil
}

// sceneFrames picks the frame list from the first sensor with a
// timestamp table, then trims the settling window at both ends.
func (r *run) sceneFrames() ([]int, error) {
	var frames []int
	var err error
	for _, s := range r.d.Config.Sensors {
		frames, err = r.d.Frames(s.Name)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("scene %s: no sensor has timestamps: %w", r.d.Name, err)
	}
	if len(frames) <= r.p.FrameStart+r.p.FrameEndTrim {
		return nil, fmt.Errorf("scene %s: only %d frames, need more than %d",
			r.d.Name, len(frames), r.p.FrameStart+r.p.FrameEndTrim)
	}
	frames = frames[r.p.FrameStart : len(frames)-r.p.FrameEndTrim]
	if r.p.MaxFrames > 0 && len(frames) > r.p.MaxFrames {
		frames = frames[:r.p.MaxFrames]
	}
	return frames, nil
}

// fetchFrames loads ego poses and global labels for all frames. Frames
// that fail to load get a nil slot and a warning.
func (r *run) fetchFrames(frames []int) []*frameData {
	out := make([]*frameData, len(frames))
	workers := 1
	if r.p.Multi {
		workers = workerCount(len(frames), r.p.FetchChunk, r.p.FetchCap)
	}
	forEach(len(frames), workers, func(i int) error {
		frame := frames[i]
		ego, err := r.d.Ego(frame)
		if err != nil {
			r.warnf("frame %d: %v", frame, err)
			return nil
		}
		globals, err := r.d.GlobalObjects(frame, scene.Filters{
			WhitelistTypes: r.p.WhitelistTypes,
			IgnoreTypes:    r.p.IgnoreTypes,
			ToGlobal:       true,
		})
		if err != nil {
			r.warnf("frame %d: %v", frame, err)
			return nil
		}
		out[i] = &frameData{frame: frame, ego: ego, globals: globals}
		return nil
	})
	return out
}

// egoPass writes every frame's global labels re-expressed in the ego
// body frame. The ego sees everything; no FOV or occlusion culls apply.
func (r *run) egoPass(data []*frameData) {
	workers := 1
	if r.p.Multi {
		workers = workerCount(len(data), r.p.SensorChunk, r.p.SensorCap)
	}
	forEach(len(data), workers, func(i int) error {
		fd := data[i]
		if fd == nil {
			return nil
		}
		egoRef := fd.ego.AsReference()
		objs := make([]*objects.ObjectState, 0, len(fd.globals))
		for _, o := range fd.globals {
			dup := o.Copy()
			dup.ChangeReference(egoRef)
			objs = append(objs, dup)
		}
		if err := r.d.SaveObjects(fd.frame, EgoSensorName, objs); err != nil {
			r.warnf("frame %d: %v", fd.frame, err)
			return nil
		}
		r.wrote()
		return nil
	})
}

func (r *run) sensorPass(s scene.SensorInfo, data []*frameData) {
	workers := 1
	if r.p.Multi {
		workers = workerCount(len(data), r.p.SensorChunk, r.p.SensorCap)
	}
	forEach(len(data), workers, func(i int) error {
		fd := data[i]
		if fd == nil {
			return nil
		}
		r.sensorFrame(s, fd)
		return nil
	})
}

func (r *run) sensorFrame(s scene.SensorInfo, fd *frameData) {
	c, err := r.d.Calibration(fd.frame, s.Name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && fd.frame <= r.p.CalibWarmupFrames {
			// Calibrations trail the first few captures while the rig
			// comes up; nothing to report.
			return
		}
		r.warnf("sensor %s frame %d: %v", s.Name, fd.frame, err)
		return
	}

	objs := make([]*objects.ObjectState, 0, len(fd.globals)+1)
	for _, o := range fd.globals {
		objs = append(objs, o.Copy())
	}
	// Infrastructure sensors sit away from the ego, which makes the ego
	// itself an object they observe.
	egoPos := fd.ego.Position.InFrame(geometry.GlobalOrigin()).V
	sensorPos := c.Reference.GlobalPosition()
	if r3.Norm(r3.Sub(sensorPos, egoPos)) > r.p.EgoOffsetThreshold {
		objs = append(objs, fd.ego.Copy())
	}
	for _, o := range objs {
		o.ChangeReference(c.Reference)
	}

	cameraLike := s.Type == scene.SensorCamera || s.Type == scene.SensorDepthCamera
	if cameraLike {
		inView := objs[:0]
		for _, o := range objs {
			if c.BoxInFOV(o.Box, r.p.FOVDepthThreshold) {
				inView = append(inView, o)
			}
		}
		objs = inView
	}

	r.estimateOcclusion(s, fd.frame, c, objs)

	kept := objs[:0]
	for _, o := range objs {
		if o.Occlusion != objects.OcclusionComplete && o.Occlusion != objects.OcclusionUnknown {
			kept = append(kept, o)
		}
	}

	if err := r.d.SaveObjects(fd.frame, s.Name, kept); err != nil {
		r.warnf("sensor %s frame %d: %v", s.Name, fd.frame, err)
		return
	}
	r.wrote()
}

// estimateOcclusion fills in each object's occlusion from the best
// available source: the sensor's own returns for lidar and depth
// cameras, a paired depth camera for cameras, then a lidar fallback.
// Without a source the labeled occlusion is left untouched.
func (r *run) estimateOcclusion(s scene.SensorInfo, frame int, c *calib.Calibration, objs []*objects.ObjectState) {
	if len(objs) == 0 {
		return
	}

	if s.Type == scene.SensorLidar {
		pc, err := r.d.Lidar(frame, s.Name)
		if err != nil {
			r.warnf("sensor %s frame %d: %v", s.Name, frame, err)
			return
		}
		for _, o := range objs {
			o.Occlusion = sensors.OcclusionByPointCloud(o.Box, pc)
		}
		return
	}

	if depthName := depthSensorName(s.Name); r.registered(depthName) {
		img, err := r.d.DepthImage(frame, depthName)
		if err == nil {
			cam := c.Camera
			if cam == nil {
				r.warnSensorOnce(s.Name, "sensor %s: depth occlusion needs camera intrinsics", s.Name)
				return
			}
			for _, o := range objs {
				o.Occlusion = sensors.OcclusionByDepth(o.Box, cam, img)
			}
			return
		}
		r.warnf("sensor %s frame %d: %v", s.Name, frame, err)
	}

	if lidarName := lidarFallbackName(s.Name); r.registered(lidarName) {
		pc, err := r.d.Lidar(frame, lidarName)
		if err == nil {
			for _, o := range objs {
				o.Occlusion = sensors.OcclusionByPointCloud(o.Box, pc)
			}
			return
		}
		r.warnf("sensor %s frame %d: %v", s.Name, frame, err)
	}

	r.warnSensorOnce(s.Name, "sensor %s: no occlusion source, using labeled occlusion", s.Name)
}

func (r *run) registered(name string) bool {
	_, err := r.d.Sensor(name)
	return err == nil
}

// depthSensorName names the depth twin of a camera channel.
func depthSensorName(name string) string {
	if strings.Contains(name, "DEPTH") {
		return name
	}
	return "DEPTH" + name
}

// lidarFallbackName picks the lidar used for occlusion when a camera has
// no depth twin. Infrastructure cameras pair with their co-located
// lidar; vehicle cameras fall back to the roof lidar.
func lidarFallbackName(name string) string {
	if strings.Contains(strings.ToUpper(name), "INFRA") {
		return strings.Replace(name, "CAM", "LIDAR", 1)
	}
	return "LIDAR_TOP"
}
