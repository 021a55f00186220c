// Command postprocess reframes every scene's global object labels into
// per-sensor label files and records each run in a sqlite manifest.
//
// Usage:
//
//	postprocess [flags] <dataset-root>
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/avscene/internal/config"
	"github.com/banshee-data/avscene/internal/postprocess"
	"github.com/banshee-data/avscene/internal/runstore"
	"github.com/banshee-data/avscene/internal/scene"
)

func main() {
	multi := flag.Bool("multi", false, "Process frames with worker pools")
	sceneName := flag.String("scene", "", "Process only the named scene")
	frameStart := flag.Int("frame-start", 4, "Frames to skip at the start of each scene")
	frameEndTrim := flag.Int("frame-end-trim", 4, "Frames to drop at the end of each scene")
	maxFrames := flag.Int("max-frames", 10000, "Maximum frames per scene")
	whitelist := flag.String("whitelist", "", "Comma-separated object types to keep (default all)")
	ignore := flag.String("ignore", "", "Comma-separated object types to drop")
	configPath := flag.String("config", "", "Pipeline tuning JSON (flags override it)")
	manifest := flag.String("manifest", "", "Run manifest database path (default <root>/postprocess_runs.db)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <dataset-root>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	root := flag.Arg(0)

	params := postprocess.DefaultParams()
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("[postprocess] %v", err)
		}
		cfg.Apply(&params)
	}
	// Explicit flags beat the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "multi":
			params.Multi = *multi
		case "frame-start":
			params.FrameStart = *frameStart
		case "frame-end-trim":
			params.FrameEndTrim = *frameEndTrim
		case "max-frames":
			params.MaxFrames = *maxFrames
		case "whitelist":
			params.WhitelistTypes = splitCSV(*whitelist)
		case "ignore":
			params.IgnoreTypes = splitCSV(*ignore)
		}
	})

	manager, err := scene.OpenManager(root)
	if err != nil {
		log.Fatalf("[postprocess] %v", err)
	}
	names := manager.Scenes()
	if *sceneName != "" {
		names = []string{*sceneName}
	}

	manifestPath := *manifest
	if manifestPath == "" {
		manifestPath = filepath.Join(root, "postprocess_runs.db")
	}
	store, err := runstore.Open(manifestPath)
	if err != nil {
		log.Fatalf("[postprocess] %v", err)
	}
	defer store.Close()

	pipeline := postprocess.New(params)
	failed := 0
	for i, name := range names {
		log.Printf("[postprocess] scene %s (%d/%d)", name, i+1, len(names))
		d, err := scene.Open(root, name)
		if err != nil {
			log.Printf("[postprocess] %v", err)
			failed++
			continue
		}
		started := time.Now().UnixNano()
		res, err := pipeline.ProcessScene(d)
		if err != nil {
			log.Printf("[postprocess] scene %s: %v", name, err)
			failed++
			continue
		}
		completed := time.Now().UnixNano()
		run := &runstore.Run{
			Scene:         res.Scene,
			Multi:         params.Multi,
			Sensors:       res.Sensors,
			FramesWritten: res.FramesWritten,
			Warnings:      res.Warnings,
			StartedAtNs:   started,
			CompletedAtNs: &completed,
		}
		if err := store.Insert(run); err != nil {
			log.Printf("[postprocess] scene %s: %v", name, err)
		}
		log.Printf("[postprocess] scene %s: wrote %d frame files across %d sensors (%d warnings)",
			name, res.FramesWritten, len(res.Sensors), len(res.Warnings))
	}
	if failed > 0 {
		log.Fatalf("[postprocess] %d of %d scenes failed", failed, len(names))
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
