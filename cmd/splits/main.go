// Command splits prints a deterministic train/val/test partition of the
// scenes under a dataset root.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/avscene/internal/scene"
)

func main() {
	seed := flag.Int64("seed", 1, "Split RNG seed")
	train := flag.Float64("train", 0.7, "Train fraction")
	val := flag.Float64("val", 0.15, "Val fraction")
	test := flag.Float64("test", 0.15, "Test fraction")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <dataset-root>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	manager, err := scene.OpenManager(flag.Arg(0))
	if err != nil {
		log.Fatalf("[splits] %v", err)
	}
	splits, err := manager.MakeSplits(*seed, scene.SplitFractions{
		Train: *train, Val: *val, Test: *test,
	})
	if err != nil {
		log.Fatalf("[splits] %v", err)
	}
	out, err := json.MarshalIndent(splits, "", "  ")
	if err != nil {
		log.Fatalf("[splits] %v", err)
	}
	fmt.Println(string(out))
}
