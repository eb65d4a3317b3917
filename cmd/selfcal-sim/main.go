// Command selfcal-sim drives the self-calibration engine against
// synthetic keyframe/IMU data, exercising the same Controller.ProcessKeyframe
// loop a live VIO pipeline would call per keyframe. It is the in-repo
// stand-in for the external tracker/camera/IMU drivers, grounded on the
// cold-start scenario: run with true intrinsics offset from the rig's
// initial guess and watch the controller recover them.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/konanrobot/selfcal-go/internal/calib"
	"github.com/konanrobot/selfcal-go/internal/calib/ba"
	"github.com/konanrobot/selfcal-go/internal/calib/storage"
	"github.com/konanrobot/selfcal-go/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON tuning-defaults file (defaults built in if empty)")
	logDir := flag.String("log-dir", ".", "directory for sigmas.txt/pq.txt/batch.txt/timings.txt")
	dbPath := flag.String("db", "", "sqlite path for calibration history (disabled if empty)")
	numKeyframes := flag.Int("keyframes", 40, "number of synthetic keyframes to feed")
	seed := flag.Int("seed", 1, "deterministic synthetic-scene seed")
	flag.Parse()

	cfg := config.Empty()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("selfcal-sim: loading config: %v", err)
		}
		cfg = loaded
	}

	logs, err := calib.NewLogWriters(*logDir)
	if err != nil {
		log.Fatalf("selfcal-sim: opening logs: %v", err)
	}
	defer logs.Close()

	// Initial-calibration-perturbation helper (scenario S1 "cold start"):
	// the live rig starts from a generic wide-angle guess derived purely
	// from image dimensions, not the true intrinsics, the same way a
	// fresh device with no prior calibration would.
	const width, height = 640, 480
	const fovRadians = math.Pi / 2 // 90 degree field of view assumption
	guessFx := 0.5 * float64(height) / math.Tan(fovRadians/2)
	guessCx, guessCy := float64(width)/2, float64(height)/2

	rig := &calib.Rig{Cameras: []calib.Camera{{
		Params: []float64{guessFx, guessFx, guessCx, guessCy, 1.0},
		Width:  width,
		Height: height,
	}}}

	solvers := map[ba.Mode]ba.Solver{
		ba.Visual: ba.NewReferenceSolver(ba.Visual, 5),
		ba.VI:     ba.NewReferenceSolver(ba.VI, 5),
	}

	engine := calib.NewEngine(cfg, rig, solvers, logs)
	engine.UnknownCamCalibration = true

	if *dbPath != "" {
		store, err := storage.Open(*dbPath)
		if err != nil {
			log.Fatalf("selfcal-sim: opening sqlite history: %v", err)
		}
		defer store.Close()
		engine.Storage = store
	}

	controller := calib.NewController(engine)

	scene := newSyntheticScene(*seed, width, height)
	for k := 0; k < *numKeyframes; k++ {
		feedKeyframe(engine, scene, k)
		controller.ProcessKeyframe(k)

		if k > 0 && k%10 == 0 {
			got := engine.LiveRig.CalibParams()
			log.Printf("keyframe %d: calib=%.2f unknown_cam_calibration=%v", k, got, engine.UnknownCamCalibration)
		}
	}

	final := engine.LiveRig.CalibParams()
	fmt.Fprintf(os.Stdout, "final calibration: fx=%.2f fy=%.2f cx=%.2f cy=%.2f k1=%.4f\n",
		final[0], final[1], final[2], final[3], final[4])
	fmt.Fprintf(os.Stdout, "unknown_cam_calibration=%v after %d keyframes\n", engine.UnknownCamCalibration, *numKeyframes)
}
