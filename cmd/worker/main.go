// Command worker runs one worker node of the distributed ray-tracing
// cluster: it dials the coordinator's control channel, completes the
// Hey handshake, then hands off to worker.Run for the lifetime of the
// job.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/example/raytrace-worker/control"
	"github.com/example/raytrace-worker/rayqueue"
	"github.com/example/raytrace-worker/scene"
	"github.com/example/raytrace-worker/worker"
)

func main() {
	var (
		ip            = flag.String("i", "0.0.0.0", "local IP address to bind the worker's two UDP endpoints to")
		port          = flag.Int("p", 9000, "base UDP port; the second endpoint binds to port+1")
		storageURI    = flag.String("s", "", "local directory storage backend is rooted at")
		reliable      = flag.Bool("R", false, "use reliable (acked, retransmitted) ray delivery")
		rateMbps      = flag.Float64("M", 100, "per-endpoint pacing rate in Mbps")
		samples       = flag.Int("S", 1, "samples per pixel for generated primary rays")
		rayLogRate    = flag.Float64("L", 0, "fraction of rays to mark tracked for post-send tick logging")
		packetLogRate = flag.Float64("P", 0, "fraction of outgoing packets to log in detail")
		finishedAct   = flag.Int("f", int(rayqueue.SendBack), "finished-ray policy: 0=discard 1=send-back 2=upload")

		coordinator      = flag.String("coordinator", "127.0.0.1:9900", "coordinator TCP control-channel address")
		filmWidth        = flag.Int("film-width", 1280, "film width in pixels")
		filmHeight       = flag.Int("film-height", 720, "film height in pixels")
		maxDepth         = flag.Int("max-depth", 5, "maximum bounce depth before a path is force-terminated")
		discardThreshold = flag.Int("discard-threshold", rayqueue.DiscardThreshold, "finishedQueue depth under the discard policy that logs a backpressure warning")
		diagWS           = flag.String("diag-ws", "", "if set, address to serve the optional websocket diagnostics stream on")
		logFile          = flag.String("log-file", "", "if set, write logs here instead of stderr")
	)
	flag.Parse()

	programLevel := new(slog.LevelVar)
	var logHandler slog.Handler
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			panic(fmt.Sprintf("worker: opening log file: %v", err))
		}
		defer f.Close()
		logHandler = slog.NewJSONHandler(f, &slog.HandlerOptions{Level: programLevel})
	} else {
		logHandler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel})
	}
	slog.SetDefault(slog.New(logHandler))
	programLevel.Set(slog.LevelInfo)

	if *finishedAct < 0 || *finishedAct > 2 {
		panic(fmt.Sprintf("worker: -f must be 0, 1, or 2; got %d", *finishedAct))
	}

	ctrl, err := control.Dial(*coordinator)
	if err != nil {
		panic(fmt.Sprintf("worker: dialing coordinator: %v", err))
	}
	defer ctrl.Close()

	hey, err := ctrl.Hey(os.Getenv("AWS_LAMBDA_LOG_STREAM_NAME"))
	if err != nil {
		panic(fmt.Sprintf("worker: Hey handshake: %v", err))
	}

	cfg := worker.DefaultConfig()
	cfg.CoordinatorAddr = *coordinator
	cfg.Reliable = *reliable
	cfg.RateMbps = *rateMbps
	cfg.SamplesPerPixel = *samples
	cfg.MaxDepth = *maxDepth
	cfg.FilmWidth = *filmWidth
	cfg.FilmHeight = *filmHeight
	cfg.FinishedRayPolicy = rayqueue.FinishedRayPolicy(*finishedAct)
	cfg.DiscardThreshold = *discardThreshold
	cfg.RayLogRate = *rayLogRate
	cfg.PacketLogRate = *packetLogRate
	cfg.DiagnosticsAddr = *diagWS

	localAddr0 := fmt.Sprintf("%s:%d", *ip, *port)
	localAddr1 := fmt.Sprintf("%s:%d", *ip, *port+1)

	backend := scene.NewDiskBackend(*storageURI)
	builder := scene.UnimplementedBuilder{}

	seed := uint32(os.Getpid())

	w, err := worker.New(cfg, localAddr0, localAddr1, ctrl, hey.WorkerID, seed, backend, builder)
	if err != nil {
		panic(fmt.Sprintf("worker: constructing worker: %v", err))
	}

	if *diagWS != "" {
		go func() {
			if err := serveDiagnostics(*diagWS, w); err != nil {
				slog.Error("worker: diagnostics server exited", "error", err)
			}
		}()
	}

	slog.Info("worker: starting", "worker_id", hey.WorkerID, "job_id", hey.JobID,
		"local_addr0", localAddr0, "local_addr1", localAddr1, "coordinator", *coordinator)

	if err := w.Run(); err != nil {
		slog.Error("worker: event loop exited", "error", err)
		os.Exit(1)
	}
}
