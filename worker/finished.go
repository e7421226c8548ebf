package worker

import (
	"log/slog"

	"github.com/example/raytrace-worker/control"
	"github.com/example/raytrace-worker/rayqueue"
	"github.com/example/raytrace-worker/raystate"
	"github.com/example/raytrace-worker/wire"
)

// handleFinishedQueue is §4.5's handleFinishedQueue: drain finishedQueue
// under the configured policy. Discard just drops every ray (DrainFinished
// never calls the sink for it); a drain of cfg.DiscardThreshold rays or
// more is only ever a backpressure signal surfaced as a logged warning,
// never a reason to stop draining.
func (w *Worker) handleFinishedQueue() error {
	switch w.cfg.FinishedRayPolicy {
	case rayqueue.Discard:
		n := w.engine.DrainFinished(rayqueue.Discard, nil)
		w.raysFinished += uint64(n)
		if n >= w.cfg.DiscardThreshold {
			slog.Warn("worker: discarding a large finishedQueue backlog", "count", n)
		}
		return nil

	case rayqueue.SendBack:
		var rays []control.FinishedRay
		n := w.engine.DrainFinished(rayqueue.SendBack, func(r *raystate.State) {
			rays = append(rays, control.FinishedRay{
				SampleID:     uint64(r.SampleID),
				PFilmX:       r.PFilm.X,
				PFilmY:       r.PFilm.Y,
				Weight:       r.Weight,
				Contribution: [3]float64{r.Ld.X, r.Ld.Y, r.Ld.Z},
			})
		})
		w.raysFinished += uint64(n)
		if len(rays) == 0 {
			return nil
		}
		return w.ctrl.Send(wire.OpFinishedRays, control.FinishedRaysReport{Rays: rays})

	case rayqueue.Upload:
		n := w.engine.DrainFinished(rayqueue.Upload, func(r *raystate.State) {})
		w.raysFinished += uint64(n)
		if n > 0 {
			slog.Warn("worker: Upload finished-ray policy has no storage backend wired, dropping", "count", n)
		}
		return nil

	default:
		return nil
	}
}
