package main

import (
	"fmt"
	"net/http"

	"github.com/example/raytrace-worker/worker"
)

// serveDiagnostics runs the optional -diag-ws websocket debug endpoint
// on addr, mirroring datanode/main.go's go http.Serve(listener, nil)
// pattern for standing up a second listener alongside the main loop.
func serveDiagnostics(addr string, w *worker.Worker) error {
	hub := w.DiagnosticsHandler()
	if hub == nil {
		return fmt.Errorf("worker: -diag-ws set but no diagnostics hub was constructed")
	}
	return http.ListenAndServe(addr, hub)
}
