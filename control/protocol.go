// Package control implements §4.9's coordinator control channel: a TCP
// connection opened at startup, carrying the same wire.Message framing
// as the UDP transport but length-prefixed over a stream instead of
// packed into datagrams.
package control

import "github.com/example/raytrace-worker/wire"

// HeyRequest is the first message a worker sends on the control
// channel. LogStreamName is forwarded verbatim from the
// AWS_LAMBDA_LOG_STREAM_NAME environment variable when running under the
// original deployment target; workers running elsewhere send an empty
// string.
type HeyRequest struct {
	LogStreamName string
}

// HeyResponse is the coordinator's reply to Hey: the worker's assigned
// identifier and the job it has been assigned to.
type HeyResponse struct {
	WorkerID wire.Identifier
	JobID    string
}

// GetObjects names the scene objects (treelets and auxiliary assets) the
// worker must fetch from storage before it can trace anything. Only
// Treelet-typed ids are tracked as "this worker holds treelet T";
// triangle-mesh ids are fetched but not tracked, since they arrive
// packed inside treelets.
type ObjectType uint8

const (
	ObjectTriangleMesh ObjectType = iota
	ObjectTreelet
	ObjectTexture
	ObjectMaterial
	ObjectLight
	ObjectSampler
	ObjectCamera
	ObjectScene
)

type ObjectKey struct {
	Type ObjectType
	ID   uint32
}

type GetObjectsRequest struct {
	ObjectIDs []ObjectKey
}

// CropWindow is the [0,1]^2 normalized sub-rectangle of the film a
// GenerateRays request asks this worker to seed.
type CropWindow struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

type GenerateRaysRequest struct {
	CropWindow CropWindow
}

// ConnectToRequest introduces one peer's pair of addresses, by analogy
// with ConnectTo/MultipleConnect (the latter is the same payload
// repeated; the control codec just decodes however many fit the frame).
type ConnectToRequest struct {
	WorkerID  wire.Identifier
	Addresses [2]string
}

type MultipleConnectRequest struct {
	Peers []ConnectToRequest
}

type StartBenchmarkRequest struct {
	Destination wire.Identifier
	Duration    uint32
	RateMbps    uint32
	AddressNo   uint8
}

// QueueStats is the §4.7 workerStatsTimer snapshot of queue depths and
// connection counts, pushed upstream once per tick.
type QueueStats struct {
	Ray            int
	Finished       int
	Pending        int
	Out            int
	Connecting     int
	Connected      int
	OutstandingUDP int
	QueuedUDP      int
}

type WorkerStatsReport struct {
	TimestampMicros int64
	Queue           QueueStats
	BytesSent       uint64
	BytesReceived   uint64
	RaysGenerated   uint64
	RaysFinished    uint64
}

// FinishedRay is one SendBack-policy finished-ray record (§4.5's
// handleFinishedQueue): the sample it belongs to, its film position and
// weight, and its already-clamped contribution.
type FinishedRay struct {
	SampleID     uint64
	PFilmX       int32
	PFilmY       int32
	Weight       float64
	Contribution [3]float64
}

type FinishedRaysReport struct {
	Rays []FinishedRay
}

type FinishedPathsReport struct {
	Count uint64
}

// GetWorkerRequest asks the coordinator for a holder of a treelet this
// worker has never heard about, per SPEC_FULL.md's supplemented
// treelet-discovery path (original_source getWorker()/requestTreelet()).
type GetWorkerRequest struct {
	TreeletID uint32
}
