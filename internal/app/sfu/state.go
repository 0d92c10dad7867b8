package sfu

import "sync/atomic"

type WorkerState int32

const (
	WorkerStateIdle WorkerState = iota
	WorkerStateRunning
	WorkerStateStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerStateIdle:
		return "idle"
	case WorkerStateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// workerState is read by signaling goroutines and written by the worker.
type workerState struct {
	v atomic.Int32 // Zero by default (WorkerStateIdle)
}

func (s *workerState) Get() WorkerState { return WorkerState(s.v.Load()) }

func (s *workerState) MarkRunning() { s.v.Store(int32(WorkerStateRunning)) }

func (s *workerState) MarkStopped() { s.v.Store(int32(WorkerStateStopped)) }
