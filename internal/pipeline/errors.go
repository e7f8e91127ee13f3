package pipeline

import "errors"

// Terminal conversion failure reasons. Every failed conversion surfaces
// exactly one of these, possibly wrapping an underlying cause; classify with
// errors.Is. There are no internal retries.
var (
	// ErrWrongStream: input ended before both parameter sets were observed.
	ErrWrongStream = errors.New("pipeline: stream ended before both parameter sets were seen")

	// ErrConfigRecord: the decoder configuration record could not be built
	// from the observed parameter sets.
	ErrConfigRecord = errors.New("pipeline: cannot build decoder configuration record")

	// ErrStartWriting: the sink rejected the start of the writing session.
	ErrStartWriting = errors.New("pipeline: sink rejected start of writing")

	// ErrDecoder: decoder setup or a per-packet decode failed.
	ErrDecoder = errors.New("pipeline: decoder failure")

	// ErrSink: the sink rejected a frame or faulted during finalize.
	ErrSink = errors.New("pipeline: sink failure")

	// ErrWriterState: finish was requested while the sink was in an
	// unusable or unstarted state.
	ErrWriterState = errors.New("pipeline: sink in unusable state at finish")

	// ErrAlreadyStarted: Run was called on an orchestrator that already ran.
	ErrAlreadyStarted = errors.New("pipeline: conversion already started")
)
