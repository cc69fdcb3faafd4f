package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type recordingSessionStore struct {
	swept chan struct{}
	err   error
}

func newRecordingSessionStore() *recordingSessionStore {
	return &recordingSessionStore{swept: make(chan struct{}, 4)}
}

func (r *recordingSessionStore) PurgeExpired() error {
	select {
	case r.swept <- struct{}{}:
	default:
	}
	return r.err
}

func TestSessionPurgeLoopSweepsOnEveryTick(t *testing.T) {
	sessions := newRecordingSessionStore()
	tick := make(chan time.Time)
	stop := runSessionPurgeLoop(context.Background(), discardLogger(), sessions, tick)
	defer stop()

	for i := 0; i < 2; i++ {
		tick <- time.Now()
		select {
		case <-sessions.swept:
		case <-time.After(time.Second):
			t.Fatalf("expected sweep %d to run", i+1)
		}
	}
}

func TestSessionPurgeLoopSurvivesSweepErrors(t *testing.T) {
	sessions := newRecordingSessionStore()
	sessions.err = errors.New("store offline")
	tick := make(chan time.Time)
	stop := runSessionPurgeLoop(context.Background(), discardLogger(), sessions, tick)
	defer stop()

	tick <- time.Now()
	select {
	case <-sessions.swept:
	case <-time.After(time.Second):
		t.Fatal("expected failing sweep to run")
	}

	// The loop keeps running after an error.
	tick <- time.Now()
	select {
	case <-sessions.swept:
	case <-time.After(time.Second):
		t.Fatal("expected loop to survive a sweep error")
	}
}

func TestSessionPurgeLoopStopIsIdempotent(t *testing.T) {
	sessions := newRecordingSessionStore()
	tick := make(chan time.Time)
	stop := runSessionPurgeLoop(context.Background(), discardLogger(), sessions, tick)

	stop()
	stop()

	select {
	case tick <- time.Now():
		t.Fatal("expected stopped loop to no longer consume ticks")
	default:
	}
}

func TestStartSessionPurgeWorkerDisabled(t *testing.T) {
	// Without a store or with no interval there is nothing to sweep; the stop
	// function must still be safe to call.
	stop := startSessionPurgeWorker(context.Background(), discardLogger(), nil, time.Minute)
	stop()

	stop = startSessionPurgeWorker(context.Background(), discardLogger(), newRecordingSessionStore(), 0)
	stop()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
