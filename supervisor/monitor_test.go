// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/arne48/multimaster-fkie/lib/testutil"
)

type publication struct {
	topic   string
	payload []ScreenRepetitions
}

type channelPublisher chan publication

func (c channelPublisher) Publish(_ context.Context, topic string, payload any) error {
	c <- publication{topic: topic, payload: payload.([]ScreenRepetitions)}
	return nil
}

const duplicateListing = "\t10.@camera\t(Detached)\n\t11.@camera\t(Detached)\n\t12.@lidar\t(Detached)\n"

func TestMonitorScanReportsDuplicatesAndAllClearOnce(t *testing.T) {
	t.Parallel()

	executor := newFakeExecutor()
	executor.setListing("", duplicateListing)
	tracker := NewTracker(clockForTests(), quietLogger())
	supervisor := newTestSupervisor(t, executor, &recordingTerminator{}, tracker)
	published := make(channelPublisher, 4)
	monitor := NewMonitor(MonitorConfig{
		Supervisor: supervisor,
		Publisher:  published,
		Topic:      "ros.screen.multiple",
		Clock:      clockForTests(),
		Logger:     quietLogger(),
	})

	ctx := context.Background()
	got := monitor.Scan(ctx)
	want := []ScreenRepetitions{{Name: "/camera", Screens: []string{"10.@camera", "11.@camera"}}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Scan = %+v, want %+v", got, want)
	}
	report := testutil.RequireReceive(t, (chan publication)(published), time.Second, "duplicate report")
	if report.topic != "ros.screen.multiple" || !reflect.DeepEqual(report.payload, want) {
		t.Errorf("published %+v", report)
	}
	if executor.countExecs("-wipe") != 1 {
		t.Error("scan did not wipe dead sessions")
	}
	if tracker.State("/lidar") != Running {
		t.Errorf("tracker /lidar = %v, want running", tracker.State("/lidar"))
	}

	executor.setListing("", "\t12.@lidar\t(Detached)\n")
	monitor.Scan(ctx)
	report = testutil.RequireReceive(t, (chan publication)(published), time.Second, "all-clear report")
	if len(report.payload) != 0 {
		t.Errorf("all-clear payload = %+v", report.payload)
	}

	monitor.Scan(ctx)
	select {
	case extra := <-published:
		t.Errorf("repeated all-clear published: %+v", extra)
	default:
	}
}

func TestMonitorRunScansOnFirstTickAndTrigger(t *testing.T) {
	t.Parallel()

	executor := newFakeExecutor()
	supervisor := newTestSupervisor(t, executor, &recordingTerminator{}, nil)
	fake := clockForTests()
	published := make(channelPublisher, 4)
	monitor := NewMonitor(MonitorConfig{
		Supervisor: supervisor,
		Publisher:  published,
		Topic:      "ros.screen.multiple",
		Clock:      fake,
		Interval:   time.Second,
		Logger:     quietLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	fake.WaitForTimers(1)
	fake.Advance(time.Second)
	first := testutil.RequireReceive(t, (chan publication)(published), 5*time.Second, "initial report")
	if len(first.payload) != 0 {
		t.Errorf("initial payload = %+v", first.payload)
	}

	executor.setListing("", duplicateListing)
	monitor.Trigger()
	fake.Advance(time.Second)
	second := testutil.RequireReceive(t, (chan publication)(published), 5*time.Second, "triggered report")
	if len(second.payload) != 1 || second.payload[0].Name != "/camera" {
		t.Errorf("triggered payload = %+v", second.payload)
	}

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "monitor exit"); err != context.Canceled {
		t.Errorf("Run returned %v", err)
	}
}
