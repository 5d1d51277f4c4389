package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSession_CountersAndSnapshot(t *testing.T) {
	s := NewSessionMetrics()

	s.IncMessagesReceived()
	s.IncMessagesReceived()
	s.IncToolCalls()
	s.ObserveSTTLatency(100 * time.Millisecond)
	s.ObserveSTTLatency(200 * time.Millisecond)

	snap := s.Snapshot()
	if snap.MessagesReceived != 2 {
		t.Errorf("expected 2 messages, got %d", snap.MessagesReceived)
	}
	if snap.ToolCalls != 1 {
		t.Errorf("expected 1 tool call, got %d", snap.ToolCalls)
	}
	if snap.AvgSTTLatencyMs != 150 {
		t.Errorf("expected avg latency 150ms, got %f", snap.AvgSTTLatencyMs)
	}
}

func TestServer_ConnectionLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer(reg)

	s.ConnectionOpened()
	s.ConnectionOpened()
	s.ConnectionClosed()

	snap := s.Snapshot()
	if snap.ActiveConnections != 1 {
		t.Errorf("expected 1 active connection, got %d", snap.ActiveConnections)
	}
}

func TestServer_ErrorCounting(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer(reg)

	s.ErrorOccurred()
	s.ErrorOccurred()

	if snap := s.Snapshot(); snap.TotalErrors != 2 {
		t.Errorf("expected 2 errors, got %d", snap.TotalErrors)
	}
}
