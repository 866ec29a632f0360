package mnet

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	// MetricMnetFrameInCount counts every frame heard on the medium,
	// including the ones we end up dropping or forwarding.
	MetricMnetFrameInCount     = []string{"mnet", "frame", "in", "count"}
	MetricMnetFrameInDropCount = []string{"mnet", "frame", "in", "drop", "count"}
	MetricMnetFrameOutCount    = []string{"mnet", "frame", "out", "count"}
	MetricMnetForwardCount     = []string{"mnet", "forward", "count"}
	MetricMnetDuplicateCount   = []string{"mnet", "duplicate", "count"}
	MetricMnetAckInCount       = []string{"mnet", "ack", "in", "count"}
	MetricMnetAckOutCount      = []string{"mnet", "ack", "out", "count"}
	MetricMnetRetransmitCount  = []string{"mnet", "retransmit", "count"}
	MetricMnetResyncCount      = []string{"mnet", "resync", "count"}
	MetricMnetLossCount        = []string{"mnet", "loss", "count"}
	MetricMnetDeliveredCount   = []string{"mnet", "message", "delivered", "count"}
	MetricMnetEvictionCount    = []string{"mnet", "eviction", "count"}
	MetricMnetSendRecordsGauge = []string{"mnet", "send", "records"}
	MetricMnetRecvRecordsGauge = []string{"mnet", "receive", "records"}
)

type TelemetryLabel string

var (
	LabelError  TelemetryLabel = "error"
	LabelPeer   TelemetryLabel = "peer"
	LabelPort   TelemetryLabel = "port"
	LabelSeq    TelemetryLabel = "seq"
	LabelReason TelemetryLabel = "reason"
	LabelCache  TelemetryLabel = "cache"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
