package observer

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type panickingObserver struct{}

func (panickingObserver) OnEvent(context.Context, PredictionEvent) { panic("boom") }
func (panickingObserver) GetObserverName() string                { return "panicking" }

func TestMetricsObserver(t *testing.T) {
	metrics := NewMetricsObserver()
	publisher := NewEventPublisher()
	publisher.Subscribe(panickingObserver{})
	publisher.Subscribe(metrics)

	ctx := context.Background()
	events := []PredictionEvent{
		{EventType: PredictionStarted},
		{EventType: PredictionCompleted, Success: true, ClassName: "Tumor", ProcessingTime: 2 * time.Second},
		{EventType: PredictionStarted},
		{EventType: InputFallback},
		{EventType: PredictionCompleted, Success: true, ClassName: "Tumor", ProcessingTime: 4 * time.Second},
		{EventType: PredictionStarted},
		{EventType: PredictionFailed, ErrorKind: "decode"},
	}
	for _, e := range events {
		publisher.NotifyObservers(ctx, e)
	}

	got := metrics.GetMetrics()
	checks := map[string]interface{}{
		"total_predictions":      int64(3),
		"successful_predictions": int64(2),
		"failed_predictions":     int64(1),
		"fallback_inputs":        int64(1),
		"avg_processing_time_s":  3.0,
	}
	for k, want := range checks {
		if got[k] != want {
			t.Errorf("%s = %v, want %v", k, got[k], want)
		}
	}
	if classes := got["predictions_by_class"].(map[string]int64); classes["Tumor"] != 2 {
		t.Errorf("predictions_by_class = %v", classes)
	}
	if kinds := got["failures_by_kind"].(map[string]int64); kinds["decode"] != 1 {
		t.Errorf("failures_by_kind = %v", kinds)
	}
}

func TestUnsubscribe(t *testing.T) {
	metrics := NewMetricsObserver()
	publisher := NewEventPublisher()
	publisher.Subscribe(metrics)
	publisher.Unsubscribe(metrics)

	publisher.NotifyObservers(context.Background(), PredictionEvent{EventType: PredictionStarted})
	if got := metrics.GetMetrics()["total_predictions"]; got != int64(0) {
		t.Errorf("total_predictions = %v after unsubscribe", got)
	}
}

func TestLoggingObserver(t *testing.T) {
	var out bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&out)
	logger.SetFormatter(&logrus.JSONFormatter{})

	obs := NewLoggingObserver(logger)
	obs.OnEvent(context.Background(), PredictionEvent{
		EventType:    PredictionFailed,
		File:         "scan.dcm",
		ErrorKind:    "inference",
		ErrorMessage: "model exploded",
	})

	line := out.String()
	for _, want := range []string{`"level":"error"`, `"file":"scan.dcm"`, `"error_kind":"inference"`, "Prediction failed"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %s", line, want)
		}
	}
}
