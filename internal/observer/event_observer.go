package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PredictionEvent represents a prediction lifecycle event
type PredictionEvent struct {
	EventType      EventType              `json:"event_type"`
	Timestamp      time.Time              `json:"timestamp"`
	File           string                 `json:"file"`
	ProcessingTime time.Duration          `json:"processing_time"`
	Success        bool                   `json:"success"`
	ClassName      string                 `json:"class_name,omitempty"`
	ErrorKind      string                 `json:"error_kind,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of prediction event
type EventType string

const (
	PredictionStarted   EventType = "prediction_started"
	PredictionCompleted EventType = "prediction_completed"
	PredictionFailed    EventType = "prediction_failed"
	// InputFallback when an undecodable medical file was replaced by a blank buffer
	InputFallback EventType = "input_fallback"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event PredictionEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event PredictionEvent)
}

// LoggingObserver logs prediction events
type LoggingObserver struct {
	logger *logrus.Logger
}

func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles prediction events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event PredictionEvent) {
	fields := logrus.Fields{
		"event_type":      event.EventType,
		"file":            event.File,
		"processing_time": event.ProcessingTime,
		"success":         event.Success,
	}

	if event.ClassName != "" {
		fields["class_name"] = event.ClassName
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
		fields["error_kind"] = event.ErrorKind
	}

	for k, v := range event.Metadata {
		fields[k] = v
	}

	switch event.EventType {
	case PredictionStarted:
		o.logger.WithFields(fields).Debug("Prediction started")
	case PredictionCompleted:
		o.logger.WithFields(fields).Info("Prediction completed")
	case PredictionFailed:
		o.logger.WithFields(fields).Error("Prediction failed")
	case InputFallback:
		o.logger.WithFields(fields).Warn("Input could not be decoded, blank buffer analysed")
	default:
		o.logger.WithFields(fields).Info("Prediction event occurred")
	}
}

func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects counters from prediction events
type MetricsObserver struct {
	mu                    sync.RWMutex
	totalPredictions      int64
	successfulPredictions int64
	failedPredictions     int64
	fallbackInputs        int64
	totalProcessingTime   time.Duration
	classCounts           map[string]int64
	errorCounts           map[string]int64
}

func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{
		classCounts: make(map[string]int64),
		errorCounts: make(map[string]int64),
	}
}

// OnEvent handles prediction events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event PredictionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case PredictionStarted:
		o.totalPredictions++
	case PredictionCompleted:
		o.successfulPredictions++
		o.totalProcessingTime += event.ProcessingTime
		if event.ClassName != "" {
			o.classCounts[event.ClassName]++
		}
	case PredictionFailed:
		o.failedPredictions++
		if event.ErrorKind != "" {
			o.errorCounts[event.ErrorKind]++
		}
	case InputFallback:
		o.fallbackInputs++
	}
}

func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns a snapshot of the current counters
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgProcessingTime := time.Duration(0)
	if o.successfulPredictions > 0 {
		avgProcessingTime = o.totalProcessingTime / time.Duration(o.successfulPredictions)
	}

	classes := make(map[string]int64, len(o.classCounts))
	for k, v := range o.classCounts {
		classes[k] = v
	}
	errs := make(map[string]int64, len(o.errorCounts))
	for k, v := range o.errorCounts {
		errs[k] = v
	}

	return map[string]interface{}{
		"total_predictions":       o.totalPredictions,
		"successful_predictions":  o.successfulPredictions,
		"failed_predictions":      o.failedPredictions,
		"fallback_inputs":         o.fallbackInputs,
		"total_processing_time_s": o.totalProcessingTime.Seconds(),
		"avg_processing_time_s":   avgProcessingTime.Seconds(),
		"predictions_by_class":    classes,
		"failures_by_kind":        errs,
	}
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers delivers the event to every observer in subscription order.
// A panicking observer is logged and skipped.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event PredictionEvent) {
	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, observer := range observers {
		func(obs Observer) {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}
