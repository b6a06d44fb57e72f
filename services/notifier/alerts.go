package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lyrics-cache-go/logcolors"

	log "github.com/sirupsen/logrus"
)

const (
	// Default cooldown between alerts of the same type
	DefaultAlertCooldown = 15 * time.Minute
)

// AlertHandler turns operational events into push notifications
type AlertHandler struct {
	notifiers        []Notifier
	cooldowns        map[EventType]time.Time // last alert time per event type
	cooldownDuration time.Duration
	now              func() time.Time
	wg               sync.WaitGroup
	mu               sync.Mutex
}

// AlertConfig holds configuration for the alert handler
type AlertConfig struct {
	Notifiers        []Notifier
	CooldownDuration time.Duration
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(config AlertConfig) *AlertHandler {
	cooldown := config.CooldownDuration
	if cooldown == 0 {
		cooldown = DefaultAlertCooldown
	}

	return &AlertHandler{
		notifiers:        config.Notifiers,
		cooldowns:        make(map[EventType]time.Time),
		cooldownDuration: cooldown,
		now:              time.Now,
	}
}

// Start subscribes the handler to the event bus
func (h *AlertHandler) Start(bus *EventBus) {
	bus.SubscribeAll(h.handleEvent)
	log.Infof("%s Alert handler started (cooldown: %v, notifiers: %d)",
		logcolors.LogNotifier, h.cooldownDuration, len(h.notifiers))
}

// Wait blocks until in-progress alerts are sent
func (h *AlertHandler) Wait() {
	h.wg.Wait()
}

// handleEvent processes incoming events
func (h *AlertHandler) handleEvent(event *Event) {
	if event.Type == EventCircuitBreakerRecovered {
		// the next outage is news even inside the cooldown
		h.ResetCooldown(EventCircuitBreakerOpen)
		h.ResetCooldown(EventHighFailureRate)
	}

	subject, message := formatAlert(event)
	if subject == "" {
		return
	}

	if !h.shouldAlert(event.Type) {
		log.Debugf("%s Skipping alert for %s (cooldown active)", logcolors.LogNotifier, event.Type)
		return
	}

	// Bus handlers must not block on the network.
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.sendAlert(subject, message)
	}()
}

// shouldAlert checks if we should send an alert based on cooldown
func (h *AlertHandler) shouldAlert(eventType EventType) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	lastAlert, exists := h.cooldowns[eventType]
	if !exists || now.Sub(lastAlert) >= h.cooldownDuration {
		h.cooldowns[eventType] = now
		return true
	}
	return false
}

// formatAlert formats an event into a notification message. Lyrics events
// are not alerts and yield an empty subject.
func formatAlert(event *Event) (subject, message string) {
	switch event.Type {
	case EventCircuitBreakerOpen:
		subject = "Circuit Breaker OPEN"
		message = fmt.Sprintf(
			"The %v circuit breaker has tripped after %v consecutive failures.\n\n"+
				"Lyrics lookups will fail fast for %v.",
			event.Data["name"], event.Data["failures"], event.Data["cooldown"])

	case EventCacheUnavailable:
		subject = "Lyrics Cache Unavailable"
		message = fmt.Sprintf(
			"The lyrics cache at %v could not be opened.\n\n"+
				"Error: %v\n\n"+
				"Lyrics still resolve but nothing is persisted.",
			event.Data["path"], event.Data["error"])

	case EventHighFailureRate:
		subject = "High Failure Rate"
		message = fmt.Sprintf("The %v upstream has failed %v times in a row (threshold %v).",
			event.Data["name"], event.Data["failures"], event.Data["threshold"])

	case EventCircuitBreakerRecovered:
		subject = "Circuit Breaker Recovered"
		message = fmt.Sprintf("The %v circuit breaker has recovered and is now operational.", event.Data["name"])

	case EventServerStarted:
		subject = "Server Started"
		message = fmt.Sprintf("Server started successfully on port %v (cache enabled: %v).",
			event.Data["port"], event.Data["cache_enabled"])

	default:
		return "", ""
	}

	switch event.Severity {
	case SeverityCritical:
		subject = "🚨 " + subject
	case SeverityWarning:
		subject = "⚠️ " + subject
	case SeverityInfo:
		subject = "ℹ️ " + subject
	}

	return subject, message
}

// sendAlert sends the alert through all configured notifiers
func (h *AlertHandler) sendAlert(subject, message string) {
	if len(h.notifiers) == 0 {
		log.Debugf("%s No notifiers configured, skipping alert: %s", logcolors.LogNotifier, subject)
		return
	}

	log.Infof("%s Sending alert: %s", logcolors.LogNotifier, subject)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	successCount := 0
	for _, n := range h.notifiers {
		if err := n.Send(ctx, subject, message); err != nil {
			log.Errorf("%s Failed to send alert via notifier: %v", logcolors.LogNotifier, err)
		} else {
			successCount++
		}
	}

	if successCount > 0 {
		log.Infof("%s Alert sent successfully via %d/%d notifiers", logcolors.LogNotifier, successCount, len(h.notifiers))
	}
}

// ResetCooldown manually resets the cooldown for a specific event type
func (h *AlertHandler) ResetCooldown(eventType EventType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.cooldowns, eventType)
}
