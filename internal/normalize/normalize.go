package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/yksanjo/tinyguardian/pkg/models"
)

// ErrMalformedEvent marks payloads that cannot be normalized. Such
// events are dropped and counted, never retried.
var ErrMalformedEvent = errors.New("malformed event")

var (
	topicDeviceRegex = regexp.MustCompile(`devices/([^/]+)`)
	ipRegex          = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	userRegexes      = []*regexp.Regexp{
		regexp.MustCompile(`(?i)user[=:]\s*(\w+)`),
		regexp.MustCompile(`(?i)username[=:]\s*(\w+)`),
		regexp.MustCompile(`(?i)login[=:]\s*(\w+)`),
	}
	textPrefixRegex = regexp.MustCompile(`^\[([^\]]+)\]\s*(.*)$`)
)

// jsonPayload is the structured wire form some devices emit.
type jsonPayload struct {
	DeviceID   string `json:"device_id"`
	Device     string `json:"device"`
	Message    string `json:"message"`
	Log        string `json:"log"`
	RawMessage string `json:"raw_message"`
	Timestamp  string `json:"timestamp"`
	SourceIP   string `json:"source_ip"`
	User       string `json:"user"`
}

// Normalizer converts raw feed payloads into canonical events.
type Normalizer struct {
	now func() time.Time
}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// WithClock overrides the ingestion clock. Intended for tests.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// Normalize parses a raw payload delivered on topic into an Event.
// Payloads may be JSON objects or plain log lines; the device id falls
// back to the devices/<id> topic segment when the payload carries none.
// Timestamps missing from the payload default to ingestion time.
func (n *Normalizer) Normalize(topic string, payload []byte) (*models.Event, error) {
	raw := strings.TrimSpace(string(payload))
	if raw == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedEvent)
	}

	received := n.now()
	event := &models.Event{
		Topic:      topic,
		ReceivedAt: received,
		Timestamp:  received,
	}

	if strings.HasPrefix(raw, "{") {
		if err := n.parseJSON(raw, event); err != nil {
			return nil, err
		}
	} else {
		n.parseText(raw, event)
	}

	if event.DeviceID == "" {
		event.DeviceID = deviceFromTopic(topic)
	}
	if event.DeviceID == "" {
		return nil, fmt.Errorf("%w: no device id in payload or topic %q", ErrMalformedEvent, topic)
	}
	if strings.TrimSpace(event.RawMessage) == "" {
		return nil, fmt.Errorf("%w: empty message from device %s", ErrMalformedEvent, event.DeviceID)
	}

	if event.SourceIP == "" {
		event.SourceIP = ipRegex.FindString(event.RawMessage)
	}
	if event.User == "" {
		event.User = extractUser(event.RawMessage)
	}

	return event, nil
}

func (n *Normalizer) parseJSON(raw string, event *models.Event) error {
	var p jsonPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	event.DeviceID = firstNonEmpty(p.DeviceID, p.Device)
	event.RawMessage = firstNonEmpty(p.Message, p.Log, p.RawMessage)
	event.SourceIP = p.SourceIP
	event.User = p.User

	if p.Timestamp != "" {
		if ts, ok := parseTimestamp(p.Timestamp); ok {
			event.Timestamp = ts
		}
	}
	return nil
}

// parseText handles bare log lines, including the "[<timestamp>] msg"
// prefix convention used by device firmwares in the field.
func (n *Normalizer) parseText(raw string, event *models.Event) {
	event.RawMessage = raw
	if m := textPrefixRegex.FindStringSubmatch(raw); m != nil {
		if ts, ok := parseTimestamp(m[1]); ok {
			event.Timestamp = ts
			event.RawMessage = strings.TrimSpace(m[2])
		}
	}
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999",
		"2006-01-02 15:04:05.999999",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func deviceFromTopic(topic string) string {
	if m := topicDeviceRegex.FindStringSubmatch(topic); m != nil {
		return m[1]
	}
	return ""
}

func extractUser(message string) string {
	for _, re := range userRegexes {
		if m := re.FindStringSubmatch(message); m != nil {
			return m[1]
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
