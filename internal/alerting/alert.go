// internal/alerting/alert.go
package alerting

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/fairlens/biasguard/internal/bias"
	"github.com/google/uuid"
)

// Alert states
const (
	StateNew          = "new"
	StateDispatched   = "dispatched"
	StateAcknowledged = "acknowledged"
	StateEscalated    = "escalated"
	StateResolved     = "resolved"
)

// DeliveryRecord is the outcome of one channel delivery attempt.
type DeliveryRecord struct {
	Channel string    `json:"channel"`
	Tier    string    `json:"tier"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Alert is one active finding. Repeated breaches with the same dedup key
// fold into it instead of creating duplicates.
type Alert struct {
	mu sync.Mutex

	id        string
	dedupKey  string
	dimension string
	category  string
	severity  bias.Severity

	state       string
	occurrences int
	score       float64
	windowMean  float64
	firstSeen   time.Time
	lastSeen    time.Time

	// tier is the severity level whose channel set the alert was last
	// dispatched to; escalation steps it up, one tier at a time.
	tier           bias.Severity
	lastTierChange time.Time

	acknowledgedBy string
	acknowledgedAt time.Time
	resolvedAt     time.Time

	deliveries []DeliveryRecord
}

func newAlert(dimension, category string, severity bias.Severity, score, mean float64, now time.Time) *Alert {
	return &Alert{
		id:             uuid.New().String(),
		dedupKey:       DedupKey(dimension, category, severity),
		dimension:      dimension,
		category:       category,
		severity:       severity,
		state:          StateNew,
		occurrences:    1,
		score:          score,
		windowMean:     mean,
		firstSeen:      now,
		lastSeen:       now,
		tier:           severity,
		lastTierChange: now,
	}
}

// DedupKey derives the composite identifier that merges repeated occurrences
// of the same finding into one active alert.
func DedupKey(dimension, category string, severity bias.Severity) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", dimension, category, severity)))
	return hex.EncodeToString(sum[:16])
}

// ID returns the alert ID.
func (a *Alert) ID() string { return a.id }

// Key returns the dedup key.
func (a *Alert) Key() string { return a.dedupKey }

// State returns the current state.
func (a *Alert) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Severity returns the severity the alert fired at.
func (a *Alert) Severity() bias.Severity { return a.severity }

// Tier returns the tier whose channels were last notified.
func (a *Alert) Tier() bias.Severity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tier
}

// Occurrences returns how many breaches folded into this alert.
func (a *Alert) Occurrences() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.occurrences
}

// LastSeen returns the most recent breach time.
func (a *Alert) LastSeen() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSeen
}

// Deliveries returns a copy of the delivery log.
func (a *Alert) Deliveries() []DeliveryRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]DeliveryRecord, len(a.deliveries))
	copy(out, a.deliveries)
	return out
}

// fold merges another breach into the alert.
func (a *Alert) fold(score, mean float64, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.occurrences++
	a.lastSeen = now
	if score > a.score {
		a.score = score
	}
	a.windowMean = mean
}

// recordDelivery appends one delivery outcome.
func (a *Alert) recordDelivery(rec DeliveryRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deliveries = append(a.deliveries, rec)
}

// markDispatched moves a new alert to dispatched.
func (a *Alert) markDispatched() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateNew {
		a.state = StateDispatched
	}
}

// Snapshot is a lock-free copy handed to channels and API consumers.
type Snapshot struct {
	ID          string           `json:"id"`
	DedupKey    string           `json:"dedup_key"`
	Dimension   string           `json:"dimension"`
	Category    string           `json:"category"`
	Severity    string           `json:"severity"`
	Tier        string           `json:"tier"`
	State       string           `json:"state"`
	Occurrences int              `json:"occurrences"`
	Score       float64          `json:"score"`
	WindowMean  float64          `json:"window_mean"`
	FirstSeen   time.Time        `json:"first_seen"`
	LastSeen    time.Time        `json:"last_seen"`
	Deliveries  []DeliveryRecord `json:"deliveries,omitempty"`
}

// snapshot copies the alert under its lock.
func (a *Alert) snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	deliveries := make([]DeliveryRecord, len(a.deliveries))
	copy(deliveries, a.deliveries)

	return Snapshot{
		ID:          a.id,
		DedupKey:    a.dedupKey,
		Dimension:   a.dimension,
		Category:    a.category,
		Severity:    a.severity.String(),
		Tier:        a.tier.String(),
		State:       a.state,
		Occurrences: a.occurrences,
		Score:       a.score,
		WindowMean:  a.windowMean,
		FirstSeen:   a.firstSeen,
		LastSeen:    a.lastSeen,
		Deliveries:  deliveries,
	}
}
