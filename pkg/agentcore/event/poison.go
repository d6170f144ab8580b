package event

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// PoisonDetector flags events that keep failing so the redeliverer can park
// them instead of burning replay attempts indefinitely.
type PoisonDetector struct {
	mu       sync.RWMutex
	failures map[string]*failureRecord
	cfg      PoisonConfig
}

// failureRecord tracks failures for a specific event pattern.
type failureRecord struct {
	Hash         string
	EventName    string
	FailureCount int
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
}

// PoisonConfig configures poison detection.
type PoisonConfig struct {
	// FailureThreshold is the number of failures before flagging as poison.
	// Default: 3
	FailureThreshold int

	// Window is how long failures count toward the threshold.
	// Default: 1 hour
	Window time.Duration

	// HashFunc customizes how failed deliveries are grouped.
	// Default: SHA256 of event name and serialized payload.
	HashFunc func(*FailedDelivery) string

	// OnDetect is called once when a pattern crosses the threshold.
	OnDetect func(*FailedDelivery, int)
}

// DefaultPoisonConfig provides reasonable defaults.
var DefaultPoisonConfig = PoisonConfig{
	FailureThreshold: 3,
	Window:           1 * time.Hour,
}

// NewPoisonDetector creates a new detector.
func NewPoisonDetector(cfg PoisonConfig) *PoisonDetector {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultPoisonConfig.FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultPoisonConfig.Window
	}
	if cfg.HashFunc == nil {
		cfg.HashFunc = defaultPoisonHash
	}

	return &PoisonDetector{
		failures: make(map[string]*failureRecord),
		cfg:      cfg,
	}
}

// defaultPoisonHash groups failures by event name and payload content.
func defaultPoisonHash(failed *FailedDelivery) string {
	h := sha256.New()
	h.Write([]byte(failed.EventName))
	h.Write(failed.DataBytes)
	return hex.EncodeToString(h.Sum(nil))
}

// Record logs one replay failure for analysis. Expired records are pruned
// as a side effect.
func (d *PoisonDetector) Record(failed *FailedDelivery) {
	hash := d.cfg.HashFunc(failed)
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for h, record := range d.failures {
		if now.Sub(record.FirstSeenAt) > d.cfg.Window {
			delete(d.failures, h)
		}
	}

	record, exists := d.failures[hash]
	if !exists {
		record = &failureRecord{
			Hash:        hash,
			EventName:   failed.EventName,
			FirstSeenAt: now,
		}
		d.failures[hash] = record
	}

	record.FailureCount++
	record.LastSeenAt = now

	if record.FailureCount == d.cfg.FailureThreshold && d.cfg.OnDetect != nil {
		d.cfg.OnDetect(failed, record.FailureCount)
	}
}

// IsPoison reports whether a delivery matches a known failing pattern.
func (d *PoisonDetector) IsPoison(failed *FailedDelivery) bool {
	hash := d.cfg.HashFunc(failed)

	d.mu.RLock()
	record, exists := d.failures[hash]
	d.mu.RUnlock()

	if !exists {
		return false
	}
	if time.Since(record.FirstSeenAt) > d.cfg.Window {
		return false
	}
	return record.FailureCount >= d.cfg.FailureThreshold
}

// FailureCount returns the number of recorded failures for a delivery's
// pattern within the current window.
func (d *PoisonDetector) FailureCount(failed *FailedDelivery) int {
	hash := d.cfg.HashFunc(failed)

	d.mu.RLock()
	defer d.mu.RUnlock()

	record, exists := d.failures[hash]
	if !exists || time.Since(record.FirstSeenAt) > d.cfg.Window {
		return 0
	}
	return record.FailureCount
}

// Clear resets failure tracking for a delivery's pattern.
func (d *PoisonDetector) Clear(failed *FailedDelivery) {
	hash := d.cfg.HashFunc(failed)

	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failures, hash)
}

// Stats returns detector statistics.
func (d *PoisonDetector) Stats() PoisonStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := PoisonStats{
		TrackedPatterns: len(d.failures),
	}
	for _, record := range d.failures {
		if record.FailureCount >= d.cfg.FailureThreshold {
			stats.PoisonCount++
		}
	}
	return stats
}

// PoisonStats provides detector statistics.
type PoisonStats struct {
	TrackedPatterns int // Unique patterns being tracked
	PoisonCount     int // Patterns past the failure threshold
}
