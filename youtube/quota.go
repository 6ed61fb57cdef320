package youtube

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"clipsync/internal/atomicfile"
	"clipsync/internal/logging"
)

// Data API unit costs.
const (
	CostInsert = 1600
	CostList   = 1
	CostUpdate = 50

	// DefaultDailyQuota is the default project allowance.
	DefaultDailyQuota = 10000
)

// QuotaTracker estimates API units spent today and refuses calls that would
// exceed the daily allowance. The allowance resets at midnight Pacific time.
// A tracker opened with OpenQuotaTracker keeps its count in a state file so
// that consecutive runs share one allowance. A nil tracker allows everything.
type QuotaTracker struct {
	mu        sync.Mutex
	limit     int
	used      int
	day       string
	exhausted bool
	path      string
	loc       *time.Location
	now       func() time.Time
	log       *logging.Logger
}

// quotaState is the on-disk form of a tracker's day.
type quotaState struct {
	Day       string `json:"day"`
	Used      int    `json:"used"`
	Exhausted bool   `json:"exhausted"`
}

// NewQuotaTracker creates a tracker for a daily allowance of limit units.
// limit <= 0 uses DefaultDailyQuota.
func NewQuotaTracker(limit int, log *logging.Logger) *QuotaTracker {
	if limit <= 0 {
		limit = DefaultDailyQuota
	}
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		loc = time.UTC
	}
	return &QuotaTracker{limit: limit, loc: loc, now: time.Now, log: log.With("quota")}
}

// OpenQuotaTracker creates a tracker whose usage is loaded from and saved to
// the JSON state file at path. A missing file starts the day at zero.
func OpenQuotaTracker(path string, limit int, log *logging.Logger) (*QuotaTracker, error) {
	q := NewQuotaTracker(limit, log)
	q.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return q, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read quota state: %w", err)
	}
	var st quotaState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse quota state %s: %w", path, err)
	}
	q.day, q.used, q.exhausted = st.Day, st.Used, st.Exhausted
	return q, nil
}

// Reserve charges units against today's allowance. It returns an error
// wrapping ErrQuotaExhausted, without charging, when the units do not fit.
func (q *QuotaTracker) Reserve(op string, units int) error {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()

	if q.exhausted || q.used+units > q.limit {
		return &APIError{Op: op, Err: fmt.Errorf("%w: %d of %d units used, %d needed",
			ErrQuotaExhausted, q.used, q.limit, units)}
	}
	q.used += units
	q.log.Debug("%s: %d units, %d remaining", op, units, q.limit-q.used)
	q.save()
	return nil
}

// Exhaust marks today's allowance as spent after the API reported so.
func (q *QuotaTracker) Exhaust() {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	if !q.exhausted {
		q.log.Warn("daily quota exhausted (estimated use %d of %d)", q.used, q.limit)
	}
	q.exhausted = true
	q.save()
}

// Remaining returns the estimated units left today.
func (q *QuotaTracker) Remaining() int {
	if q == nil {
		return DefaultDailyQuota
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	if q.exhausted {
		return 0
	}
	return q.limit - q.used
}

func (q *QuotaTracker) rollover() {
	day := q.now().In(q.loc).Format(time.DateOnly)
	if day != q.day {
		if q.day != "" {
			q.log.Info("quota reset (new day)")
		}
		q.day = day
		q.used = 0
		q.exhausted = false
	}
}

// save writes the current day to the state file. A failed write only costs
// accuracy of the estimate, so it is logged rather than returned.
func (q *QuotaTracker) save() {
	if q.path == "" {
		return
	}
	data, err := json.Marshal(quotaState{Day: q.day, Used: q.used, Exhausted: q.exhausted})
	if err == nil {
		err = atomicfile.WriteFile(q.path, data, 0o600)
	}
	if err != nil {
		q.log.Warn("save quota state: %v", err)
	}
}
