// Package news provides the economic-calendar client behind the
// news-blackout safety check. Events are fetched from a JSON calendar
// feed and cached; when the feed is unreachable a conservative fallback
// schedule keeps the highest-impact release covered.
package news

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/api"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/logger"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/trace"
)

// CalendarEvent is a single scheduled economic release.
type CalendarEvent struct {
	Title    string    `json:"title"`
	Currency string    `json:"country"`
	Impact   string    `json:"impact"`
	Time     time.Time `json:"-"`

	// DateRaw carries the feed's timestamp string; Time is parsed from
	// it after decoding.
	DateRaw string `json:"date"`
}

// Config configures the calendar client.
type Config struct {
	APIURL         string
	CacheTTL       time.Duration
	PauseBefore    time.Duration
	PauseAfter     time.Duration
	HighImpactOnly bool
	HTTPTimeout    time.Duration
}

// DefaultConfig pauses trading 30 minutes either side of high-impact
// releases and refreshes the feed every 30 minutes.
func DefaultConfig() Config {
	return Config{
		CacheTTL:       30 * time.Minute,
		PauseBefore:    30 * time.Minute,
		PauseAfter:     30 * time.Minute,
		HighImpactOnly: true,
		HTTPTimeout:    10 * time.Second,
	}
}

// Calendar fetches and caches the economic calendar and answers blackout
// queries for the safety gate.
type Calendar struct {
	cfg    Config
	client *api.Client

	mu        sync.Mutex
	events    []CalendarEvent
	fetchedAt time.Time

	now func() time.Time // test hook
}

// NewCalendar creates a calendar client. An empty APIURL disables
// fetching entirely; only the fallback schedule applies.
func NewCalendar(cfg Config) *Calendar {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &Calendar{
		cfg:    cfg,
		client: api.NewClient(api.WithTimeout(cfg.HTTPTimeout)),
		now:    time.Now,
	}
}

// InBlackout reports whether the symbol is inside a news pause window
// right now. Feed failures degrade to the fallback schedule rather than
// blocking trading outright.
func (c *Calendar) InBlackout(ctx context.Context, symbol string) bool {
	now := c.now()
	for _, ev := range c.eventsFor(ctx) {
		if c.cfg.HighImpactOnly && !strings.EqualFold(ev.Impact, "high") {
			continue
		}
		if !affects(symbol, ev.Currency) {
			continue
		}
		start := ev.Time.Add(-c.cfg.PauseBefore)
		end := ev.Time.Add(c.cfg.PauseAfter)
		if !now.Before(start) && !now.After(end) {
			logger.Debug(ctx, "Symbol inside news blackout",
				"symbol", symbol,
				"event", ev.Title,
				"currency", ev.Currency,
				"event_time", ev.Time.Format(time.RFC3339),
			)
			return true
		}
	}
	return false
}

// UpcomingEvents returns the cached events from now onward, for status
// reporting.
func (c *Calendar) UpcomingEvents(ctx context.Context) []CalendarEvent {
	now := c.now()
	var out []CalendarEvent
	for _, ev := range c.eventsFor(ctx) {
		if ev.Time.After(now) {
			out = append(out, ev)
		}
	}
	return out
}

// eventsFor returns the cached event list, refreshing it when stale.
func (c *Calendar) eventsFor(ctx context.Context) []CalendarEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.events != nil && now.Sub(c.fetchedAt) < c.cfg.CacheTTL {
		return c.events
	}

	events, err := c.fetch(ctx)
	if err != nil {
		logger.Warn(ctx, "Calendar fetch failed, using fallback schedule", "error", err)
		events = fallbackEvents(now)
	}
	c.events = events
	c.fetchedAt = now
	return c.events
}

func (c *Calendar) fetch(ctx context.Context) ([]CalendarEvent, error) {
	if c.cfg.APIURL == "" {
		return nil, fmt.Errorf("no calendar API configured")
	}

	ctx, span := trace.StartSpan(ctx, "fetch-economic-calendar")
	defer span.End()

	resp, err := c.client.GET(ctx, c.cfg.APIURL, api.BrowserHeaders())
	if err != nil {
		return nil, err
	}

	var raw []CalendarEvent
	if err := resp.ParseJSON(&raw); err != nil {
		return nil, fmt.Errorf("decode calendar: %w", err)
	}

	events := make([]CalendarEvent, 0, len(raw))
	for _, ev := range raw {
		t, err := time.Parse(time.RFC3339, ev.DateRaw)
		if err != nil {
			continue
		}
		ev.Time = t.UTC()
		ev.Currency = strings.ToUpper(ev.Currency)
		events = append(events, ev)
	}

	logger.Info(ctx, "Economic calendar refreshed", "events", len(events))
	return events, nil
}

// fallbackEvents covers Non-Farm Payrolls, the single release most worth
// pausing for, when the feed is down: first Friday of the month at 12:30
// UTC.
func fallbackEvents(now time.Time) []CalendarEvent {
	var out []CalendarEvent
	for _, month := range []time.Time{now, now.AddDate(0, 1, 0)} {
		out = append(out, CalendarEvent{
			Title:    "Non-Farm Payrolls",
			Currency: "USD",
			Impact:   "High",
			Time:     firstFriday(month.UTC()),
		})
	}
	return out
}

func firstFriday(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), 1, 12, 30, 0, 0, time.UTC)
	for d.Weekday() != time.Friday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// affects reports whether an event's currency is one of the symbol's
// legs. Unknown symbol shapes fall back to a substring match.
func affects(symbol, currency string) bool {
	s := strings.ToUpper(strings.ReplaceAll(symbol, ".", ""))
	currency = strings.ToUpper(currency)
	if currency == "" || s == "" {
		return false
	}
	if len(s) == 6 {
		return s[:3] == currency || s[3:] == currency
	}
	return strings.Contains(s, currency)
}
