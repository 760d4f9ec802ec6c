// Package report implements the time-driven summary dispatch of §4.9 step
// 5: morning/noon/evening daily summaries plus weekly and monthly rollups,
// built from the Durable Store's trade history and sent through the
// Notifier like every other trade event.
package report

import (
	"context"
	"fmt"
	"time"

	"tradecore/internal/models"
	"tradecore/internal/position"
	"tradecore/internal/repository"
)

// Notifier is the minimal surface report needs — it only ever sends.
type Notifier interface {
	Notify(n *models.Notification)
}

// Clock abstracts time.Now so schedule-matching logic can be driven by
// fixed timestamps in tests instead of racing the wall clock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Reporter builds and dispatches periodic performance summaries.
type Reporter struct {
	trades    *repository.TradeRepository
	positions *position.Store
	notifier  Notifier
	clock     Clock
}

// NewReporter wires a Reporter to its collaborators, using the real wall
// clock.
func NewReporter(trades *repository.TradeRepository, positions *position.Store, notifier Notifier) *Reporter {
	return &Reporter{trades: trades, positions: positions, notifier: notifier, clock: realClock{}}
}

// DailySummary sends the named daily report (morning/noon/evening) with
// today's realized PnL and the current open-position count.
func (r *Reporter) DailySummary(ctx context.Context, label string) error {
	now := r.clock.Now()
	d, err := r.trades.GetDailyPnL(ctx, now.Format("2006-01-02"))
	if err != nil {
		return err
	}
	r.send(label, d.RealizedPnl, d.TradeCount, d.Wins, d.Losses, now, now)
	return nil
}

// WeeklySummary sends the trailing-seven-day rollup.
func (r *Reporter) WeeklySummary(ctx context.Context) error {
	now := r.clock.Now()
	from := now.AddDate(0, 0, -7)
	days, err := r.trades.GetDailyPnLRange(ctx, from, now)
	if err != nil {
		return err
	}
	pnl, trades, wins, losses := sumDailyPnL(days)
	r.send("weekly", pnl, trades, wins, losses, from, now)
	return nil
}

// MonthlySummary sends the trailing one-calendar-month rollup.
func (r *Reporter) MonthlySummary(ctx context.Context) error {
	now := r.clock.Now()
	from := now.AddDate(0, -1, 0)
	days, err := r.trades.GetDailyPnLRange(ctx, from, now)
	if err != nil {
		return err
	}
	pnl, trades, wins, losses := sumDailyPnL(days)
	r.send("monthly", pnl, trades, wins, losses, from, now)
	return nil
}

func sumDailyPnL(days []*models.DailyPnL) (pnl float64, trades, wins, losses int) {
	for _, d := range days {
		pnl += d.RealizedPnl
		trades += d.TradeCount
		wins += d.Wins
		losses += d.Losses
	}
	return
}

func (r *Reporter) send(period string, pnl float64, tradeCount, wins, losses int, from, to time.Time) {
	open := len(r.positions.GetOpenPositions()) + len(r.positions.GetOpenPairPositions())
	msg := fmt.Sprintf("%s report: pnl=%.2f trades=%d wins=%d losses=%d open_positions=%d window=%s..%s",
		period, pnl, tradeCount, wins, losses, open, from.Format("2006-01-02"), to.Format("2006-01-02"))
	r.notifier.Notify(&models.Notification{
		Type:     models.NotificationDailySummary,
		Severity: models.SeverityInfo,
		Message:  msg,
		Meta:     map[string]interface{}{"period": period, "pnl": pnl, "open_positions": open},
	})
}

// Schedule matches the current time against the configured report times
// (HH:MM, 24h) and weekly/monthly trigger days, per §4.9's "time-driven
// report dispatch" — called once a cycle so a report fires at most once
// per minute it matches, not once per cycle inside that minute.
type Schedule struct {
	MorningTime string
	NoonTime    string
	EveningTime string
	WeeklyDay   string
	WeeklyTime  string
	MonthlyDay  int
	MonthlyTime string
}

// DueReports returns the labels of every report whose trigger matches now,
// truncated to the minute so a single matching minute fires exactly once
// regardless of cycle frequency within it.
func (s Schedule) DueReports(now time.Time) []string {
	hhmm := now.Format("15:04")
	var due []string
	if hhmm == s.MorningTime {
		due = append(due, "morning")
	}
	if hhmm == s.NoonTime {
		due = append(due, "noon")
	}
	if hhmm == s.EveningTime {
		due = append(due, "evening")
	}
	if hhmm == s.WeeklyTime && weekdayName(now.Weekday()) == s.WeeklyDay {
		due = append(due, "weekly")
	}
	if hhmm == s.MonthlyTime && now.Day() == s.MonthlyDay {
		due = append(due, "monthly")
	}
	return due
}

func weekdayName(d time.Weekday) string {
	switch d {
	case time.Monday:
		return "monday"
	case time.Tuesday:
		return "tuesday"
	case time.Wednesday:
		return "wednesday"
	case time.Thursday:
		return "thursday"
	case time.Friday:
		return "friday"
	case time.Saturday:
		return "saturday"
	default:
		return "sunday"
	}
}
