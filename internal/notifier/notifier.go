// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package notifier sends per-organization scheduled email digests built from
// the per-client counters. On every tick it walks all notification configs,
// decides per org whether a configured send time has been reached on a
// permitted day, and mails the counter deltas accumulated since the last
// digest.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sixgate/sixgate/internal/authindex"
	"github.com/sixgate/sixgate/internal/counter"
	"github.com/sixgate/sixgate/internal/metrics"
)

// Config holds the notifier component settings.
type Config struct {
	TemplatesDirPath string `koanf:"templates_dir_path" validate:"required"`
	// Templates maps a language tag to its template name within the dir.
	Templates       map[string]string `koanf:"templates"`
	DefaultLanguage string            `koanf:"default_notifications_language"`

	SMTPHost     string `koanf:"server_smtp_host"`
	SMTPPort     int    `koanf:"server_smtp_port" validate:"min=1,max=65535"`
	SMTPUser     string `koanf:"server_smtp_user"`
	SMTPPassword string `koanf:"server_smtp_password"`
	SMTPUseTLS   bool   `koanf:"server_smtp_use_tls"`
	FromAddr     string `koanf:"fromaddr" validate:"omitempty,email"`
	Subject      string `koanf:"subject"`

	RegularDaysOff               []string `koanf:"regular_days_off"`
	MovableDaysOffByEasterOffset []int    `koanf:"movable_days_off_by_easter_offset"`

	TickInterval time.Duration `koanf:"tick_interval"`
}

// DefaultConfig returns the notifier defaults.
func DefaultConfig() Config {
	return Config{
		TemplatesDirPath: "/etc/sixgate/notifier/templates",
		DefaultLanguage:  "en",
		SMTPPort:         25,
		Subject:          "Security events digest",
		TickInterval:     time.Minute,
	}
}

// IndexProvider yields the live authorization snapshot the notification
// configs live in.
type IndexProvider interface {
	Current() *authindex.Index
}

// Notifier runs the digest schedule. Implements suture.Service.
type Notifier struct {
	cfg       Config
	index     IndexProvider
	counters  *counter.Store
	state     *StateStore
	templates *TemplateSet
	mailer    Mailer
	calendar  *Calendar
	logger    zerolog.Logger
	now       func() time.Time
}

// New wires the notifier from its collaborators.
func New(cfg Config, index IndexProvider, counters *counter.Store, state *StateStore, templates *TemplateSet, mailer Mailer, logger zerolog.Logger) (*Notifier, error) {
	calendar, err := NewCalendar(cfg.RegularDaysOff, cfg.MovableDaysOffByEasterOffset)
	if err != nil {
		return nil, err
	}
	return &Notifier{
		cfg:       cfg,
		index:     index,
		counters:  counters,
		state:     state,
		templates: templates,
		mailer:    mailer,
		calendar:  calendar,
		logger:    logger.With().Str("component", "notifier").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Serve ticks until ctx is cancelled.
func (n *Notifier) Serve(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.RunOnce(ctx)
		}
	}
}

// RunOnce processes every org with a notification config. Per-org failures
// are logged and never abort the run.
func (n *Notifier) RunOnce(ctx context.Context) {
	now := n.now()
	for _, cfg := range n.index.Current().NotificationConfigs() {
		if err := n.processOrg(ctx, cfg, now); err != nil {
			metrics.NotificationsSent.WithLabelValues("error").Inc()
			n.logger.Error().Err(err).Str("org_id", cfg.OrgID).Msg("Digest processing failed")
		}
	}
}

// processOrg runs the digest decision chain for one org.
func (n *Notifier) processOrg(ctx context.Context, cfg authindex.NotificationConfig, now time.Time) error {
	log := n.logger.With().Str("org_id", cfg.OrgID).Logger()

	if len(cfg.Emails) == 0 || len(cfg.Times) == 0 {
		log.Debug().Msg("No addresses or send times configured, skipped")
		return nil
	}
	if cfg.BusinessDaysOnly && !n.calendar.IsBusinessDay(now) {
		log.Debug().Msg("Not a business day, skipped")
		return nil
	}

	state, known, err := n.state.Load(ctx, cfg.OrgID)
	if err != nil {
		return err
	}
	if !known {
		// First sighting: start the clock, send nothing.
		log.Info().Msg("First run for org, recording baseline")
		return n.state.Touch(ctx, cfg.OrgID, now)
	}

	sendTime, due := n.dueAt(cfg, state.LastSendTime, now)
	if !due {
		return nil
	}

	current, err := n.counters.Counters(ctx, cfg.OrgID)
	if err != nil {
		return err
	}
	deltas := positiveDeltas(current, state.LastSendCounter)
	if len(deltas) == 0 {
		log.Debug().Time("send_time", sendTime).Msg("No new events since last digest, skipped")
		return nil
	}

	body, err := n.templates.Render(DigestContext{
		OrgID:    cfg.OrgID,
		Language: cfg.Language,
		Deltas:   deltas,
		LastSend: state.LastSendTime,
		Now:      now,
	})
	if err != nil {
		if errors.Is(err, ErrTemplate) {
			metrics.NotificationsSent.WithLabelValues("template_error").Inc()
			log.Error().Err(err).Msg("Template failed, org skipped")
			return nil
		}
		return err
	}

	if err := n.mailer.Send(ctx, cfg.Emails, n.cfg.Subject, body); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}
	metrics.NotificationsSent.WithLabelValues("sent").Inc()
	log.Info().
		Time("send_time", sendTime).
		Int("categories", len(deltas)).
		Strs("to", cfg.Emails).
		Msg("Digest sent")

	return n.state.Save(ctx, cfg.OrgID, OrgState{
		LastSendTime:    now,
		LastSendCounter: current,
	})
}

// dueAt reports whether a configured "HH:MM" send time falls within
// (lastSend, now], walking backwards through prior permitted days. The most
// recent matching time is returned.
func (n *Notifier) dueAt(cfg authindex.NotificationConfig, lastSend, now time.Time) (time.Time, bool) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	lastDay := time.Date(lastSend.Year(), lastSend.Month(), lastSend.Day(), 0, 0, 0, 0, time.UTC)

	for !day.Before(lastDay) {
		if !cfg.BusinessDaysOnly || n.calendar.IsBusinessDay(day) {
			var best time.Time
			for _, hhmm := range cfg.Times {
				t, err := time.Parse("15:04", hhmm)
				if err != nil {
					n.logger.Warn().Str("org_id", cfg.OrgID).Str("time", hhmm).Msg("Unparseable notification time ignored")
					continue
				}
				candidate := day.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
				if candidate.After(lastSend) && !candidate.After(now) && candidate.After(best) {
					best = candidate
				}
			}
			if !best.IsZero() {
				return best, true
			}
		}
		day = day.AddDate(0, 0, -1)
	}
	return time.Time{}, false
}

// positiveDeltas subtracts the last-send snapshot from the current totals,
// keeping only categories that grew.
func positiveDeltas(current, last map[string]int64) map[string]int64 {
	out := make(map[string]int64)
	for category, total := range current {
		if delta := total - last[category]; delta > 0 {
			out[category] = delta
		}
	}
	return out
}

// String implements fmt.Stringer for suture service naming.
func (n *Notifier) String() string { return "notifier" }
