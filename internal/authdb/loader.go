// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package authdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/sixgate/sixgate/internal/authindex"
)

// sourceRow mirrors the source table.
type sourceRow struct {
	SourceID           string `db:"source_id"`
	AnonymizedSourceID string `db:"anonymized_source_id"`
}

// subsourceRow mirrors the subsource table.
type subsourceRow struct {
	ID       int64  `db:"id"`
	Label    string `db:"label"`
	SourceID string `db:"source_id"`
}

// criteriaRow is one criterion value of a subsource.
type criteriaRow struct {
	SubsourceID int64  `db:"subsource_id"`
	Value       string `db:"value"`
}

type criteriaASNRow struct {
	SubsourceID int64 `db:"subsource_id"`
	ASN         int64 `db:"asn"`
}

// subscriptionRow links an org to a subsource within a zone.
type subscriptionRow struct {
	OrgID       string `db:"org_id"`
	SubsourceID int64  `db:"subsource_id"`
	Zone        string `db:"zone"`
}

// orgRow mirrors the org table's notification-relevant columns.
type orgRow struct {
	OrgID            string `db:"org_id"`
	Language         string `db:"notification_language"`
	BusinessDaysOnly bool   `db:"notification_business_days_only"`
	FullAccess       bool   `db:"full_access"`
}

type orgValueRow struct {
	OrgID string `db:"org_id"`
	Value string `db:"value"`
}

// IndexLoader builds authorization snapshots from the Auth DB.
type IndexLoader struct {
	db *sqlx.DB
}

// NewIndexLoader wraps an open connection pool.
func NewIndexLoader(db *sqlx.DB) *IndexLoader {
	return &IndexLoader{db: db}
}

// Load reads the whole schema and compiles a fresh index snapshot.
func (l *IndexLoader) Load(ctx context.Context) (*authindex.Index, error) {
	b := authindex.NewBuilder()

	var sources []sourceRow
	if err := l.db.SelectContext(ctx, &sources,
		`SELECT source_id, anonymized_source_id FROM source`); err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	for _, s := range sources {
		b.AddSource(s.SourceID, s.AnonymizedSourceID)
	}

	var subsources []subsourceRow
	if err := l.db.SelectContext(ctx, &subsources,
		`SELECT id, label, source_id FROM subsource`); err != nil {
		return nil, fmt.Errorf("load subsources: %w", err)
	}

	categories, err := l.criteriaValues(ctx, "criteria_category", "category")
	if err != nil {
		return nil, err
	}
	names, err := l.criteriaValues(ctx, "criteria_name", "name")
	if err != nil {
		return nil, err
	}
	ccs, err := l.criteriaValues(ctx, "criteria_cc", "cc")
	if err != nil {
		return nil, err
	}
	networks, err := l.criteriaValues(ctx, "criteria_ip_network", "ip_network")
	if err != nil {
		return nil, err
	}

	var asnRows []criteriaASNRow
	if err := l.db.SelectContext(ctx, &asnRows,
		`SELECT subsource_id, asn FROM criteria_asn`); err != nil {
		return nil, fmt.Errorf("load criteria_asn: %w", err)
	}
	asns := make(map[int64][]int64)
	for _, r := range asnRows {
		asns[r.SubsourceID] = append(asns[r.SubsourceID], r.ASN)
	}

	refints := make(map[int64]struct {
		source string
		refint string
	}, len(subsources))
	for _, sub := range subsources {
		var preds []authindex.Predicate
		if v := categories[sub.ID]; len(v) > 0 {
			preds = append(preds, authindex.CategoryIn(v))
		}
		if v := names[sub.ID]; len(v) > 0 {
			preds = append(preds, authindex.NameIn(v))
		}
		if v := ccs[sub.ID]; len(v) > 0 {
			preds = append(preds, authindex.CCIn(v))
		}
		if v := networks[sub.ID]; len(v) > 0 {
			preds = append(preds, authindex.IPNetworkIn(v))
		}
		if v := asns[sub.ID]; len(v) > 0 {
			preds = append(preds, authindex.ASNIn(v))
		}
		b.AddSubsource(sub.SourceID, &authindex.Subsource{
			RefInt:    sub.Label,
			Predicate: authindex.And(preds...),
		})
		refints[sub.ID] = struct {
			source string
			refint string
		}{sub.SourceID, sub.Label}
	}

	var subscriptions []subscriptionRow
	if err := l.db.SelectContext(ctx, &subscriptions,
		`SELECT org_id, subsource_id, zone FROM org_subsource`); err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}
	for _, s := range subscriptions {
		ref, ok := refints[s.SubsourceID]
		if !ok {
			continue
		}
		b.Subscribe(ref.source, ref.refint, strings.ToLower(s.Zone), s.OrgID)
	}

	if err := l.loadNotificationConfigs(ctx, b); err != nil {
		return nil, err
	}

	return b.Build(), nil
}

func (l *IndexLoader) criteriaValues(ctx context.Context, table, column string) (map[int64][]string, error) {
	var rows []criteriaRow
	query := fmt.Sprintf(`SELECT subsource_id, %s AS value FROM %s`, column, table)
	if err := l.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	out := make(map[int64][]string)
	for _, r := range rows {
		out[r.SubsourceID] = append(out[r.SubsourceID], r.Value)
	}
	return out, nil
}

func (l *IndexLoader) loadNotificationConfigs(ctx context.Context, b *authindex.Builder) error {
	var orgs []orgRow
	if err := l.db.SelectContext(ctx, &orgs,
		`SELECT org_id, notification_language, notification_business_days_only, full_access FROM org`); err != nil {
		return fmt.Errorf("load orgs: %w", err)
	}

	var emails []orgValueRow
	if err := l.db.SelectContext(ctx, &emails,
		`SELECT org_id, email AS value FROM email_notification_address`); err != nil {
		return fmt.Errorf("load notification addresses: %w", err)
	}
	emailsByOrg := make(map[string][]string)
	for _, r := range emails {
		emailsByOrg[r.OrgID] = append(emailsByOrg[r.OrgID], r.Value)
	}

	var times []orgValueRow
	if err := l.db.SelectContext(ctx, &times,
		`SELECT org_id, notification_time AS value FROM email_notification_time`); err != nil {
		return fmt.Errorf("load notification times: %w", err)
	}
	timesByOrg := make(map[string][]string)
	for _, r := range times {
		timesByOrg[r.OrgID] = append(timesByOrg[r.OrgID], r.Value)
	}

	for _, org := range orgs {
		b.SetNotificationConfig(authindex.NotificationConfig{
			OrgID:            org.OrgID,
			Emails:           emailsByOrg[org.OrgID],
			Times:            timesByOrg[org.OrgID],
			Language:         org.Language,
			BusinessDaysOnly: org.BusinessDaysOnly,
			FullAccess:       org.FullAccess,
		})
	}
	return nil
}
