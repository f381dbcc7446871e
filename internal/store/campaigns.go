package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"outreach-engine/internal/domain"
)

func (s *Store) CreateCampaign(ctx context.Context, c domain.Campaign) (domain.Campaign, error) {
	now := s.stamp()
	if c.Status == "" {
		c.Status = domain.CampaignScheduled
	}
	if c.ScheduledFor.IsZero() {
		c.ScheduledFor = parseTime(now)
	}
	if _, err := s.exec(ctx, `
INSERT INTO campaigns (id, name, session_id, status, scheduled_for, created_at)
VALUES (?, ?, ?, ?, ?, ?);`,
		c.ID, c.Name, c.SessionID, string(c.Status), fmtTime(c.ScheduledFor), now,
	); err != nil {
		return domain.Campaign{}, fmt.Errorf("insert campaign: %w", err)
	}
	c.CreatedAt = parseTime(now)
	return c, nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	c, err := scanCampaign(s.queryRow(ctx, campaignSelect+` WHERE c.id = ? GROUP BY `+campaignGroup+`;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Campaign{}, ErrNotFound
	}
	return c, err
}

const campaignSelect = `
SELECT c.id, c.name, c.session_id, c.status, c.scheduled_for, c.created_at,
  COALESCE(SUM(CASE WHEN q.status = 'sent' THEN 1 ELSE 0 END), 0),
  COUNT(q.id)
FROM campaigns c LEFT JOIN dm_queue q ON q.campaign_id = c.id`

const campaignGroup = `c.id, c.name, c.session_id, c.status, c.scheduled_for, c.created_at`

// ListCampaigns returns newest first with the sent/total counts of their queue entries.
func (s *Store) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := s.query(ctx, campaignSelect+` GROUP BY `+campaignGroup+` ORDER BY c.created_at DESC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	res, err := s.exec(ctx, `UPDATE campaigns SET status = ? WHERE id = ?;`, string(status), id)
	if err != nil {
		return fmt.Errorf("set campaign status: %w", err)
	}
	if affected(res) == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCampaign(sc scanner) (domain.Campaign, error) {
	var (
		c                          domain.Campaign
		status, scheduled, created string
	)
	if err := sc.Scan(&c.ID, &c.Name, &c.SessionID, &status, &scheduled, &created, &c.Sent, &c.Total); err != nil {
		return domain.Campaign{}, err
	}
	c.Status = domain.CampaignStatus(status)
	c.ScheduledFor = parseTime(scheduled)
	c.CreatedAt = parseTime(created)
	return c, nil
}
