package store

import (
	"context"
	"time"

	"outreach-engine/internal/domain"
)

// Analytics aggregates totals, per-campaign results, and the last days of activity.
func (s *Store) Analytics(ctx context.Context, days int) (domain.Analytics, error) {
	if days <= 0 {
		days = 7
	}
	var a domain.Analytics

	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM profiles;`).Scan(&a.TotalProfiles); err != nil {
		return a, err
	}
	st, err := s.DMStats(ctx)
	if err != nil {
		return a, err
	}
	a.TotalSent = st.TotalSent
	a.TotalFailed = st.TotalFailed
	a.SuccessRate = st.SuccessRate

	campaigns, err := s.ListCampaigns(ctx)
	if err != nil {
		return a, err
	}
	a.CampaignStats = make([]domain.CampaignStat, 0, len(campaigns))
	for _, c := range campaigns {
		a.CampaignStats = append(a.CampaignStats, domain.CampaignStat{
			Name:        c.Name,
			Sent:        c.Sent,
			Total:       c.Total,
			SuccessRate: domain.SuccessRate(c.Sent, c.Total-c.Sent),
		})
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	from := today.AddDate(0, 0, -(days - 1))

	sent, err := s.countByDay(ctx, `SELECT substr(sent_at, 1, 10), COUNT(*) FROM dm_queue
WHERE status = 'sent' AND sent_at >= ? GROUP BY substr(sent_at, 1, 10);`, fmtTime(from))
	if err != nil {
		return a, err
	}
	scraped, err := s.countByDay(ctx, `SELECT substr(created_at, 1, 10), COUNT(*) FROM profiles
WHERE created_at >= ? GROUP BY substr(created_at, 1, 10);`, fmtTime(from))
	if err != nil {
		return a, err
	}

	a.DailyActivity = make([]domain.DailyActivity, 0, days)
	for d := from; !d.After(today); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		a.DailyActivity = append(a.DailyActivity, domain.DailyActivity{Date: key, Sent: sent[key], Scraped: scraped[key]})
	}
	return a, nil
}

func (s *Store) countByDay(ctx context.Context, q string, args ...any) (map[string]int, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			day string
			n   int
		)
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		out[day] = n
	}
	return out, rows.Err()
}
