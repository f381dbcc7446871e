package domain

import "time"

type SessionRole string

const (
	RoleScraper SessionRole = "scraper"
	RoleSender  SessionRole = "sender"
)

func (r SessionRole) Valid() bool {
	return r == RoleScraper || r == RoleSender
}

type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionInactive SessionStatus = "inactive"
)

// Session is a stored credential bundle for one platform account.
// Token is never rendered back to API callers.
type Session struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Username  string        `json:"username"`
	Token     string        `json:"-"`
	Role      SessionRole   `json:"type"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

type ScrapeKind string

const (
	ScrapeFollowers ScrapeKind = "followers"
	ScrapeFollowing ScrapeKind = "following"
)

func (k ScrapeKind) Valid() bool {
	return k == ScrapeFollowers || k == ScrapeFollowing
}

// ScrapeRun is one request to enumerate followers/following of a target handle.
// Several runs submitted together share one ExternalHandle.
type ScrapeRun struct {
	ID             string     `json:"id"`
	TargetHandle   string     `json:"target_username"`
	Kind           ScrapeKind `json:"scrape_type"`
	MaxItems       int        `json:"max_items"`
	SessionID      string     `json:"session_id"`
	SessionName    string     `json:"session_name"`
	ExternalHandle *string    `json:"apify_run_id"`
	Status         RunStatus  `json:"status"`
	ItemsScraped   int        `json:"items_scraped"`
	Error          *string    `json:"error"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at"`
}

// Profile is a scraped account. Handle is unique; the first writer wins.
type Profile struct {
	ID                string        `json:"id"`
	Handle            string        `json:"username"`
	FullName          string        `json:"full_name"`
	AvatarURL         string        `json:"profile_pic"`
	AvatarKey         *string       `json:"avatar_key"`
	Bio               string        `json:"bio"`
	FollowersCount    int64         `json:"followers_count"`
	FollowingCount    int64         `json:"following_count"`
	ScrapeRunID       string        `json:"scrape_run_id"`
	Status            ProfileStatus `json:"status"`
	Draft             *string       `json:"dm_draft"`
	AssignedSessionID *string       `json:"assigned_session_id"`
	SessionName       *string       `json:"session_name,omitempty"`
	SentAt            *time.Time    `json:"sent_at"`
	Error             *string       `json:"error"`
	CreatedAt         time.Time     `json:"created_at"`
}

// DMQueueEntry is one scheduled or sent outreach message.
type DMQueueEntry struct {
	ID             string      `json:"id"`
	ProfileID      string      `json:"profile_id"`
	ProfileHandle  string      `json:"profile_username"`
	Message        string      `json:"message"`
	SessionID      string      `json:"session_id"`
	SessionName    string      `json:"session_name"`
	CampaignID     *string     `json:"campaign_id"`
	ScheduledFor   time.Time   `json:"scheduled_for"`
	Status         QueueStatus `json:"status"`
	Attempts       int         `json:"attempts"`
	ExternalHandle *string     `json:"apify_run_id"`
	Error          *string     `json:"error"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	SentAt         *time.Time  `json:"sent_at"`
}

type CampaignStatus string

const (
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignScheduled, CampaignRunning, CampaignPaused, CampaignCompleted:
		return true
	}
	return false
}

type Campaign struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	SessionID    string         `json:"session_id"`
	Status       CampaignStatus `json:"status"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	CreatedAt    time.Time      `json:"created_at"`

	// Filled by listing queries.
	Sent  int `json:"sent"`
	Total int `json:"total"`
}

type FollowUpStatus string

const (
	FollowUpPending FollowUpStatus = "pending"
	FollowUpSent    FollowUpStatus = "sent"
	FollowUpFailed  FollowUpStatus = "failed"
)

// FollowUp links a second message to the queue entry that delivers it.
type FollowUp struct {
	ID              string         `json:"id"`
	ProfileID       string         `json:"profile_id"`
	OriginalMessage string         `json:"original_message"`
	FollowUpMessage string         `json:"follow_up_message"`
	QueueID         string         `json:"queue_id"`
	SentAt          *time.Time     `json:"sent_at"`
	Status          FollowUpStatus `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
}

type DMStats struct {
	TotalSent    int     `json:"totalSent"`
	TotalFailed  int     `json:"totalFailed"`
	TotalPending int     `json:"totalPending"`
	SuccessRate  float64 `json:"successRate"`
}

type CampaignStat struct {
	Name        string  `json:"name"`
	Sent        int     `json:"sent"`
	Total       int     `json:"total"`
	SuccessRate float64 `json:"successRate"`
}

type DailyActivity struct {
	Date    string `json:"date"`
	Sent    int    `json:"sent"`
	Scraped int    `json:"scraped"`
}

type Analytics struct {
	TotalProfiles int             `json:"totalProfiles"`
	TotalSent     int             `json:"totalSent"`
	TotalFailed   int             `json:"totalFailed"`
	SuccessRate   float64         `json:"successRate"`
	CampaignStats []CampaignStat  `json:"campaignStats"`
	DailyActivity []DailyActivity `json:"dailyActivity"`
}

// SuccessRate is sent/(sent+failed) as a percentage rounded to one decimal.
func SuccessRate(sent, failed int) float64 {
	if sent+failed == 0 {
		return 0
	}
	r := float64(sent) * 100 / float64(sent+failed)
	return float64(int(r*10+0.5)) / 10
}
