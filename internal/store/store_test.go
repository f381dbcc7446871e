package store

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-engine/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedSession(t *testing.T, s *Store, role domain.SessionRole) domain.Session {
	t.Helper()
	sess, err := s.CreateSession(context.Background(), domain.Session{
		ID: uuid.NewString(), Name: "main " + string(role), Username: "acct", Token: "cookie", Role: role,
	})
	require.NoError(t, err)
	return sess
}

func seedProfile(t *testing.T, s *Store, handle string) domain.Profile {
	t.Helper()
	ctx := context.Background()
	inserted, err := s.InsertProfileIfAbsent(ctx, domain.Profile{ID: uuid.NewString(), Handle: handle, ScrapeRunID: "run-1"})
	require.NoError(t, err)
	require.True(t, inserted)
	p, err := s.GetProfileByHandle(ctx, handle)
	require.NoError(t, err)
	return p
}

func TestSessions_CreateListDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	scraper := seedSession(t, s, domain.RoleScraper)
	seedSession(t, s, domain.RoleSender)

	all, err := s.ListSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	only, err := s.ListSessions(ctx, domain.RoleScraper)
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, scraper.ID, only[0].ID)
	assert.Equal(t, domain.SessionActive, only[0].Status)

	require.NoError(t, s.DeleteSession(ctx, scraper.ID))
	assert.ErrorIs(t, s.DeleteSession(ctx, scraper.ID), ErrNotFound)
	_, err = s.GetSession(ctx, scraper.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertProfileIfAbsent_FirstWriterWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := seedProfile(t, s, "alice")
	require.NoError(t, s.SetDraft(ctx, first.ID, "hi alice"))

	inserted, err := s.InsertProfileIfAbsent(ctx, domain.Profile{
		ID: uuid.NewString(), Handle: "alice", FullName: "Someone Else", ScrapeRunID: "run-2",
	})
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.GetProfileByHandle(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "run-1", got.ScrapeRunID)
	assert.Equal(t, domain.ProfileDraftReady, got.Status)
	require.NotNil(t, got.Draft)
	assert.Equal(t, "hi alice", *got.Draft)
}

func TestInsertProfilesIfAbsent_Batch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProfile(t, s, "alice")

	added, err := s.InsertProfilesIfAbsent(ctx, []domain.Profile{
		{ID: uuid.NewString(), Handle: "alice", ScrapeRunID: "run-2"},
		{ID: uuid.NewString(), Handle: "bob", ScrapeRunID: "run-2"},
		{ID: uuid.NewString(), Handle: "bob", ScrapeRunID: "run-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false}, added)

	got, err := s.GetProfileByHandle(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.ProfileNotGenerated, got.Status)
}

func TestScrapeRuns_TransitionsAreMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runs, err := s.CreateScrapeRuns(ctx, []domain.ScrapeRun{
		{ID: uuid.NewString(), TargetHandle: "nasa", Kind: domain.ScrapeFollowers, SessionID: "s1", SessionName: "main"},
		{ID: uuid.NewString(), TargetHandle: "esa", Kind: domain.ScrapeFollowers, SessionID: "s1", SessionName: "main"},
	})
	require.NoError(t, err)
	ids := []string{runs[0].ID, runs[1].ID}

	n, err := s.MarkScrapeRunsRunning(ctx, ids, "job-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.CompleteScrapeRuns(ctx, ids, 42)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// terminal rows are never written again
	n, err = s.FailScrapeRuns(ctx, ids, "late failure")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
	n, err = s.MarkScrapeRunsRunning(ctx, ids, "job-2")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	byHandle, err := s.RunsByHandle(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, byHandle, 2)
	for _, r := range byHandle {
		assert.Equal(t, domain.RunCompleted, r.Status)
		assert.Equal(t, 42, r.ItemsScraped)
		assert.Nil(t, r.Error)
		assert.NotNil(t, r.CompletedAt)
	}
}

func TestScrapeRuns_PendingMayFailDirectly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runs, err := s.CreateScrapeRuns(ctx, []domain.ScrapeRun{
		{ID: uuid.NewString(), TargetHandle: "nasa", Kind: domain.ScrapeFollowing, SessionID: "s1", SessionName: "main"},
	})
	require.NoError(t, err)

	n, err := s.FailScrapeRuns(ctx, []string{runs[0].ID}, "quota exceeded")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.GetScrapeRun(ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "quota exceeded", *got.Error)
	assert.Nil(t, got.ExternalHandle)
}

func TestStaleRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return past })

	runs, err := s.CreateScrapeRuns(ctx, []domain.ScrapeRun{
		{ID: uuid.NewString(), TargetHandle: "a", Kind: domain.ScrapeFollowers, SessionID: "s1", SessionName: "m"},
		{ID: uuid.NewString(), TargetHandle: "b", Kind: domain.ScrapeFollowers, SessionID: "s1", SessionName: "m"},
	})
	require.NoError(t, err)
	_, err = s.MarkScrapeRunsRunning(ctx, []string{runs[0].ID}, "job-1")
	require.NoError(t, err)

	cutoff := past.Add(time.Minute)
	running, err := s.StaleRunningRuns(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, runs[0].ID, running[0].ID)

	pending, err := s.StalePendingRuns(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, runs[1].ID, pending[0].ID)

	none, err := s.StaleRunningRuns(ctx, past.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func queueFor(t *testing.T, s *Store, p domain.Profile, sender domain.Session, at time.Time) domain.DMQueueEntry {
	t.Helper()
	e, err := s.CreateQueueEntry(context.Background(), domain.DMQueueEntry{
		ID: uuid.NewString(), ProfileID: p.ID, ProfileHandle: p.Handle, Message: "hello",
		SessionID: sender.ID, SessionName: sender.Name, ScheduledFor: at,
	})
	require.NoError(t, err)
	return e
}

func TestQueue_ClaimIsExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := queueFor(t, s, seedProfile(t, s, "bob"), seedSession(t, s, domain.RoleSender), time.Time{})

	ok, err := s.ClaimQueueEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimQueueEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueue_FailIncrementsAttemptsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := queueFor(t, s, seedProfile(t, s, "bob"), seedSession(t, s, domain.RoleSender), time.Time{})

	_, err := s.ClaimQueueEntry(ctx, e.ID)
	require.NoError(t, err)
	require.NoError(t, s.SetQueueHandle(ctx, e.ID, "job-9"))

	moved, err := s.FailQueueEntry(ctx, e.ID, "DM sending failed")
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = s.FailQueueEntry(ctx, e.ID, "again")
	require.NoError(t, err)
	assert.False(t, moved)

	got, err := s.GetQueueEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.Error)
	assert.Equal(t, "DM sending failed", *got.Error)
	require.NotNil(t, got.ExternalHandle)
	assert.Equal(t, "job-9", *got.ExternalHandle)
}

func TestQueue_SentEntryCannotFail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := queueFor(t, s, seedProfile(t, s, "bob"), seedSession(t, s, domain.RoleSender), time.Time{})

	_, err := s.ClaimQueueEntry(ctx, e.ID)
	require.NoError(t, err)
	moved, err := s.MarkQueueSent(ctx, e.ID, "job-1")
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = s.FailQueueEntry(ctx, e.ID, "Timeout after 5 minutes")
	require.NoError(t, err)
	assert.False(t, moved)

	got, err := s.GetQueueEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueSent, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.NotNil(t, got.SentAt)
}

func TestMarkProfileFailed_LeavesSentProfileUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedProfile(t, s, "alice")
	require.NoError(t, s.MarkProfileSent(ctx, alice.ID))
	require.NoError(t, s.MarkProfileFailed(ctx, alice.ID, "DM sending failed"))

	got, err := s.GetProfile(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProfileSent, got.Status)
	assert.Nil(t, got.Error)

	assert.ErrorIs(t, s.SetDraft(ctx, alice.ID, "new draft"), ErrAlreadySent)
	assert.ErrorIs(t, s.SetDraft(ctx, "missing", "x"), ErrNotFound)
}

func TestEditDraft_PromotesNotGenerated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProfile(t, s, "carol")
	require.NoError(t, s.EditDraft(ctx, p.ID, "hand written"))

	got, err := s.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProfileDraftReady, got.Status)
	assert.ErrorIs(t, s.EditDraft(ctx, "missing", "x"), ErrNotFound)
}

func TestDueQueueEntries_SkipsFutureAndPausedCampaigns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	sender := seedSession(t, s, domain.RoleSender)
	paused, err := s.CreateCampaign(ctx, domain.Campaign{ID: uuid.NewString(), Name: "spring", SessionID: sender.ID})
	require.NoError(t, err)
	require.NoError(t, s.SetCampaignStatus(ctx, paused.ID, domain.CampaignPaused))

	due := queueFor(t, s, seedProfile(t, s, "due"), sender, now.Add(-time.Minute))
	queueFor(t, s, seedProfile(t, s, "later"), sender, now.Add(time.Hour))

	held, err := s.CreateQueueEntry(ctx, domain.DMQueueEntry{
		ID: uuid.NewString(), ProfileID: "p", ProfileHandle: "held", Message: "m",
		SessionID: sender.ID, SessionName: sender.Name, CampaignID: &paused.ID, ScheduledFor: now.Add(-time.Hour),
	})
	require.NoError(t, err)

	got, err := s.DueQueueEntries(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)

	require.NoError(t, s.SetCampaignStatus(ctx, paused.ID, domain.CampaignRunning))
	got, err = s.DueQueueEntries(ctx, now)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, held.ID, got[0].ID)
}

func TestFollowUp_TracksQueueEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sender := seedSession(t, s, domain.RoleSender)
	p := seedProfile(t, s, "dave")

	f, e, err := s.CreateFollowUp(ctx,
		domain.FollowUp{ID: uuid.NewString(), ProfileID: p.ID, OriginalMessage: "hi", FollowUpMessage: "ping"},
		domain.DMQueueEntry{ID: uuid.NewString(), ProfileID: p.ID, ProfileHandle: p.Handle, Message: "ping",
			SessionID: sender.ID, SessionName: sender.Name},
	)
	require.NoError(t, err)
	assert.Equal(t, e.ID, f.QueueID)

	_, err = s.ClaimQueueEntry(ctx, e.ID)
	require.NoError(t, err)
	_, err = s.MarkQueueSent(ctx, e.ID, "job-3")
	require.NoError(t, err)

	list, err := s.ListFollowUps(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.FollowUpSent, list[0].Status)
	assert.NotNil(t, list[0].SentAt)
}

func TestStatsAndAnalytics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 7, 9, 30, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	sender := seedSession(t, s, domain.RoleSender)
	c, err := s.CreateCampaign(ctx, domain.Campaign{ID: uuid.NewString(), Name: "launch", SessionID: sender.ID})
	require.NoError(t, err)

	var ids []string
	for _, h := range []string{"a", "b", "c", "d"} {
		p := seedProfile(t, s, h)
		e, err := s.CreateQueueEntry(ctx, domain.DMQueueEntry{
			ID: uuid.NewString(), ProfileID: p.ID, ProfileHandle: h, Message: "m",
			SessionID: sender.ID, SessionName: sender.Name, CampaignID: &c.ID,
		})
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}
	for _, id := range ids[:3] {
		_, err := s.ClaimQueueEntry(ctx, id)
		require.NoError(t, err)
	}
	_, err = s.MarkQueueSent(ctx, ids[0], "j1")
	require.NoError(t, err)
	_, err = s.MarkQueueSent(ctx, ids[1], "j2")
	require.NoError(t, err)
	_, err = s.FailQueueEntry(ctx, ids[2], "nope")
	require.NoError(t, err)

	st, err := s.DMStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DMStats{TotalSent: 2, TotalFailed: 1, TotalPending: 1, SuccessRate: 66.7}, st)

	a, err := s.Analytics(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 4, a.TotalProfiles)
	require.Len(t, a.CampaignStats, 1)
	assert.Equal(t, 2, a.CampaignStats[0].Sent)
	assert.Equal(t, 4, a.CampaignStats[0].Total)
	require.Len(t, a.DailyActivity, 7)
	last := a.DailyActivity[6]
	assert.Equal(t, "2026-03-07", last.Date)
	assert.Equal(t, 2, last.Sent)
	assert.Equal(t, 4, last.Scraped)
	assert.Equal(t, 0, a.DailyActivity[0].Sent)
}

func TestCacheAvatar(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	png := []byte("\x89PNG\r\n\x1a\n0000")
	hits := 0
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		hits++
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"image/png"}},
			Body:       io.NopCloser(bytes.NewReader(png)),
			Request:    r,
		}, nil
	})}

	raw := "https://scontent-iad3-1.cdninstagram.com/v/t51/pic.jpg?sig=abc"
	key, err := s.CacheAvatar(ctx, client, raw)
	require.NoError(t, err)
	assert.Equal(t, AvatarKeyFromURL(raw), key)

	// same picture with a fresh signature is served from the store
	again, err := s.CacheAvatar(ctx, client, "https://scontent-iad3-1.cdninstagram.com/v/t51/pic.jpg?sig=xyz")
	require.NoError(t, err)
	assert.Equal(t, key, again)
	assert.Equal(t, 1, hits)

	ct, b, err := s.Avatar(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, png, b)

	skipped, err := s.CacheAvatar(ctx, client, "https://example.com/pic.jpg")
	require.NoError(t, err)
	assert.Empty(t, skipped)

	_, _, err = s.Avatar(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
