package outreach

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"outreach-engine/internal/domain"
	"outreach-engine/internal/logging"
	"outreach-engine/internal/provider"
	"outreach-engine/internal/secrets"
	"outreach-engine/internal/store"
	"outreach-engine/internal/textgen"
)

type MockLauncher struct{ mock.Mock }

func (m *MockLauncher) Launch(ctx context.Context, kind provider.Kind, input any, opts provider.LaunchOptions) (string, error) {
	args := m.Called(ctx, kind, input, opts)
	return args.String(0), args.Error(1)
}

func (m *MockLauncher) Poll(ctx context.Context, handle string) (provider.RunState, error) {
	args := m.Called(ctx, handle)
	return args.Get(0).(provider.RunState), args.Error(1)
}

func (m *MockLauncher) Results(ctx context.Context, handle string) ([]provider.Item, error) {
	args := m.Called(ctx, handle)
	return args.Get(0).([]provider.Item), args.Error(1)
}

type MockDrafter struct{ mock.Mock }

func (m *MockDrafter) Draft(ctx context.Context, s textgen.Subject) (string, error) {
	args := m.Called(ctx, s)
	return args.String(0), args.Error(1)
}

type MockWatcher struct{ mock.Mock }

func (m *MockWatcher) WatchScrape(handle string, runIDs []string, delay time.Duration) bool {
	return m.Called(handle, runIDs, delay).Bool(0)
}

func (m *MockWatcher) ScheduleSend(queueID string, delay time.Duration) bool {
	return m.Called(queueID, delay).Bool(0)
}

type fakeCreds map[string]bool

func (f fakeCreds) Has(name string) bool { return f[name] }
func (f fakeCreds) Status() map[string]bool {
	return map[string]bool{"database": f[secrets.DatabaseURL], "apify": f[secrets.ApifyToken], "openai": f[secrets.OpenAIAPIKey]}
}

type fixture struct {
	svc      *Service
	st       *store.Store
	launcher *MockLauncher
	drafter  *MockDrafter
	watcher  *MockWatcher
	creds    fakeCreds
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	fx := &fixture{
		st:       st,
		launcher: &MockLauncher{},
		drafter:  &MockDrafter{},
		watcher:  &MockWatcher{},
		creds:    fakeCreds{secrets.ApifyToken: true, secrets.OpenAIAPIKey: true},
	}
	fx.svc = New(Deps{
		Store:    st,
		Launcher: fx.launcher,
		Drafter:  fx.drafter,
		Watcher:  fx.watcher,
		Creds:    fx.creds,
		Log:      logging.Discard(),
	}, Options{StartDelay: 10 * time.Second, SendDelay: 2 * time.Second, UseProxy: true, DraftConcurrency: 2})

	var n atomic.Int64
	fx.svc.newID = func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
	return fx
}

func (fx *fixture) session(t *testing.T, role domain.SessionRole) domain.Session {
	t.Helper()
	sess, err := fx.svc.CreateSession(context.Background(), SessionInput{
		Name: "acct " + string(role), Username: "@me", Token: "cookie", Type: string(role),
	})
	require.NoError(t, err)
	return sess
}

func (fx *fixture) profile(t *testing.T, handle string, draft string) domain.Profile {
	t.Helper()
	ctx := context.Background()
	_, err := fx.st.InsertProfileIfAbsent(ctx, domain.Profile{ID: "p-" + handle, Handle: handle, Bio: "runner", FollowersCount: 50, ScrapeRunID: "r"})
	require.NoError(t, err)
	if draft != "" {
		require.NoError(t, fx.st.SetDraft(ctx, "p-"+handle, draft))
	}
	p, err := fx.st.GetProfile(ctx, "p-"+handle)
	require.NoError(t, err)
	return p
}

func TestCreateSession_Validation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.CreateSession(ctx, SessionInput{Name: "x", Username: "y", Token: "z"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = fx.svc.CreateSession(ctx, SessionInput{Name: "x", Username: "y", Token: "z", Type: "admin"})
	assert.Equal(t, "Invalid session type", domain.MessageOf(err))

	sess := fx.session(t, domain.RoleScraper)
	assert.Equal(t, "me", sess.Username)
	assert.Equal(t, domain.SessionActive, sess.Status)

	_, err = fx.svc.ListSessions(ctx, "bogus")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	assert.Equal(t, domain.KindNotFound, domain.KindOf(fx.svc.DeleteSession(ctx, "missing")))
}

func TestStartScrape_LaunchesOneJobForAllTargets(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	sess := fx.session(t, domain.RoleScraper)

	want := provider.ScrapeInput{
		Usernames:   []string{"nasa", "esa"},
		ResultsType: "following",
		Proxy:       &provider.Proxy{UseApifyProxy: true},
	}
	fx.launcher.On("Launch", mock.Anything, provider.KindScrape, want, provider.LaunchOptions{}).Return("job-1", nil).Once()
	fx.watcher.On("WatchScrape", "job-1", mock.Anything, 10*time.Second).Return(true).Once()

	res, err := fx.svc.StartScrape(ctx, ScrapeRequest{
		Targets: []string{"@nasa", "esa", "NASA", " "}, Kind: "following", SessionID: sess.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", res.ExternalHandle)
	require.Len(t, res.RunIDs, 2)

	fx.launcher.AssertExpectations(t)
	fx.watcher.AssertExpectations(t)
	assert.Equal(t, res.RunIDs, fx.watcher.Calls[0].Arguments.Get(1))

	for _, id := range res.RunIDs {
		run, err := fx.st.GetScrapeRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.RunRunning, run.Status)
		require.NotNil(t, run.ExternalHandle)
		assert.Equal(t, "job-1", *run.ExternalHandle)
		assert.Equal(t, sess.Name, run.SessionName)
	}
}

func TestStartScrape_WatchesEvenWhenHandleWriteFails(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	sess := fx.session(t, domain.RoleScraper)

	_, err := fx.st.DB().Exec(`CREATE TRIGGER no_running BEFORE UPDATE ON scrape_runs
WHEN NEW.status = 'running' BEGIN SELECT RAISE(ABORT, 'database is locked'); END;`)
	require.NoError(t, err)

	fx.launcher.On("Launch", mock.Anything, provider.KindScrape, mock.Anything, mock.Anything).Return("job-2", nil).Once()
	fx.watcher.On("WatchScrape", "job-2", mock.Anything, 10*time.Second).Return(true).Once()

	res, err := fx.svc.StartScrape(ctx, ScrapeRequest{Targets: []string{"nasa"}, SessionID: sess.ID})
	require.NoError(t, err)
	assert.Equal(t, "job-2", res.ExternalHandle)
	fx.watcher.AssertExpectations(t)

	run, err := fx.st.GetScrapeRun(ctx, res.RunIDs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.RunPending, run.Status)
}

func TestStartScrape_LaunchErrorFailsEveryRun(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	sess := fx.session(t, domain.RoleScraper)

	fx.launcher.On("Launch", mock.Anything, provider.KindScrape, mock.Anything, mock.Anything).
		Return("", &provider.LaunchError{Kind: provider.KindScrape, Message: "User was not found or authentication token is not valid"}).Once()

	res, err := fx.svc.StartScrape(ctx, ScrapeRequest{Targets: []string{"a", "b"}, SessionID: sess.ID, MaxItems: 10})
	require.Error(t, err)
	assert.Equal(t, domain.KindLaunch, domain.KindOf(err))
	fx.watcher.AssertNotCalled(t, "WatchScrape", mock.Anything, mock.Anything, mock.Anything)

	for _, id := range res.RunIDs {
		run, err := fx.st.GetScrapeRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.RunFailed, run.Status)
		assert.Nil(t, run.ExternalHandle)
		require.NotNil(t, run.Error)
		assert.Equal(t, "User was not found or authentication token is not valid", *run.Error)
	}
}

func TestStartScrape_Preconditions(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	sender := fx.session(t, domain.RoleSender)

	_, err := fx.svc.StartScrape(ctx, ScrapeRequest{SessionID: sender.ID})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = fx.svc.StartScrape(ctx, ScrapeRequest{Target: "a", Kind: "likes", SessionID: sender.ID})
	assert.Equal(t, "Invalid scrape type", domain.MessageOf(err))

	_, err = fx.svc.StartScrape(ctx, ScrapeRequest{Target: "a", SessionID: sender.ID})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err), "sender sessions cannot scrape")

	_, err = fx.svc.StartScrape(ctx, ScrapeRequest{Target: "a", SessionID: "missing"})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	delete(fx.creds, secrets.ApifyToken)
	_, err = fx.svc.StartScrape(ctx, ScrapeRequest{Target: "a", SessionID: sender.ID})
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
	assert.Equal(t, "Apify API token not configured", domain.MessageOf(err))

	fx.launcher.AssertNotCalled(t, "Launch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	runs, err := fx.st.ListScrapeRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestGenerateDraft_StoresTextVerbatim(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	p := fx.profile(t, "alice", "")

	fx.drafter.On("Draft", mock.Anything, textgen.Subject{Handle: "alice", Bio: "runner", Followers: 50, MaxChars: 280}).
		Return("Hi Alice! Fellow runner here. ", nil).Once()

	got, err := fx.svc.GenerateDraft(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProfileDraftReady, got.Status)

	stored, err := fx.st.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Draft)
	assert.Equal(t, "Hi Alice! Fellow runner here. ", *stored.Draft)
	fx.drafter.AssertExpectations(t)
}

func TestGenerateDraft_Preconditions(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.GenerateDraft(ctx, "")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = fx.svc.GenerateDraft(ctx, "missing")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	sent := fx.profile(t, "sent", "old")
	require.NoError(t, fx.st.MarkProfileSent(ctx, sent.ID))
	_, err = fx.svc.GenerateDraft(ctx, sent.ID)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	delete(fx.creds, secrets.OpenAIAPIKey)
	_, err = fx.svc.GenerateDraft(ctx, sent.ID)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
	fx.drafter.AssertNotCalled(t, "Draft", mock.Anything, mock.Anything)
}

func TestGenerateDrafts_ReportsPerProfile(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a := fx.profile(t, "a", "")
	b := fx.profile(t, "b", "")

	fx.drafter.On("Draft", mock.Anything, mock.MatchedBy(func(s textgen.Subject) bool { return s.Handle == "a" })).Return("hi a", nil)
	fx.drafter.On("Draft", mock.Anything, mock.MatchedBy(func(s textgen.Subject) bool { return s.Handle == "b" })).Return("", errors.New("rate limited"))

	res, err := fx.svc.GenerateDrafts(ctx, []string{a.ID, b.ID, "missing"})
	require.NoError(t, err)
	require.Len(t, res, 3)

	assert.True(t, res[0].Success)
	require.NotNil(t, res[0].Message)
	assert.Equal(t, "hi a", *res[0].Message)
	assert.False(t, res[1].Success)
	assert.Equal(t, "Failed to generate DM", res[1].Error)
	assert.Equal(t, "Profile not found", res[2].Error)
}

func TestEditDraft(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	p := fx.profile(t, "carol", "")

	got, err := fx.svc.EditDraft(ctx, p.ID, "my own words")
	require.NoError(t, err)
	assert.Equal(t, domain.ProfileDraftReady, got.Status)
	require.NotNil(t, got.Draft)
	assert.Equal(t, "my own words", *got.Draft)

	_, err = fx.svc.EditDraft(ctx, p.ID, "  ")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestQueueDM_ImmediateDispatch(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	sender := fx.session(t, domain.RoleSender)
	p := fx.profile(t, "dave", "hello dave")

	fx.watcher.On("ScheduleSend", mock.Anything, 2*time.Second).Return(true).Once()

	e, err := fx.svc.QueueDM(ctx, QueueRequest{ProfileID: p.ID, SessionID: sender.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.QueuePending, e.Status)
	assert.Equal(t, "hello dave", e.Message)
	assert.Equal(t, "dave", e.ProfileHandle)
	assert.Equal(t, sender.Name, e.SessionName)
	fx.watcher.AssertCalled(t, "ScheduleSend", e.ID, 2*time.Second)

	prof, err := fx.st.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, prof.AssignedSessionID)
	assert.Equal(t, sender.ID, *prof.AssignedSessionID)
}

func TestQueueDM_ScheduledWaitsForSweep(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	sender := fx.session(t, domain.RoleSender)
	p := fx.profile(t, "erin", "hello erin")

	later := time.Now().Add(3 * time.Hour)
	e, err := fx.svc.QueueDM(ctx, QueueRequest{ProfileID: p.ID, SessionID: sender.ID, Schedule: &later})
	require.NoError(t, err)
	assert.WithinDuration(t, later, e.ScheduledFor, time.Millisecond)
	fx.watcher.AssertNotCalled(t, "ScheduleSend", mock.Anything, mock.Anything)
}

func TestQueueDM_Preconditions(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	sender := fx.session(t, domain.RoleSender)
	scraper := fx.session(t, domain.RoleScraper)
	noDraft := fx.profile(t, "nodraft", "")

	_, err := fx.svc.QueueDM(ctx, QueueRequest{ProfileID: noDraft.ID})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = fx.svc.QueueDM(ctx, QueueRequest{ProfileID: noDraft.ID, SessionID: sender.ID})
	assert.Equal(t, "No DM draft available", domain.MessageOf(err))

	_, err = fx.svc.QueueDM(ctx, QueueRequest{ProfileID: noDraft.ID, SessionID: scraper.ID, Message: "x"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = fx.svc.QueueDM(ctx, QueueRequest{ProfileID: "missing", SessionID: sender.ID})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	missing := "nope"
	_, err = fx.svc.QueueDM(ctx, QueueRequest{ProfileID: noDraft.ID, SessionID: sender.ID, Message: "x", CampaignID: &missing})
	assert.Equal(t, "Campaign not found", domain.MessageOf(err))

	delete(fx.creds, secrets.ApifyToken)
	_, err = fx.svc.QueueDM(ctx, QueueRequest{ProfileID: noDraft.ID, SessionID: sender.ID, Message: "x"})
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))

	q, err := fx.st.ListQueue(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, q)
}

func TestCampaignsAndFollowUps(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	sender := fx.session(t, domain.RoleSender)
	p := fx.profile(t, "finn", "hello finn")

	c, err := fx.svc.CreateCampaign(ctx, CampaignInput{Name: "Spring", SessionID: sender.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignScheduled, c.Status)

	fx.watcher.On("ScheduleSend", mock.Anything, mock.Anything).Return(true)
	e, err := fx.svc.QueueDM(ctx, QueueRequest{ProfileID: p.ID, SessionID: sender.ID, CampaignID: &c.ID})
	require.NoError(t, err)

	_, err = fx.svc.CreateFollowUp(ctx, FollowUpInput{QueueID: e.ID, Message: "just checking in"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err), "original not sent yet")

	_, err = fx.st.ClaimQueueEntry(ctx, e.ID)
	require.NoError(t, err)
	_, err = fx.st.MarkQueueSent(ctx, e.ID, "job-1")
	require.NoError(t, err)

	f, err := fx.svc.CreateFollowUp(ctx, FollowUpInput{QueueID: e.ID, Message: "just checking in"})
	require.NoError(t, err)
	assert.Equal(t, "hello finn", f.OriginalMessage)
	assert.Equal(t, domain.FollowUpPending, f.Status)
	fx.watcher.AssertCalled(t, "ScheduleSend", f.QueueID, 2*time.Second)

	paused, err := fx.svc.SetCampaignStatus(ctx, c.ID, "paused")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignPaused, paused.Status)
	assert.Equal(t, 1, paused.Sent)
	assert.Equal(t, 2, paused.Total)

	_, err = fx.svc.SetCampaignStatus(ctx, c.ID, "archived")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	_, err = fx.svc.SetCampaignStatus(ctx, "missing", "paused")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestSetupStatus_EmbeddedStoreIsReady(t *testing.T) {
	fx := newFixture(t)
	assert.Equal(t, map[string]bool{"database": true, "apify": true, "openai": true}, fx.svc.SetupStatus())
}
