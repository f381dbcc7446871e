package monitor

import (
	"context"
	"errors"
	"time"

	"outreach-engine/internal/domain"
	"outreach-engine/internal/events"
	"outreach-engine/internal/provider"
	"outreach-engine/internal/store"
)

// ScheduleSend claims queueID after delay, launches its send job, and
// reconciles the outcome. Entries that are no longer pending are left alone.
func (m *Monitor) ScheduleSend(queueID string, delay time.Duration) bool {
	var profileID string
	return m.detach("send:"+queueID, delay,
		func() { m.dispatch(queueID, &profileID) },
		func(msg string) { m.failSend(queueID, profileID, msg) },
	)
}

// ResumeSend re-attaches to an entry whose send job was launched by an earlier process.
func (m *Monitor) ResumeSend(e domain.DMQueueEntry) bool {
	if e.ExternalHandle == nil {
		return false
	}
	handle := *e.ExternalHandle
	return m.detach("send:"+e.ID, 0,
		func() { m.reconcileSend(e.ID, e.ProfileID, handle) },
		func(msg string) { m.failSend(e.ID, e.ProfileID, msg) },
	)
}

func (m *Monitor) dispatch(queueID string, profileID *string) {
	ctx, cancel := m.writeCtx()
	defer cancel()

	claimed, err := m.st.ClaimQueueEntry(ctx, queueID)
	if err != nil {
		m.log.Error("claim queue entry", "queue_id", queueID, "err", err)
		return
	}
	if !claimed {
		return
	}

	e, err := m.st.GetQueueEntry(ctx, queueID)
	if err != nil {
		m.failSend(queueID, "", err.Error())
		return
	}
	*profileID = e.ProfileID
	m.ev.Emit(events.DMUpdated, map[string]any{"id": e.ID, "status": domain.QueueSending})

	sess, err := m.st.GetSession(ctx, e.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		m.failSend(e.ID, e.ProfileID, "Sender session not found")
		return
	}
	if err != nil {
		m.failSend(e.ID, e.ProfileID, err.Error())
		return
	}

	in := provider.SendInput{
		SessionCookie: sess.Token,
		Recipients:    []string{e.ProfileHandle},
		Message:       e.Message,
	}
	if m.cfg.UseProxy {
		in.Proxy = &provider.Proxy{UseApifyProxy: true}
	}

	lctx, lcancel := context.WithTimeout(m.base, launchTimeout)
	handle, err := m.prov.Launch(lctx, provider.KindSend, in, m.cfg.SendLaunch)
	lcancel()
	if err != nil {
		if m.base.Err() != nil {
			return
		}
		msg := err.Error()
		var le *provider.LaunchError
		if errors.As(err, &le) && le.Message != "" {
			msg = le.Message
		}
		m.failSend(e.ID, e.ProfileID, msg)
		return
	}

	hctx, hcancel := m.writeCtx()
	err = m.st.SetQueueHandle(hctx, e.ID, handle)
	hcancel()
	if err != nil {
		m.log.Error("record send handle", "queue_id", e.ID, "handle", handle, "err", err)
	}
	m.log.Info("send launched", "queue_id", e.ID, "recipient", e.ProfileHandle, "handle", handle)

	m.reconcileSend(e.ID, e.ProfileID, handle)
}

func (m *Monitor) reconcileSend(queueID, profileID, handle string) {
	out := m.wait(handle, m.cfg.SendTimeout, sendFallback)
	if out.stopped {
		m.log.Info("send watch stopped; will resume", "queue_id", queueID, "handle", handle)
		return
	}
	if out.failure != "" {
		m.failSend(queueID, profileID, out.failure)
		return
	}

	ctx, cancel := m.writeCtx()
	defer cancel()

	moved, err := m.st.MarkQueueSent(ctx, queueID, handle)
	if err != nil {
		m.log.Error("mark sent", "queue_id", queueID, "err", err)
		return
	}
	if !moved {
		return
	}
	if err := m.st.MarkProfileSent(ctx, profileID); err != nil {
		m.log.Error("mark profile sent", "profile_id", profileID, "err", err)
	}
	m.log.Info("dm sent", "queue_id", queueID, "handle", handle)
	m.ev.Emit(events.DMUpdated, map[string]any{"id": queueID, "status": domain.QueueSent})
	m.ev.Emit(events.ProfileUpdated, map[string]any{"id": profileID, "status": domain.ProfileSent})
}

// failSend fails the entry and, when the entry actually moved, its profile.
func (m *Monitor) failSend(queueID, profileID, msg string) {
	ctx, cancel := m.writeCtx()
	defer cancel()

	moved, err := m.st.FailQueueEntry(ctx, queueID, msg)
	if err != nil {
		m.log.Error("fail queue entry", "queue_id", queueID, "err", err)
		return
	}
	if !moved {
		return
	}
	m.log.Warn("dm failed", "queue_id", queueID, "error", msg)
	m.ev.Emit(events.DMUpdated, map[string]any{"id": queueID, "status": domain.QueueFailed})

	if profileID == "" {
		if e, err := m.st.GetQueueEntry(ctx, queueID); err == nil {
			profileID = e.ProfileID
		}
	}
	if profileID == "" {
		return
	}
	if err := m.st.MarkProfileFailed(ctx, profileID, msg); err != nil {
		m.log.Error("mark profile failed", "profile_id", profileID, "err", err)
		return
	}
	m.ev.Emit(events.ProfileUpdated, map[string]any{"id": profileID, "status": domain.ProfileFailed})
}
