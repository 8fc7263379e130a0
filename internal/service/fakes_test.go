package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kkhushie/fetchfriends.dev/internal/models"
)

// memDB 포트들의 인메모리 구현 (조건부 갱신은 mutex 로 원자성 보장)
type memDB struct {
	mu         sync.Mutex
	entries    map[string]*models.QueueEntry
	sessions   map[string]*models.Session
	users      map[string]*models.User
	identities map[string]*models.Identity
	feedback   []*models.Feedback
	events     []*models.CollaborationEvent

	// 테스트 훅
	beforeCommit  func()
	candidatesErr error
	applyErr      error
	commits       int
}

func newMemDB() *memDB {
	return &memDB{
		entries:    make(map[string]*models.QueueEntry),
		sessions:   make(map[string]*models.Session),
		users:      make(map[string]*models.User),
		identities: make(map[string]*models.Identity),
	}
}

func cloneEntry(e *models.QueueEntry) *models.QueueEntry {
	c := *e
	if e.Match != nil {
		m := *e.Match
		c.Match = &m
	}
	return &c
}

func cloneSession(s *models.Session) *models.Session {
	c := *s
	c.Participants = append([]models.Participant(nil), s.Participants...)
	c.Goals = append([]string(nil), s.Goals...)
	return &c
}

func cloneUser(u *models.User) *models.User {
	c := *u
	return &c
}

func (db *memDB) addEntry(e *models.QueueEntry) {
	db.mu.Lock()
	defer db.mu.Unlock()
	e.Params = e.Params.Normalize()
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.WaitStart
	}
	db.entries[e.ID] = cloneEntry(e)
}

func (db *memDB) addUser(u *models.User) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users[u.ID] = cloneUser(u)
}

func (db *memDB) addSession(s *models.Session) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.sessions[s.ID] = cloneSession(s)
}

func (db *memDB) entry(id string) *models.QueueEntry {
	db.mu.Lock()
	defer db.mu.Unlock()
	if e, ok := db.entries[id]; ok {
		return cloneEntry(e)
	}
	return nil
}

func (db *memDB) session(id string) *models.Session {
	db.mu.Lock()
	defer db.mu.Unlock()
	if s, ok := db.sessions[id]; ok {
		return cloneSession(s)
	}
	return nil
}

func (db *memDB) sessionCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.sessions)
}

// --- QueueStore / MatchCommitter ---

type memQueue struct{ *memDB }

func (q memQueue) Insert(_ context.Context, entry *models.QueueEntry) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.UserID == entry.UserID && e.Status.Active() {
			return false, nil
		}
	}
	q.entries[entry.ID] = cloneEntry(entry)
	return true, nil
}

func (q memQueue) FindByID(_ context.Context, id string) (*models.QueueEntry, error) {
	return q.entry(id), nil
}

func (q memQueue) FindActiveByUser(_ context.Context, userID string) (*models.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.UserID == userID && e.Status.Active() {
			return cloneEntry(e), nil
		}
	}
	return nil, nil
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (q memQueue) sortedWaiting() []*models.QueueEntry {
	var out []*models.QueueEntry
	for _, e := range q.entries {
		if e.Status == models.QueueStatusWaiting {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].WaitStart.Equal(out[j].WaitStart) {
			return out[i].WaitStart.Before(out[j].WaitStart)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (q memQueue) FindCandidates(_ context.Context, f CandidateFilter) ([]*models.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.candidatesErr != nil {
		return nil, q.candidatesErr
	}

	var out []*models.QueueEntry
	for _, e := range q.sortedWaiting() {
		if e.Mode != f.Mode || e.ID == f.ExcludeID {
			continue
		}
		if len(f.LanguagesAny) > 0 && !overlaps(e.Params.Languages, f.LanguagesAny) {
			continue
		}
		if len(f.GoalsAny) > 0 && !overlaps(e.Params.Goals, f.GoalsAny) {
			continue
		}
		if f.MinRemaining > 0 && e.RemainingWait(f.Now) < f.MinRemaining {
			continue
		}
		out = append(out, cloneEntry(e))
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (q memQueue) UpdateStatusIfCurrent(_ context.Context, id string, expected, next models.QueueStatus) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok || e.Status != expected {
		return false, nil
	}
	e.Status = next
	e.UpdatedAt = time.Now()
	return true, nil
}

func (q memQueue) Touch(_ context.Context, id string, at time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok || !e.Status.Active() {
		return false, nil
	}
	e.Heartbeat = at
	return true, nil
}

func (q memQueue) ListWaiting(_ context.Context, limit int) ([]*models.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*models.QueueEntry
	for _, e := range q.sortedWaiting() {
		out = append(out, cloneEntry(e))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (q memQueue) ExpireOverdue(_ context.Context, now time.Time) ([]*models.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*models.QueueEntry
	for _, e := range q.sortedWaiting() {
		if e.Deadline().Before(now) {
			e.Status = models.QueueStatusTimeout
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

func (q memQueue) RecoverStuck(_ context.Context, olderThan time.Time) ([]*models.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*models.QueueEntry
	for _, e := range q.entries {
		if e.Status == models.QueueStatusMatching && e.UpdatedAt.Before(olderThan) {
			e.Status = models.QueueStatusWaiting
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

func (q memQueue) CountWaiting(_ context.Context, mode models.QueueMode) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if e.Mode == mode && e.Status == models.QueueStatusWaiting {
			n++
		}
	}
	return n, nil
}

func (q memQueue) HasNewerMatching(_ context.Context, entry *models.QueueEntry) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.ID == entry.ID || e.Mode != entry.Mode || e.Status != models.QueueStatusMatching {
			continue
		}
		if e.WaitStart.After(entry.WaitStart) || (e.WaitStart.Equal(entry.WaitStart) && e.ID > entry.ID) {
			return true, nil
		}
	}
	return false, nil
}

func (q memQueue) CommitMatch(_ context.Context, c MatchCommit) (bool, error) {
	if q.beforeCommit != nil {
		q.beforeCommit()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok1 := q.entries[c.Requester.ID]
	partner, ok2 := q.entries[c.Partner.ID]
	if !ok1 || !ok2 ||
		req.Status != models.QueueStatusMatching ||
		partner.Status != models.QueueStatusWaiting {
		return false, nil
	}

	req.Status = models.QueueStatusMatched
	req.Match = &models.QueueMatch{SessionID: c.Session.ID, MatchedWith: []string{partner.UserID}, Score: c.Score, MatchedAt: c.MatchedAt}
	partner.Status = models.QueueStatusMatched
	partner.Match = &models.QueueMatch{SessionID: c.Session.ID, MatchedWith: []string{req.UserID}, Score: c.Score, MatchedAt: c.MatchedAt}
	q.sessions[c.Session.ID] = cloneSession(c.Session)
	q.commits++
	return true, nil
}

// --- UserStore ---

type memUsers struct{ *memDB }

func (u memUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if user, ok := u.users[id]; ok {
		return cloneUser(user), nil
	}
	return nil, nil
}

func (u memUsers) FindByIDs(_ context.Context, ids []string) (map[string]*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]*models.User, len(ids))
	for _, id := range ids {
		if user, ok := u.users[id]; ok {
			out[id] = cloneUser(user)
		}
	}
	return out, nil
}

func (u memUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, user := range u.users {
		if email != "" && user.Email == email {
			return cloneUser(user), nil
		}
	}
	return nil, nil
}

func (u memUsers) FindByIdentity(_ context.Context, provider, providerUserID string) (*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	ident, ok := u.identities[provider+":"+providerUserID]
	if !ok {
		return nil, nil
	}
	if user, ok := u.users[ident.UserID]; ok {
		return cloneUser(user), nil
	}
	return nil, nil
}

func (u memUsers) Create(_ context.Context, user *models.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.users[user.ID] = cloneUser(user)
	return nil
}

func (u memUsers) UpdateProfile(_ context.Context, user *models.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	existing, ok := u.users[user.ID]
	if !ok {
		return nil
	}
	stats, settings := existing.Stats, existing.Settings
	c := cloneUser(user)
	c.Stats, c.Settings = stats, settings
	u.users[user.ID] = c
	return nil
}

func (u memUsers) UpdateAvailability(_ context.Context, id string, availability models.Availability, at time.Time) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if user, ok := u.users[id]; ok {
		user.Availability = availability
		user.LastActive = at
	}
	return nil
}

func (u memUsers) UpdateSettings(_ context.Context, id string, settings models.UserSettings) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if user, ok := u.users[id]; ok {
		user.Settings = settings
	}
	return nil
}

func (u memUsers) UpdateVerification(_ context.Context, id string, v models.Verification) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if user, ok := u.users[id]; ok {
		user.Verification = v
	}
	return nil
}

func (u memUsers) UpsertIdentity(_ context.Context, identity *models.Identity) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	c := *identity
	u.identities[identity.Provider+":"+identity.ProviderUserID] = &c
	return nil
}

func (u memUsers) Search(_ context.Context, q models.UserSearch) ([]*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []*models.User
	for _, user := range u.users {
		if user.Verification.Status != models.VerificationVerified {
			continue
		}
		if user.Availability.Status != models.AvailabilityOnline && user.Availability.Status != models.AvailabilityBusy {
			continue
		}
		if q.Query != "" && !strings.Contains(strings.ToLower(user.Name), strings.ToLower(q.Query)) {
			continue
		}
		if len(q.Languages) > 0 && !overlaps(user.Languages(), q.Languages) {
			continue
		}
		out = append(out, cloneUser(user))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (u memUsers) ApplyFeedback(_ context.Context, userID string, rating, reputation int) (*models.UserStats, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.applyErr != nil {
		return nil, u.applyErr
	}
	user, ok := u.users[userID]
	if !ok {
		return nil, nil
	}
	s := &user.Stats
	s.RatingAverage = (s.RatingAverage*float64(s.RatingCount) + float64(rating)) / float64(s.RatingCount+1)
	s.RatingCount++
	s.ReputationPoints += reputation
	stats := *s
	return &stats, nil
}

func (u memUsers) SetReputationLevel(_ context.Context, userID string, level models.ReputationLevel) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if user, ok := u.users[userID]; ok {
		user.Stats.ReputationLevel = level
	}
	return nil
}

func (u memUsers) AddSessionStats(_ context.Context, userIDs []string, completed bool, minutes int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, id := range userIDs {
		if user, ok := u.users[id]; ok {
			user.Stats.SessionsTotal++
			if completed {
				user.Stats.SessionsCompleted++
			}
			user.Stats.TotalMinutes += minutes
		}
	}
	return nil
}

// --- SessionStore ---

type memSessions struct{ *memDB }

func (s memSessions) FindByID(_ context.Context, id string) (*models.Session, error) {
	return s.session(id), nil
}

func (s memSessions) FindByRoomID(_ context.Context, roomID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.RoomID == roomID {
			return cloneSession(sess), nil
		}
	}
	return nil, nil
}

func (s memSessions) ListOpenByUser(_ context.Context, userID string) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Session
	for _, sess := range s.sessions {
		if sess.Status.Open() && sess.HasParticipant(userID) {
			out = append(out, cloneSession(sess))
		}
	}
	return out, nil
}

func (s memSessions) ListHistory(_ context.Context, f models.SessionHistoryFilter) ([]*models.Session, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*models.Session
	for _, sess := range s.sessions {
		if !sess.HasParticipant(f.UserID) {
			continue
		}
		for _, st := range f.Statuses {
			if sess.Status == st {
				all = append(all, cloneSession(sess))
				break
			}
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := min(total, f.Offset+f.Limit)
	return all[f.Offset:end], total, nil
}

func (s memSessions) Activate(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status != models.SessionStatusWaiting {
		return false, nil
	}
	sess.Status = models.SessionStatusActive
	if sess.StartTime == nil {
		sess.StartTime = &at
	}
	return true, nil
}

func (s memSessions) UpdateStatusIfCurrent(_ context.Context, id string, expected, next models.SessionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status != expected {
		return false, nil
	}
	sess.Status = next
	return true, nil
}

func (s memSessions) MarkParticipantJoined(_ context.Context, id, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		if p := sess.Participant(userID); p != nil {
			p.JoinedAt = at
			p.LeftAt = nil
		}
	}
	return nil
}

func (s memSessions) MarkParticipantLeft(_ context.Context, id, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		if p := sess.Participant(userID); p != nil {
			p.LeftAt = &at
		}
	}
	return nil
}

func (s memSessions) RemoveParticipant(_ context.Context, id, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return 0, nil
	}
	kept := sess.Participants[:0]
	for _, p := range sess.Participants {
		if p.UserID != userID {
			kept = append(kept, p)
		}
	}
	sess.Participants = kept
	return len(kept), nil
}

func (s memSessions) Finish(_ context.Context, id string, status models.SessionStatus, end time.Time, durationMinutes int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || (!sess.Status.Open() && status != models.SessionStatusReported) {
		return false, nil
	}
	sess.Status = status
	if sess.EndTime == nil {
		sess.EndTime = &end
		sess.Duration = durationMinutes
	}
	return true, nil
}

func (s memSessions) UpdateDetails(_ context.Context, id string, req models.UpdateSessionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if req.Topic != nil {
		sess.Topic = *req.Topic
	}
	if req.Goals != nil {
		sess.Goals = *req.Goals
	}
	if req.Language != nil {
		sess.Language = *req.Language
	}
	return nil
}

func (s memSessions) SaveEvent(_ context.Context, event *models.CollaborationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.ID = int64(len(s.events) + 1)
	c := *event
	s.events = append(s.events, &c)
	if sess, ok := s.sessions[event.SessionID]; ok {
		switch event.Kind {
		case models.CollabEditor:
			sess.Analytics.TotalCodeChanges++
		case models.CollabChat:
			sess.Analytics.ChatMessages++
		case models.CollabResource:
			sess.Analytics.ResourcesShared++
		}
		sess.Analytics.EngagementScore = sess.Analytics.ComputeEngagement()
	}
	return nil
}

func (s memSessions) ListEvents(_ context.Context, sessionID string, kind models.CollaborationKind) ([]*models.CollaborationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CollaborationEvent
	for _, ev := range s.events {
		if ev.SessionID == sessionID && (kind == "" || ev.Kind == kind) {
			c := *ev
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s memSessions) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// --- FeedbackStore ---

type memFeedback struct{ *memDB }

func (f memFeedback) Insert(_ context.Context, fb *models.Feedback) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.feedback {
		if existing.SessionID == fb.SessionID && existing.FromUserID == fb.FromUserID && existing.ToUserID == fb.ToUserID {
			return false, nil
		}
	}
	c := *fb
	f.feedback = append(f.feedback, &c)
	return true, nil
}

func (f memFeedback) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.feedback[:0]
	for _, fb := range f.feedback {
		if fb.ID != id {
			kept = append(kept, fb)
		}
	}
	f.feedback = kept
	return nil
}

func (f memFeedback) list(match func(*models.Feedback) bool, limit, offset int) []*models.Feedback {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Feedback
	for _, fb := range f.feedback {
		if match(fb) {
			c := *fb
			out = append(out, &c)
		}
	}
	if offset >= len(out) {
		return nil
	}
	if limit <= 0 {
		return out[offset:]
	}
	return out[offset:min(len(out), offset+limit)]
}

func (f memFeedback) ListReceived(_ context.Context, userID string, limit, offset int) ([]*models.Feedback, error) {
	return f.list(func(fb *models.Feedback) bool { return fb.ToUserID == userID }, limit, offset), nil
}

func (f memFeedback) ListGiven(_ context.Context, userID string, limit, offset int) ([]*models.Feedback, error) {
	return f.list(func(fb *models.Feedback) bool { return fb.FromUserID == userID }, limit, offset), nil
}

func (f memFeedback) ListBySession(_ context.Context, sessionID string) ([]*models.Feedback, error) {
	return f.list(func(fb *models.Feedback) bool { return fb.SessionID == sessionID }, 0, 0), nil
}

// --- Relay / Submitter / Locker ---

type publishedEvent struct {
	Channel string
	Event   string
	Payload interface{}
}

type recordingRelay struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (r *recordingRelay) Publish(_ context.Context, channel, event string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, publishedEvent{channel, event, payload})
	return nil
}

func (r *recordingRelay) byEvent(event string) []publishedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []publishedEvent
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type recordingSubmitter struct {
	mu   sync.Mutex
	ids  []string
	full bool
}

func (s *recordingSubmitter) Submit(entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return ErrDispatchFull
	}
	s.ids = append(s.ids, entryID)
	return nil
}

func (s *recordingSubmitter) submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

type stubLocker struct {
	acquired bool
	released int
}

func (l *stubLocker) TryLock(_ context.Context, _ string, _ time.Duration) (func(context.Context), bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func(context.Context) { l.released++ }, true, nil
}

// fixedClock 테스트용 고정 시계
func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}
