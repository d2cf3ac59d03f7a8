package scheduled

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/relaydesk/inbox/internal/domain"
)

type memoryRepo struct {
	mu       sync.Mutex
	items    map[string]*domain.ScheduledMessage
	contacts map[string]*domain.Contact
	records  []domain.Message

	findDueErr  error
	completeErr error
	markFailErr error
	claimHook   func(id string) error

	// findStaleHook runs once, after the stale set is read and before it is returned.
	findStaleHook func()

	claimedAt    map[string]time.Time
	reclaimTime  time.Time
	failedWrites int
	nextID       int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		items:     make(map[string]*domain.ScheduledMessage),
		contacts:  make(map[string]*domain.Contact),
		claimedAt: make(map[string]time.Time),
	}
}

func (r *memoryRepo) addContact(c domain.Contact) {
	r.contacts[c.ID] = &c
}

func (r *memoryRepo) addItem(m domain.ScheduledMessage) {
	if m.Status == "" {
		m.Status = domain.ScheduledStatusPending
	}
	r.items[m.ID] = &m
}

func (r *memoryRepo) status(id string) domain.ScheduledStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id].Status
}

func (r *memoryRepo) item(id string) domain.ScheduledMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.items[id]
}

func (r *memoryRepo) FindDue(_ context.Context, now time.Time) ([]domain.ScheduledMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.findDueErr != nil {
		return nil, r.findDueErr
	}

	due := make([]domain.ScheduledMessage, 0)
	for _, m := range r.items {
		if m.IsDue(now) {
			due = append(due, *m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	return due, nil
}

func (r *memoryRepo) Claim(_ context.Context, id string) error {
	if r.claimHook != nil {
		if err := r.claimHook(id); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.items[id]
	if !ok || m.Status != domain.ScheduledStatusPending {
		return ErrAlreadyClaimed
	}
	m.Status = domain.ScheduledStatusDispatching
	return nil
}

func (r *memoryRepo) FindStale(_ context.Context, claimedBefore time.Time) ([]domain.ScheduledMessage, error) {
	r.mu.Lock()
	stale := make([]domain.ScheduledMessage, 0)
	for id, m := range r.items {
		at, ok := r.claimedAt[id]
		if m.Status == domain.ScheduledStatusDispatching && ok && at.Before(claimedBefore) {
			stale = append(stale, *m)
		}
	}
	hook := r.findStaleHook
	r.findStaleHook = nil
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	return stale, nil
}

func (r *memoryRepo) ReclaimStale(_ context.Context, id string, claimedBefore time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.items[id]
	at, claimed := r.claimedAt[id]
	if !ok || !claimed || m.Status != domain.ScheduledStatusDispatching || !at.Before(claimedBefore) {
		return ErrAlreadyClaimed
	}
	r.claimedAt[id] = r.reclaimTime
	return nil
}

func (r *memoryRepo) FindContact(_ context.Context, id string) (*domain.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.contacts[id]
	if !ok {
		return nil, domain.ErrContactNotFound
	}
	contact := *c
	return &contact, nil
}

func (r *memoryRepo) MarkFailed(_ context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.markFailErr != nil {
		r.failedWrites++
		return r.markFailErr
	}
	m, ok := r.items[id]
	if !ok || m.Status != domain.ScheduledStatusDispatching {
		return ErrNotDispatching
	}
	m.Status = domain.ScheduledStatusFailed
	m.LastError = reason
	return nil
}

func (r *memoryRepo) CompleteSent(_ context.Context, id string, record *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.completeErr != nil {
		r.failedWrites++
		return r.completeErr
	}
	m, ok := r.items[id]
	if !ok || m.Status != domain.ScheduledStatusDispatching {
		return ErrNotDispatching
	}
	r.records = append(r.records, *record)
	m.Status = domain.ScheduledStatusSent
	m.LastError = ""
	return nil
}

func (r *memoryRepo) Create(_ context.Context, item *domain.ScheduledMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	item.ID = fmt.Sprintf("generated-%d", r.nextID)
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	m := *item
	r.items[item.ID] = &m
	return nil
}

func (r *memoryRepo) ListUpcoming(_ context.Context, now time.Time, limit int) ([]UpcomingMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	upcoming := make([]UpcomingMessage, 0)
	for _, m := range r.items {
		if m.Status != domain.ScheduledStatusPending || m.ScheduledAt.Before(now) {
			continue
		}
		u := UpcomingMessage{ScheduledMessage: *m}
		if c, ok := r.contacts[m.ContactID]; ok {
			u.ContactName = c.Name
			u.ContactPhone = c.Phone
		}
		upcoming = append(upcoming, u)
	}
	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].ScheduledAt.Before(upcoming[j].ScheduledAt) })
	if len(upcoming) > limit {
		upcoming = upcoming[:limit]
	}
	return upcoming, nil
}

func (r *memoryRepo) GetQueueStats(_ context.Context) (*QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats QueueStats
	for _, m := range r.items {
		switch m.Status {
		case domain.ScheduledStatusPending:
			stats.Pending++
		case domain.ScheduledStatusDispatching:
			stats.Dispatching++
		case domain.ScheduledStatusSent:
			stats.Sent++
		case domain.ScheduledStatusFailed:
			stats.Failed++
		}
	}
	return &stats, nil
}

type sentCall struct {
	Channel domain.Channel
	To      string
	Body    string
}

type fakeGateway struct {
	mu       sync.Mutex
	calls    []sentCall
	errs     map[string]error // keyed by destination
	sid      string
	sendHook func(to string)
}

func (g *fakeGateway) Send(_ context.Context, channel domain.Channel, to, body string) (string, error) {
	if g.sendHook != nil {
		g.sendHook(to)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, sentCall{Channel: channel, To: to, Body: body})
	if err, ok := g.errs[to]; ok {
		return "", err
	}
	if !channel.Dispatchable() {
		return "", domain.ErrChannelNotImplemented
	}
	if g.sid != "" {
		return g.sid, nil
	}
	return "SM-" + to, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type fakeLedger struct {
	entries    map[string]string
	lookupErr  error
	recordErr  error
	lookupHook func(itemID string)
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[string]string)}
}

func (l *fakeLedger) Lookup(_ context.Context, itemID string) (string, bool, error) {
	if l.lookupHook != nil {
		l.lookupHook(itemID)
	}
	if l.lookupErr != nil {
		return "", false, l.lookupErr
	}
	sid, ok := l.entries[itemID]
	return sid, ok, nil
}

func (l *fakeLedger) Record(_ context.Context, itemID, sid string, _ time.Time) error {
	if l.recordErr != nil {
		return l.recordErr
	}
	l.entries[itemID] = sid
	return nil
}

var errStoreDown = errors.New("store unavailable")
