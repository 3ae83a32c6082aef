package site

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	_ ContactRepo    = (*MemContactRepo)(nil)
	_ SubscriberRepo = (*MemSubscriberRepo)(nil)
)

// MemContactRepo is used by tests and by local runs without postgres.
type MemContactRepo struct {
	mutex    sync.Mutex
	lastID   int
	messages map[int]ContactMessage
}

func NewMemContactRepo() *MemContactRepo {
	return &MemContactRepo{
		messages: make(map[int]ContactMessage),
	}
}

func (r *MemContactRepo) Add(_ context.Context, msg *ContactMessage) (*ContactMessage, error) {
	if msg.Email == "" || msg.Message == "" || msg.CreatedAt.IsZero() {
		return nil, errors.New("contact email, message or timestamp empty")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.lastID++
	msg.ID = r.lastID
	r.messages[msg.ID] = *msg
	return msg, nil
}

func (r *MemContactRepo) Get(_ context.Context, id int) (*ContactMessage, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	msg, ok := r.messages[id]
	if !ok {
		return nil, ErrContactNotFound
	}
	return &msg, nil
}

func (r *MemContactRepo) MarkRead(_ context.Context, id int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	msg, ok := r.messages[id]
	if !ok {
		return ErrContactNotFound
	}
	msg.Read = true
	r.messages[id] = msg
	return nil
}

func (r *MemContactRepo) MarkReplied(_ context.Context, id int, at time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	msg, ok := r.messages[id]
	if !ok {
		return ErrContactNotFound
	}
	msg.RepliedAt = &at
	r.messages[id] = msg
	return nil
}

func (r *MemContactRepo) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.messages)
}

type MemSubscriberRepo struct {
	mutex       sync.Mutex
	lastID      int
	subscribers map[string]Subscriber
}

func NewMemSubscriberRepo() *MemSubscriberRepo {
	return &MemSubscriberRepo{
		subscribers: make(map[string]Subscriber),
	}
}

func (r *MemSubscriberRepo) Subscribe(_ context.Context, email, name string, at time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s, ok := r.subscribers[email]
	if ok && s.Active {
		return ErrAlreadySubscribed
	}
	if !ok {
		r.lastID++
		s.ID = r.lastID
		s.Email = email
	}
	s.Name = name
	s.Active = true
	s.SubscribedAt = at
	s.UnsubscribedAt = nil
	r.subscribers[email] = s
	return nil
}

func (r *MemSubscriberRepo) Unsubscribe(_ context.Context, email string, at time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s, ok := r.subscribers[email]
	if !ok || !s.Active {
		return ErrSubscriberNotFound
	}
	s.Active = false
	s.UnsubscribedAt = &at
	r.subscribers[email] = s
	return nil
}

func (r *MemSubscriberRepo) ListActive(context.Context) ([]Subscriber, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var active []Subscriber
	for _, s := range r.subscribers {
		if s.Active {
			active = append(active, s)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].ID < active[j].ID
	})
	return active, nil
}
