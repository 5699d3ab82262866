// Package memory holds in-process implementations of the repository
// interfaces. Each store serialises access with one mutex, which gives the
// same per-document atomicity the Mongo stores get from single updates.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fathima-sithara/chat-sync-service/internal/models"
	"github.com/fathima-sithara/chat-sync-service/internal/repository"
)

var (
	_ repository.ConversationStore = (*ConversationStore)(nil)
	_ repository.MessageStore      = (*MessageStore)(nil)
	_ repository.UserDirectory     = (*UserDirectory)(nil)
)

type ConversationStore struct {
	mu    sync.Mutex
	byID  map[string]*models.Conversation
	pairs map[string]string
	Err   error
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{byID: map[string]*models.Conversation{}, pairs: map[string]string{}}
}

func cloneConversation(c *models.Conversation) *models.Conversation {
	out := *c
	out.Members = append([]models.Member(nil), c.Members...)
	out.GroupAdmins = append([]string(nil), c.GroupAdmins...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

func (s *ConversationStore) Create(_ context.Context, c *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.byID[c.ID]; ok {
		return repository.ErrDuplicate
	}
	if c.PairKey != "" {
		if _, ok := s.pairs[c.PairKey]; ok {
			return repository.ErrDuplicate
		}
		s.pairs[c.PairKey] = c.ID
	}
	s.byID[c.ID] = cloneConversation(c)
	return nil
}

func (s *ConversationStore) Get(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	c, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *ConversationStore) FindDirect(_ context.Context, pairKey string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	id, ok := s.pairs[pairKey]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneConversation(s.byID[id]), nil
}

func (s *ConversationStore) ListForMember(_ context.Context, userID string, f repository.ConversationFilter) ([]*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := []*models.Conversation{}
	for _, c := range s.byID {
		if !c.HasMember(userID) {
			continue
		}
		if f.Archived != nil && c.IsArchived != *f.Archived {
			continue
		}
		out = append(out, cloneConversation(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && int64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *ConversationStore) ApplyMessage(_ context.Context, id, senderID string, sum models.MessageSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	c, ok := s.byID[id]
	if !ok || !c.HasMember(senderID) {
		return repository.ErrNotFound
	}
	for i := range c.Members {
		if c.Members[i].UserID != senderID {
			c.Members[i].UnreadCount++
		}
	}
	if c.LastMessage == nil || !c.LastMessage.SentAt.After(sum.SentAt) {
		lm := sum
		c.LastMessage = &lm
	}
	if sum.SentAt.After(c.UpdatedAt) {
		c.UpdatedAt = sum.SentAt
	}
	return nil
}

func (s *ConversationStore) ResetUnread(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	c, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	for i := range c.Members {
		if c.Members[i].UserID == userID {
			c.Members[i].UnreadCount = 0
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *ConversationStore) ToggleArchive(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	c, ok := s.byID[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	c.IsArchived = !c.IsArchived
	return c.IsArchived, nil
}

func (s *ConversationStore) AddMembers(_ context.Context, id string, userIDs []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	c, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !c.IsGroup {
		return nil
	}
	for _, uid := range userIDs {
		if !c.HasMember(uid) {
			c.Members = append(c.Members, models.Member{UserID: uid})
			c.UpdatedAt = at
		}
	}
	return nil
}

func (s *ConversationStore) MarkSummaryDeleted(_ context.Context, id, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if c, ok := s.byID[id]; ok && c.LastMessage != nil && c.LastMessage.MessageID == messageID {
		c.LastMessage.Deleted = true
	}
	return nil
}

func (s *ConversationStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	c, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	if c.PairKey != "" {
		delete(s.pairs, c.PairKey)
	}
	delete(s.byID, id)
	return nil
}

// Count reports how many conversations are stored.
func (s *ConversationStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

type MessageStore struct {
	mu   sync.Mutex
	byID map[string]*models.Message
	Err  error
}

func NewMessageStore() *MessageStore {
	return &MessageStore{byID: map[string]*models.Message{}}
}

func (s *MessageStore) Insert(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.byID[m.ID]; ok {
		return repository.ErrDuplicate
	}
	cp := *m
	s.byID[m.ID] = &cp
	return nil
}

func (s *MessageStore) Get(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	m, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MessageStore) List(_ context.Context, conversationID string, q repository.MessageQuery) ([]*models.Message, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, 0, s.Err
	}
	matched := []*models.Message{}
	for _, m := range s.byID {
		if m.ConversationID != conversationID {
			continue
		}
		if q.UnreadOnly && m.IsRead {
			continue
		}
		if !q.IncludeDeleted && m.IsDeleted {
			continue
		}
		cp := *m
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].SentAt.Equal(matched[j].SentAt) {
			return matched[i].SentAt.After(matched[j].SentAt)
		}
		return matched[i].ID > matched[j].ID
	})
	total := int64(len(matched))
	skip := repository.Skip(q.Page, q.Limit)
	if skip >= total {
		return []*models.Message{}, total, nil
	}
	end := total
	if q.Limit > 0 && skip+q.Limit < total {
		end = skip + q.Limit
	}
	return matched[skip:end], total, nil
}

func (s *MessageStore) MarkAllRead(_ context.Context, conversationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for _, m := range s.byID {
		if m.ConversationID == conversationID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *MessageStore) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	m, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.IsDeleted = true
	return nil
}

func (s *MessageStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.byID, id)
	return nil
}

func (s *MessageStore) DeleteByConversation(_ context.Context, conversationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for id, m := range s.byID {
		if m.ConversationID == conversationID {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

// CountFor reports how many messages, tombstones included, a conversation owns.
func (s *MessageStore) CountFor(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.byID {
		if m.ConversationID == conversationID {
			n++
		}
	}
	return n
}

type UserDirectory struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewUserDirectory(users ...models.User) *UserDirectory {
	d := &UserDirectory{users: map[string]models.User{}}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *UserDirectory) Put(u models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *UserDirectory) ResolveActive(_ context.Context, ids []string) (map[string]models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := map[string]models.User{}
	for _, id := range ids {
		if u, ok := d.users[id]; ok && u.Active {
			out[id] = u
		}
	}
	return out, nil
}

func (d *UserDirectory) Lookup(_ context.Context, ids []string) (map[string]models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := map[string]models.User{}
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (d *UserDirectory) ListActive(_ context.Context, q repository.UserQuery) ([]models.User, int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	search := strings.ToLower(q.Search)
	matched := []models.User{}
	for _, u := range d.users {
		if !u.Active || u.ID == q.ExcludeID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(u.FirstName), search) &&
			!strings.Contains(strings.ToLower(u.LastName), search) {
			continue
		}
		matched = append(matched, u)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.FirstName != b.FirstName {
			return a.FirstName < b.FirstName
		}
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		return a.ID < b.ID
	})
	total := int64(len(matched))
	skip := repository.Skip(q.Page, q.Limit)
	if skip >= total {
		return []models.User{}, total, nil
	}
	end := total
	if q.Limit > 0 && skip+q.Limit < total {
		end = skip + q.Limit
	}
	return matched[skip:end], total, nil
}
