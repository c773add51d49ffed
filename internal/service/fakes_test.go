package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"synapse-go/internal/model"
	"synapse-go/internal/repository"
	"synapse-go/pkg/tasks"
)

// 内存版仓库，只实现测试需要的语义。

type fakeUserRepo struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]*model.User
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uint]*model.User{}}
}

func (r *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return model.ErrEmailTaken
		}
	}
	r.nextID++
	user.ID = r.nextID
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (r *fakeUserRepo) FindByID(_ context.Context, id uint) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type fakeNotebookRepo struct {
	mu        sync.Mutex
	nextID    uint
	notebooks map[uint]*model.Notebook
	deleted   []uint
}

var _ repository.NotebookRepository = (*fakeNotebookRepo)(nil)

func newFakeNotebookRepo() *fakeNotebookRepo {
	return &fakeNotebookRepo{notebooks: map[uint]*model.Notebook{}}
}

func (r *fakeNotebookRepo) Create(_ context.Context, nb *model.Notebook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notebooks {
		if n.Title == nb.Title {
			return model.ErrDuplicateNotebookTitle
		}
	}
	r.nextID++
	nb.ID = r.nextID
	cp := *nb
	r.notebooks[nb.ID] = &cp
	return nil
}

func (r *fakeNotebookRepo) FindOwned(_ context.Context, notebookID, userID uint) (*model.Notebook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nb, ok := r.notebooks[notebookID]
	if !ok || nb.UserID != userID {
		return nil, model.ErrAccessDenied
	}
	cp := *nb
	return &cp, nil
}

func (r *fakeNotebookRepo) ListByUser(_ context.Context, userID uint) ([]model.Notebook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Notebook
	for _, nb := range r.notebooks {
		if nb.UserID == userID {
			out = append(out, *nb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeNotebookRepo) Delete(_ context.Context, notebookID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.notebooks, notebookID)
	r.deleted = append(r.deleted, notebookID)
	return nil
}

type fakeSourceRepo struct {
	mu      sync.Mutex
	nextID  uint
	sources map[uint]*model.Source
	err     error
}

var _ repository.SourceRepository = (*fakeSourceRepo)(nil)

func newFakeSourceRepo() *fakeSourceRepo {
	return &fakeSourceRepo{sources: map[uint]*model.Source{}}
}

func (r *fakeSourceRepo) add(notebookID uint, status string) *model.Source {
	s := &model.Source{NotebookID: notebookID, Title: "doc.pdf", Status: status}
	_ = r.Create(context.Background(), s)
	return s
}

func (r *fakeSourceRepo) Create(_ context.Context, s *model.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.ID = r.nextID
	if s.Status == "" {
		s.Status = model.SourceStatusPending
	}
	cp := *s
	r.sources[s.ID] = &cp
	return nil
}

func (r *fakeSourceRepo) FindInNotebook(_ context.Context, notebookID, sourceID uint) (*model.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[sourceID]
	if !ok || s.NotebookID != notebookID {
		return nil, model.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSourceRepo) ListByNotebook(_ context.Context, notebookID uint) ([]model.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Source
	for _, s := range r.sources {
		if s.NotebookID == notebookID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeSourceRepo) ReadyIDs(_ context.Context, notebookID uint) ([]uint, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uint
	for id, s := range r.sources {
		if s.NotebookID == notebookID && s.Ready() {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *fakeSourceRepo) UpdateStatus(_ context.Context, sourceID uint, status, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[sourceID]
	if !ok {
		return model.ErrNotFound
	}
	s.Status = status
	s.Error = errMsg
	return nil
}

func (r *fakeSourceRepo) Delete(_ context.Context, sourceID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, sourceID)
	return nil
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	nextID   uint
	messages []model.ChatMessage
}

var _ repository.ChatMessageRepository = (*fakeMessageRepo)(nil)

func (r *fakeMessageRepo) Append(_ context.Context, msg *model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	msg.ID = r.nextID
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *fakeMessageRepo) Recent(_ context.Context, notebookID uint, limit int) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ChatMessage
	for _, m := range r.messages {
		if m.NotebookID == notebookID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *fakeMessageRepo) all(notebookID uint) []model.ChatMessage {
	msgs, _ := r.Recent(context.Background(), notebookID, 0)
	return msgs
}

type fakeTokenRepo struct {
	mu      sync.Mutex
	revoked map[string]bool
}

var _ repository.TokenRepository = (*fakeTokenRepo)(nil)

func (r *fakeTokenRepo) Blacklist(_ context.Context, token string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revoked == nil {
		r.revoked = map[string]bool{}
	}
	r.revoked[token] = true
	return nil
}

func (r *fakeTokenRepo) IsBlacklisted(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revoked[token], nil
}

// 对象存储、入库分发、向量索引的替身

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	removed []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (o *fakeObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = data
	return nil
}

func (o *fakeObjectStore) Remove(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	o.removed = append(o.removed, key)
	return nil
}

func (o *fakeObjectStore) PresignedURL(_ context.Context, key string) (string, error) {
	return "https://objects.test/" + key, nil
}

func (o *fakeObjectStore) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.objects)
}

type fakeDispatcher struct {
	mu    sync.Mutex
	tasks []tasks.SourceIngestionTask
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, task tasks.SourceIngestionTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
	return d.err
}

type fakeIndex struct {
	mu              sync.Mutex
	deletedSources  []uint
	droppedNotebook []uint
	err             error
}

func (f *fakeIndex) DeleteSource(_ context.Context, _, sourceID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedSources = append(f.deletedSources, sourceID)
	return f.err
}

func (f *fakeIndex) DropNotebook(_ context.Context, notebookID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.droppedNotebook = append(f.droppedNotebook, notebookID)
	return f.err
}

var errBoom = errors.New("boom")
