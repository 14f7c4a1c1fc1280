package client

import (
	"sync"

	"github.com/rtemka/lumina/domain"
)

// ReadTracker помнит комментарии, отметка о прочтении которых
// уже отправлена в текущей сессии просмотра.
type ReadTracker struct {
	mu     sync.Mutex
	marked map[string]struct{}
}

// NewReadTracker возвращает пустой [*ReadTracker].
func NewReadTracker() *ReadTracker {
	return &ReadTracker{marked: make(map[string]struct{})}
}

// Pending возвращает id непрочитанных userID чужих комментариев
// верхнего уровня, которые еще не отмечались, и запоминает их.
func (t *ReadTracker) Pending(threads []domain.Thread, userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for _, th := range threads {
		if th.Author.ID == userID || th.ReadByUser(userID) {
			continue
		}
		if _, ok := t.marked[th.ID]; ok {
			continue
		}
		t.marked[th.ID] = struct{}{}
		out = append(out, th.ID)
	}
	return out
}

// Forget позволяет отметить комментарий повторно.
func (t *ReadTracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.marked, id)
}
