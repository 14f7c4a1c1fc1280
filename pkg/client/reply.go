package client

import "github.com/rtemka/lumina/domain"

// ReplyTargeter выбирает ветку для ответа по ссылке из уведомления.
// Выбор делается не больше одного раза за переход, выбор,
// сделанный пользователем вручную, не перезаписывается.
type ReplyTargeter struct {
	target   string // id комментария из ссылки
	selected bool
	current  string // id ветки, на которую отвечаем
}

// Navigate начинает новый переход. Если ссылка изменилась,
// ветку снова можно выбрать автоматически.
func (r *ReplyTargeter) Navigate(target string) {
	if target != r.target {
		r.selected = false
	}
	r.target = target
}

// Resolve выбирает ветку по ссылке. Отвечать может только автор поста.
// Если комментария из ссылки нет, ничего не меняется.
func (r *ReplyTargeter) Resolve(threads []domain.Thread, isAuthor bool) (string, bool) {
	if r.target == "" || !isAuthor || r.selected || r.current != "" {
		return r.current, r.current != ""
	}
	th, ok := domain.ReplyTarget(threads, r.target)
	if !ok {
		return "", false
	}
	r.current, r.selected = th.ID, true
	return r.current, true
}

// Choose задает ветку вручную, "" снимает выбор.
func (r *ReplyTargeter) Choose(threadID string) {
	r.current = threadID
	r.selected = true
}

// Current - выбранная ветка.
func (r *ReplyTargeter) Current() string { return r.current }
