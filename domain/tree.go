package domain

import "sort"

// ToTree - возвращает дерево комментариев из плоского списка.
// Комментарии верхнего уровня идут от новых к старым, ответы
// внутри ветки - от старых к новым. Ответы, родителя которых
// нет среди комментариев верхнего уровня, отбрасываются.
func ToTree(comments []Comment) []Thread {

	var m = make(map[string][]Comment, len(comments))
	var tops int

	for i := range comments {
		if comments[i].ParentID == "" {
			tops++
			continue
		}
		m[comments[i].ParentID] = append(m[comments[i].ParentID], comments[i])
	}

	var out = make([]Thread, 0, tops)

	for i := range comments {
		if comments[i].ParentID != "" {
			continue
		}
		replies := m[comments[i].ID]
		sort.SliceStable(replies, func(a, b int) bool {
			return replies[a].CreatedAt.Before(replies[b].CreatedAt)
		})
		if replies == nil {
			replies = []Comment{}
		}
		out = append(out, Thread{Comment: comments[i], Replies: replies})
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})

	return out
}

// VisibleCount - количество комментариев в обсуждении без учета
// ответов автора поста.
func VisibleCount(threads []Thread) int {
	var n int
	for i := range threads {
		if !threads[i].IsOwnerReply {
			n++
		}
		for j := range threads[i].Replies {
			if !threads[i].Replies[j].IsOwnerReply {
				n++
			}
		}
	}
	return n
}

// ReplyTarget находит ветку, в которую следует отвечать по ссылке на
// комментарий id: саму ветку, если id - комментарий верхнего уровня,
// или ветку родителя, если id - ответ.
func ReplyTarget(threads []Thread, id string) (Thread, bool) {
	if id == "" {
		return Thread{}, false
	}
	for i := range threads {
		if threads[i].ID == id {
			return threads[i], true
		}
	}
	for i := range threads {
		for j := range threads[i].Replies {
			if threads[i].Replies[j].ID == id {
				return threads[i], true
			}
		}
	}
	return Thread{}, false
}
