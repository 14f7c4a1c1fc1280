// Пакет moderation проверяет текст комментариев на запрещенные слова.
package moderation

import (
	"strings"
)

// Checker хранит список запрещенных слов.
// Пустой список пропускает любой текст.
type Checker struct {
	words []string
}

// New возвращает [*Checker] со словами words.
// Слова приводятся к нижнему регистру, пустые отбрасываются.
func New(words ...string) *Checker {
	c := Checker{}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			c.words = append(c.words, w)
		}
	}
	return &c
}

// FromList разбирает список слов через запятую, например
// значение переменной окружения.
func FromList(list string) *Checker {
	return New(strings.Split(list, ",")...)
}

// Banned проверяет содержит ли текст запрещенные слова.
func (c *Checker) Banned(text string) bool {
	if c == nil || len(c.words) == 0 {
		return false
	}
	text = strings.ToLower(text)
	for i := range c.words {
		if strings.Contains(text, c.words[i]) {
			return true
		}
	}
	return false
}

// Len - количество запрещенных слов.
func (c *Checker) Len() int {
	if c == nil {
		return 0
	}
	return len(c.words)
}
