// Пакет media сохраняет загруженные изображения: на диск,
// в Google Cloud Storage или в Amazon S3.
package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxSize - максимальный размер загружаемого файла.
const MaxSize = 5 << 20

var (
	ErrNotImage = errors.New("only image uploads are allowed")
	ErrTooLarge = errors.New("file is too large")
)

// Object - сохраненный файл.
type Object struct {
	URL string // публичный адрес
	Key string // ключ для удаления
}

// File - загруженный пользователем файл.
type File struct {
	Name        string // исходное имя
	ContentType string
	Data        []byte
}

// Store - контракт хранилища файлов.
type Store interface {
	Save(ctx context.Context, f File) (Object, error)
	// Delete удаляет файл. Отсутствующий файл - не ошибка.
	Delete(ctx context.Context, key string) error
}

// Check проверяет, что файл - изображение допустимого размера.
func Check(f File) error {
	if len(f.Data) > MaxSize {
		return ErrTooLarge
	}
	if !strings.HasPrefix(f.ContentType, "image/") {
		return ErrNotImage
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// ObjectName возвращает уникальное имя файла вида
// <unix ms>-<uuid>-<безопасное исходное имя><расширение>.
func ObjectName(f File, now time.Time) string {
	ext := extension(f.Name, f.ContentType)
	base := strings.TrimSuffix(filepath.Base(f.Name), filepath.Ext(f.Name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "file"
	}
	base = unsafeChars.ReplaceAllString(base, "_")
	return fmt.Sprintf("%d-%s-%s%s", now.UnixMilli(), uuid.NewString(), base, ext)
}

// extension определяет расширение по типу содержимого,
// а если тип не изображение - по имени файла.
func extension(name, contentType string) string {
	if t, _, err := mime.ParseMediaType(contentType); err == nil {
		if t == "image/jpeg" {
			return ".jpg"
		}
		if sub, ok := strings.CutPrefix(t, "image/"); ok {
			if clean := unsafeChars.ReplaceAllString(sub, ""); clean != "" {
				return "." + clean
			}
		}
	}
	if ext := filepath.Ext(name); len(ext) > 1 {
		if clean := unsafeChars.ReplaceAllString(ext[1:], ""); clean != "" {
			return "." + strings.ToLower(clean)
		}
	}
	return ".jpg"
}
