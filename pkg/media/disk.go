package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Disk хранит файлы в каталоге на диске. Файлы
// отдаются сервером по адресу <baseURL>/uploads/<имя>.
type Disk struct {
	dir     string
	baseURL string
	now     func() time.Time
}

// NewDisk создает каталог dir, если его нет, и возвращает [*Disk].
func NewDisk(dir, baseURL string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create uploads dir: %w", err)
	}
	return &Disk{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/"), now: time.Now}, nil
}

// Dir - каталог с файлами.
func (d *Disk) Dir() string { return d.dir }

func (d *Disk) Save(_ context.Context, f File) (Object, error) {
	name := ObjectName(f, d.now())
	if err := os.WriteFile(filepath.Join(d.dir, name), f.Data, 0o644); err != nil {
		return Object{}, fmt.Errorf("media: write file: %w", err)
	}
	return Object{URL: d.baseURL + "/uploads/" + name, Key: name}, nil
}

func (d *Disk) Delete(_ context.Context, key string) error {
	if key == "" {
		return nil
	}
	// ключ - только имя файла, без каталогов
	err := os.Remove(filepath.Join(d.dir, filepath.Base(key)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("media: remove file: %w", err)
	}
	return nil
}
