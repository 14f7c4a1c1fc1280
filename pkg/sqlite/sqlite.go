package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rtemka/lumina/domain"
)

// драйвер с функцией ulower: встроенная lower()
// работает только с ASCII.
const driverName = "sqlite3_lumina"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("ulower", strings.ToLower, true)
		},
	})
}

//go:embed schema.sql
var schema string

// SQLite выполняет операции CRUD в БД.
type SQLite struct {
	// это поле экпортируемое, чтобы пользователь
	// мог установить такие важные параметры подлючения как
	// SetConnMaxIdleTime, SetMaxOpenConns, SetMaxIdleConns...
	DB *sql.DB
}

var _ domain.Repository = (*SQLite)(nil)

// New производит подключение к [*SQLite] БД.
// Пример строки подключения: file:lumina.db?_fk=on&_busy_timeout=5000
func New(connstr string) (*SQLite, error) {

	db, err := sql.Open(driverName, connstr)
	if err != nil {
		return nil, err
	}

	return &SQLite{DB: db}, db.Ping()
}

// Close закрывает подключение к БД.
func (l *SQLite) Close() error {
	return l.DB.Close()
}

// Migrate создает таблицы, если их нет.
func (l *SQLite) Migrate(ctx context.Context) error {
	return l.exec(ctx, schema)
}

// RunFile читает и исполняет sql-файл.
func (l *SQLite) RunFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return l.exec(context.Background(), string(b))
}

// exec вспомогательная функция, выполняет
// *tx.Exec() в транзакции.
func (l *SQLite) exec(ctx context.Context, stmt string, args ...any) error {
	return l.tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, stmt, args...)
		return err
	})
}

// tx выполняет fn в транзакции.
func (l *SQLite) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return storeErr(err)
	}

	return tx.Commit()
}

// storeErr приводит ошибки драйвера к ошибкам хранилища.
func storeErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNoRows
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return domain.ErrDuplicate
	}
	return err
}

// placeholders возвращает "?, ?, ?" для n аргументов.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func strArgs(s []string) []any {
	args := make([]any, len(s))
	for i := range s {
		args[i] = s[i]
	}
	return args
}

func unix(t time.Time) int64 { return t.UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

// exists проверяет наличие строки с id в таблице.
func exists(ctx context.Context, tx *sql.Tx, table, id string) error {
	var one int
	return tx.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = $1;`, id).Scan(&one)
}

// sets загружает множества (теги, лайки, прочитавших)
// для строк ids в порядке добавления.
func (l *SQLite) sets(ctx context.Context, table, key, value string, ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	stmt := `SELECT ` + key + `, ` + value + ` FROM ` + table +
		` WHERE ` + key + ` IN (` + placeholders(len(ids)) + `) ORDER BY rowid;`

	rows, err := l.DB.QueryContext(ctx, stmt, strArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, v string
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		out[id] = append(out[id], v)
	}
	return out, rows.Err()
}

// insertSet записывает множество значений для строки id.
func insertSet(ctx context.Context, tx *sql.Tx, table, key, value, id string, values []string) error {
	stmt := `INSERT INTO ` + table + `(` + key + `, ` + value + `) VALUES($1, $2) ON CONFLICT DO NOTHING;`
	for _, v := range values {
		if _, err := tx.ExecContext(ctx, stmt, id, v); err != nil {
			return err
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
