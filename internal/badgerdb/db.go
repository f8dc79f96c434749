package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/cwrk-planet/deal-chat/pkg/logger"
)

const maxConflictRetries = 16

// Store — встроенное хранилище комнат поверх Badger. Каждая операция, которая
// проверяет инвариант, выполняется в одной сериализуемой транзакции; конфликт
// транзакций повторяется.
type Store struct {
	db *badger.DB
}

// Open открывает базу в каталоге path. Пустой path — in-memory (для тестов и dev).
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(slogLogger{logger.Component("badger")})
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping — проверка для /healthz.
func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger: database is closed")
	}
	return nil
}

// update выполняет fn в read-write транзакции и повторяет её при ErrConflict.
// fn должна заново присваивать все результаты: попытка может быть не первой.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt >= maxConflictRetries {
			return fmt.Errorf("badger: too many conflicts: %w", err)
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Microsecond)
	}
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

func getString(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// scanPrefix вызывает fn для каждого ключа с префиксом в порядке возрастания
// (или убывания при reverse). fn возвращает false, чтобы остановиться.
func scanPrefix(txn *badger.Txn, prefix, seek string, reverse bool, fn func(key string, val []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.Reverse = reverse
	it := txn.NewIterator(opts)
	defer it.Close()

	if seek == "" {
		seek = prefix
		if reverse {
			seek = prefix + "\xff"
		}
	}
	for it.Seek([]byte(seek)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		item := it.Item()
		var cont bool
		err := item.Value(func(val []byte) error {
			var err error
			cont, err = fn(string(item.Key()), val)
			return err
		})
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// ts приводит время к точности timestamptz, чтобы backend'ы вели себя одинаково.
func ts(t time.Time) time.Time { return t.UTC().Truncate(time.Microsecond) }

// slogLogger направляет журнал Badger в slog; info-шум опускается до debug.
type slogLogger struct{ l *slog.Logger }

func (s slogLogger) Errorf(f string, args ...any)   { s.l.Error(strings.TrimSpace(fmt.Sprintf(f, args...))) }
func (s slogLogger) Warningf(f string, args ...any) { s.l.Warn(strings.TrimSpace(fmt.Sprintf(f, args...))) }
func (s slogLogger) Infof(f string, args ...any)    { s.l.Debug(strings.TrimSpace(fmt.Sprintf(f, args...))) }
func (s slogLogger) Debugf(f string, args ...any)   { s.l.Debug(strings.TrimSpace(fmt.Sprintf(f, args...))) }
