// Package state はデプロイしたリソースの識別子、スタックの出力、デプロイ履歴を
// SQLiteに保存する。
//
// 再デプロイ時は保存済みの識別子を使って既存リソースを更新するため、
// 同じ構成で何度デプロイしても結果は変わらない。
package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/nao1215/lambda-authorizer/pkg/event"
	"github.com/nao1215/lambda-authorizer/pkg/migration"
)

//go:embed migrations/*.up.sql
var migrationsFS embed.FS

// timeLayout はDBに保存する日時の形式。
const timeLayout = time.RFC3339Nano

// ErrNotFound は指定したレコードが存在しない場合のエラー。
var ErrNotFound = errors.New("レコードが見つかりません")

// Resource はデプロイ済みリソース1件分の記録。
type Resource struct {
	Stack      string
	LogicalID  string
	Kind       string
	PhysicalID string
	ARN        string
	UpdatedAt  time.Time
}

// Store はデプロイ状態の永続化を行う。
type Store struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// Open はSQLiteデータベースを開き、マイグレーションを適用する。
// pathに ":memory:" を指定するとインメモリデータベースを使う。
func Open(ctx context.Context, path string, log logrus.FieldLogger) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// SQLiteは書き込みを直列化するため接続を1つに制限する
	db.SetMaxOpenConns(1)

	n, err := migration.Run(ctx, db, migrationsFS, "migrations", log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	log.WithFields(logrus.Fields{"path": path, "applied": n}).Debug("状態ストアを開きました")
	return &Store{db: db, log: log}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveResource はリソースを保存する。同じ論理IDのリソースは上書きする。
func (s *Store) SaveResource(ctx context.Context, r Resource) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resources (stack, logical_id, kind, physical_id, arn, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (stack, logical_id) DO UPDATE SET
			kind = excluded.kind,
			physical_id = excluded.physical_id,
			arn = excluded.arn,
			updated_at = excluded.updated_at
	`, r.Stack, r.LogicalID, r.Kind, r.PhysicalID, r.ARN, r.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("リソース %s の保存に失敗: %w", r.LogicalID, err)
	}
	return nil
}

// Resource は論理IDでリソースを取得する。存在しない場合はErrNotFoundを返す。
func (s *Store) Resource(ctx context.Context, stack, logicalID string) (*Resource, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT stack, logical_id, kind, physical_id, arn, updated_at
		FROM resources WHERE stack = ? AND logical_id = ?
	`, stack, logicalID)

	r, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("リソース %s: %w", logicalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("リソース %s の取得に失敗: %w", logicalID, err)
	}
	return r, nil
}

// Resources はスタックのリソースを論理ID順に返す。
func (s *Store) Resources(ctx context.Context, stack string) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stack, logical_id, kind, physical_id, arn, updated_at
		FROM resources WHERE stack = ? ORDER BY logical_id
	`, stack)
	if err != nil {
		return nil, fmt.Errorf("リソース一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var resources []Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("リソースの読み込みに失敗: %w", err)
		}
		resources = append(resources, *r)
	}
	return resources, rows.Err()
}

// DeleteResource はリソースの記録を削除する。
func (s *Store) DeleteResource(ctx context.Context, stack, logicalID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM resources WHERE stack = ? AND logical_id = ?", stack, logicalID); err != nil {
		return fmt.Errorf("リソース %s の削除に失敗: %w", logicalID, err)
	}
	return nil
}

// DeleteResources はスタックのリソースと出力の記録をすべて削除する。イベントは残す。
func (s *Store) DeleteResources(ctx context.Context, stack string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM resources WHERE stack = ?", stack); err != nil {
		return fmt.Errorf("リソースの削除に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM outputs WHERE stack = ?", stack); err != nil {
		return fmt.Errorf("出力の削除に失敗: %w", err)
	}
	return tx.Commit()
}

// SaveOutput はスタックの出力を保存する。
func (s *Store) SaveOutput(ctx context.Context, stack, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outputs (stack, key, value) VALUES (?, ?, ?)
		ON CONFLICT (stack, key) DO UPDATE SET value = excluded.value
	`, stack, key, value)
	if err != nil {
		return fmt.Errorf("出力 %s の保存に失敗: %w", key, err)
	}
	return nil
}

// Outputs はスタックの出力を返す。
func (s *Store) Outputs(ctx context.Context, stack string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM outputs WHERE stack = ?", stack)
	if err != nil {
		return nil, fmt.Errorf("出力の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	outputs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("出力の読み込みに失敗: %w", err)
		}
		outputs[k] = v
	}
	return outputs, rows.Err()
}

// AppendEvent はスタックのイベントを次のバージョンで追記する。
func (s *Store) AppendEvent(ctx context.Context, stack string, eventType event.Type, data any) (*event.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM events WHERE stack = ?", stack).Scan(&current); err != nil {
		return nil, fmt.Errorf("イベントバージョンの取得に失敗: %w", err)
	}

	ev, err := event.NewStackEvent(stack, eventType, current+1, data)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, stack, aggregate_type, event_type, data, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.AggregateID, string(ev.AggregateType), string(ev.EventType), string(ev.Data), ev.Version, ev.CreatedAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("イベントの保存に失敗: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("イベントのコミットに失敗: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"stack":      stack,
		"event_type": eventType,
		"version":    ev.Version,
	}).Debug("イベントを追記")
	return ev, nil
}

// Events はスタックのイベントをバージョン順に返す。
func (s *Store) Events(ctx context.Context, stack string) ([]*event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stack, aggregate_type, event_type, data, version, created_at
		FROM events WHERE stack = ? ORDER BY version
	`, stack)
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*event.Event
	for rows.Next() {
		var (
			ev        event.Event
			aggType   string
			evType    string
			data      string
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &aggType, &evType, &data, &ev.Version, &createdAt); err != nil {
			return nil, fmt.Errorf("イベントの読み込みに失敗: %w", err)
		}
		ev.AggregateType = event.AggregateType(aggType)
		ev.EventType = event.Type(evType)
		ev.Data = []byte(data)
		if ev.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("イベント日時の解析に失敗: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanResource は1行をResourceに変換する。
func scanResource(row rowScanner) (*Resource, error) {
	var (
		r         Resource
		updatedAt string
	)
	if err := row.Scan(&r.Stack, &r.LogicalID, &r.Kind, &r.PhysicalID, &r.ARN, &updatedAt); err != nil {
		return nil, err
	}
	t, err := time.Parse(timeLayout, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("更新日時の解析に失敗: %w", err)
	}
	r.UpdatedAt = t
	return &r, nil
}
