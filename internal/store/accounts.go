package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var (
	// ErrNotFound 表示记录不存在。
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicateEmail 表示邮箱已被占用。
	ErrDuplicateEmail = errors.New("store: email already registered")
)

// Trader 为带单账户。
type Trader struct {
	ID         int64
	APIKey     string
	APISecret  string
	Email      string
	IsActive   bool
	StreamOpen bool
}

// Follower 为跟单账户，归属于唯一一个 Trader。
type Follower struct {
	ID        int64
	APIKey    string
	APISecret string
	Email     string
	TraderID  int64
}

// Accounts 基于 SQLite 实现账户存储。
type Accounts struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAccounts 初始化账户存储，创建所需表结构。
func NewAccounts(store *Store, logger *zap.Logger) (*Accounts, error) {
	if store == nil {
		return nil, fmt.Errorf("store: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Accounts{
		db:     store.DB(),
		logger: logger,
	}

	if err := a.initSchema(); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *Accounts) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS traders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	api_key TEXT NOT NULL,
	api_secret TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	is_active INTEGER NOT NULL DEFAULT 1,
	stream_open INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS followers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	api_key TEXT NOT NULL,
	api_secret TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	trader_id INTEGER NOT NULL REFERENCES traders(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_followers_trader ON followers(trader_id);
`
	if _, err := a.db.Exec(stmt); err != nil {
		return fmt.Errorf("store: 初始化表失败: %w", err)
	}
	return nil
}

// CreateTrader 新建带单账户。
func (a *Accounts) CreateTrader(ctx context.Context, t Trader) (Trader, error) {
	res, err := a.db.ExecContext(ctx,
		`INSERT INTO traders (api_key, api_secret, email, is_active, stream_open) VALUES (?, ?, ?, ?, 0)`,
		t.APIKey, t.APISecret, t.Email, boolToInt(t.IsActive),
	)
	if err != nil {
		return Trader{}, wrapConstraint(err, "store: 创建带单账户失败")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Trader{}, fmt.Errorf("store: 读取自增主键失败: %w", err)
	}

	t.ID = id
	t.StreamOpen = false
	return t, nil
}

// GetTrader 按主键查询带单账户。
func (a *Accounts) GetTrader(ctx context.Context, id int64) (Trader, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT id, api_key, api_secret, email, is_active, stream_open FROM traders WHERE id = ?`, id)
	return scanTrader(row)
}

// GetTraderByEmail 按邮箱查询带单账户。
func (a *Accounts) GetTraderByEmail(ctx context.Context, email string) (Trader, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT id, api_key, api_secret, email, is_active, stream_open FROM traders WHERE email = ?`, email)
	return scanTrader(row)
}

// ListTraders 返回全部带单账户。
func (a *Accounts) ListTraders(ctx context.Context) ([]Trader, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, api_key, api_secret, email, is_active, stream_open FROM traders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: 查询带单账户失败: %w", err)
	}
	defer rows.Close()

	return collectTraders(rows)
}

// ListTradersAwaitingStream 返回活跃且尚未开流的带单账户。
func (a *Accounts) ListTradersAwaitingStream(ctx context.Context) ([]Trader, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, api_key, api_secret, email, is_active, stream_open FROM traders
		 WHERE is_active = 1 AND stream_open = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: 查询待开流账户失败: %w", err)
	}
	defer rows.Close()

	return collectTraders(rows)
}

// UpdateTrader 更新带单账户的凭证与激活状态。
func (a *Accounts) UpdateTrader(ctx context.Context, t Trader) (Trader, error) {
	res, err := a.db.ExecContext(ctx,
		`UPDATE traders SET api_key = ?, api_secret = ?, is_active = ? WHERE id = ?`,
		t.APIKey, t.APISecret, boolToInt(t.IsActive), t.ID,
	)
	if err != nil {
		return Trader{}, fmt.Errorf("store: 更新带单账户失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Trader{}, ErrNotFound
	}
	return a.GetTrader(ctx, t.ID)
}

// DeleteTrader 删除带单账户，级联删除其全部跟单账户。
func (a *Accounts) DeleteTrader(ctx context.Context, id int64) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM traders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: 删除带单账户失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimStream 以 CAS 方式将 stream_open 从 0 置为 1，返回是否抢占成功。
func (a *Accounts) ClaimStream(ctx context.Context, traderID int64) (bool, error) {
	res, err := a.db.ExecContext(ctx,
		`UPDATE traders SET stream_open = 1 WHERE id = ? AND stream_open = 0`, traderID)
	if err != nil {
		return false, fmt.Errorf("store: 抢占流标记失败: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: 读取影响行数失败: %w", err)
	}
	return n == 1, nil
}

// ReleaseStream 将 stream_open 置回 0，使账户重新进入调度范围。
func (a *Accounts) ReleaseStream(ctx context.Context, traderID int64) error {
	if _, err := a.db.ExecContext(ctx,
		`UPDATE traders SET stream_open = 0 WHERE id = ?`, traderID); err != nil {
		return fmt.Errorf("store: 释放流标记失败: %w", err)
	}
	return nil
}

// ResetStreamFlags 在进程启动时清空全部流标记；没有会话能跨进程存活。
func (a *Accounts) ResetStreamFlags(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, `UPDATE traders SET stream_open = 0`); err != nil {
		return fmt.Errorf("store: 重置流标记失败: %w", err)
	}
	return nil
}

// CreateFollower 为指定带单账户新建跟单账户。
func (a *Accounts) CreateFollower(ctx context.Context, f Follower) (Follower, error) {
	if _, err := a.GetTrader(ctx, f.TraderID); err != nil {
		return Follower{}, err
	}

	res, err := a.db.ExecContext(ctx,
		`INSERT INTO followers (api_key, api_secret, email, trader_id) VALUES (?, ?, ?, ?)`,
		f.APIKey, f.APISecret, f.Email, f.TraderID,
	)
	if err != nil {
		return Follower{}, wrapConstraint(err, "store: 创建跟单账户失败")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Follower{}, fmt.Errorf("store: 读取自增主键失败: %w", err)
	}

	f.ID = id
	return f, nil
}

// ListFollowers 返回全部跟单账户。
func (a *Accounts) ListFollowers(ctx context.Context) ([]Follower, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, api_key, api_secret, email, trader_id FROM followers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: 查询跟单账户失败: %w", err)
	}
	defer rows.Close()

	return collectFollowers(rows)
}

// ListFollowersOf 返回指定带单账户当前的跟单账户集合。
func (a *Accounts) ListFollowersOf(ctx context.Context, traderID int64) ([]Follower, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, api_key, api_secret, email, trader_id FROM followers WHERE trader_id = ? ORDER BY id`,
		traderID)
	if err != nil {
		return nil, fmt.Errorf("store: 查询跟单账户失败: %w", err)
	}
	defer rows.Close()

	return collectFollowers(rows)
}

func scanTrader(row *sql.Row) (Trader, error) {
	var t Trader
	var active, open int
	err := row.Scan(&t.ID, &t.APIKey, &t.APISecret, &t.Email, &active, &open)
	if errors.Is(err, sql.ErrNoRows) {
		return Trader{}, ErrNotFound
	}
	if err != nil {
		return Trader{}, fmt.Errorf("store: 读取带单账户失败: %w", err)
	}
	t.IsActive = active != 0
	t.StreamOpen = open != 0
	return t, nil
}

func collectTraders(rows *sql.Rows) ([]Trader, error) {
	traders := make([]Trader, 0)
	for rows.Next() {
		var t Trader
		var active, open int
		if err := rows.Scan(&t.ID, &t.APIKey, &t.APISecret, &t.Email, &active, &open); err != nil {
			return nil, fmt.Errorf("store: 读取带单账户失败: %w", err)
		}
		t.IsActive = active != 0
		t.StreamOpen = open != 0
		traders = append(traders, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 遍历带单账户失败: %w", err)
	}
	return traders, nil
}

func collectFollowers(rows *sql.Rows) ([]Follower, error) {
	followers := make([]Follower, 0)
	for rows.Next() {
		var f Follower
		if err := rows.Scan(&f.ID, &f.APIKey, &f.APISecret, &f.Email, &f.TraderID); err != nil {
			return nil, fmt.Errorf("store: 读取跟单账户失败: %w", err)
		}
		followers = append(followers, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 遍历跟单账户失败: %w", err)
	}
	return followers, nil
}

func wrapConstraint(err error, msg string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %w", msg, ErrDuplicateEmail)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
