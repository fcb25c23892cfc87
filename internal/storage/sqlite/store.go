// Package sqlite provides a SQLite-backed store for banners, items, pity and pull history.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	_ "modernc.org/sqlite"

	"github.com/xtding233/gacha-pity/internal/gacha"
	"github.com/xtding233/gacha-pity/internal/storage"
	"github.com/xtding233/gacha-pity/internal/storage/sqlite/migrations"
)

const (
	bannersTable = "banners"
	itemsTable   = "items"
	pityTable    = "pity_states"
	historyTable = "pull_history"
)

var pityColumns = []string{
	"player_id", "scope", "pity_counter", "guaranteed_featured", "total_pulls",
	"legendary_count", "featured_count", "last_pull_at", "version",
}

// Store persists engine state in SQLite.
type Store struct {
	db     *sql.DB
	txm    *manager.Manager
	getter *trmsql.CtxGetter
	qb     sq.StatementBuilderType
}

var _ storage.Store = (*Store)(nil)

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Open opens the database at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer; every call goes through the same connection or the active tx
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	txm, err := manager.New(trmsql.NewDefaultFactory(db))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tx manager: %w", err)
	}
	return &Store{
		db:     db,
		txm:    txm,
		getter: trmsql.DefaultCtxGetter,
		qb:     sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Do runs fn in one SQLite transaction; store calls made with its ctx join it.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.txm.Do(ctx, fn)
}

func (s *Store) conn(ctx context.Context) trmsql.Tr {
	return s.getter.DefaultTrOrDB(ctx, s.db)
}

func (s *Store) GetBanner(ctx context.Context, id string) (*gacha.Banner, error) {
	q, args, err := s.qb.Select("payload").From(bannersTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	var payload string
	if err := s.conn(ctx).QueryRowContext(ctx, q, args...).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get banner: %w", err)
	}
	var b gacha.Banner
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return nil, fmt.Errorf("decode banner %s: %w", id, err)
	}
	return &b, nil
}

func (s *Store) PutBanner(ctx context.Context, b *gacha.Banner) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode banner: %w", err)
	}
	q, args, err := s.qb.Insert(bannersTable).
		Columns("id", "payload", "updated_at").
		Values(b.ID, string(payload), toMillis(time.Now())).
		Suffix("ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.conn(ctx).ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("put banner: %w", err)
	}
	return nil
}

func (s *Store) findItems(ctx context.Context, where sq.Sqlizer) ([]gacha.Item, error) {
	q, args, err := s.qb.Select("id", "name", "rarity").From(itemsTable).Where(where).OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.conn(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find items: %w", err)
	}
	defer rows.Close()
	var out []gacha.Item
	for rows.Next() {
		var it gacha.Item
		var r int
		if err := rows.Scan(&it.ID, &it.Name, &r); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Rarity = gacha.Rarity(r)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) FindByIDsAndRarity(ctx context.Context, ids []string, rarity gacha.Rarity) ([]gacha.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.findItems(ctx, sq.Eq{"id": ids, "rarity": int(rarity)})
}

func (s *Store) FindByIDs(ctx context.Context, ids []string) ([]gacha.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.findItems(ctx, sq.Eq{"id": ids})
}

func (s *Store) PutItems(ctx context.Context, items []gacha.Item) error {
	if len(items) == 0 {
		return nil
	}
	ins := s.qb.Insert(itemsTable).Columns("id", "name", "rarity")
	for _, it := range items {
		ins = ins.Values(it.ID, it.Name, int(it.Rarity))
	}
	q, args, err := ins.Suffix("ON CONFLICT (id) DO UPDATE SET name = excluded.name, rarity = excluded.rarity").ToSql()
	if err != nil {
		return err
	}
	if _, err := s.conn(ctx).ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("put items: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, playerID, scope string) (gacha.PityState, error) {
	q, args, err := s.qb.Select(pityColumns...).From(pityTable).
		Where(sq.Eq{"player_id": playerID, "scope": scope}).ToSql()
	if err != nil {
		return gacha.PityState{}, err
	}
	var (
		st         gacha.PityState
		guaranteed int
		last       int64
	)
	err = s.conn(ctx).QueryRowContext(ctx, q, args...).Scan(
		&st.PlayerID, &st.Scope, &st.PityCounter, &guaranteed, &st.TotalPulls,
		&st.LegendaryCount, &st.FeaturedCount, &last, &st.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return gacha.NewPityState(playerID, scope), nil
	}
	if err != nil {
		return gacha.PityState{}, fmt.Errorf("get pity state: %w", err)
	}
	st.GuaranteedFeatured = guaranteed != 0
	st.LastPullAt = fromMillis(last)
	return st, nil
}

func (s *Store) Save(ctx context.Context, st gacha.PityState) (gacha.PityState, error) {
	var (
		q    string
		args []any
		err  error
	)
	if st.Version == 0 {
		q, args, err = s.qb.Insert(pityTable).Columns(pityColumns...).Values(
			st.PlayerID, st.Scope, st.PityCounter, boolInt(st.GuaranteedFeatured), st.TotalPulls,
			st.LegendaryCount, st.FeaturedCount, toMillis(st.LastPullAt), 1,
		).Suffix("ON CONFLICT (player_id, scope) DO NOTHING").ToSql()
	} else {
		q, args, err = s.qb.Update(pityTable).
			Set("pity_counter", st.PityCounter).
			Set("guaranteed_featured", boolInt(st.GuaranteedFeatured)).
			Set("total_pulls", st.TotalPulls).
			Set("legendary_count", st.LegendaryCount).
			Set("featured_count", st.FeaturedCount).
			Set("last_pull_at", toMillis(st.LastPullAt)).
			Set("version", sq.Expr("version + 1")).
			Where(sq.Eq{"player_id": st.PlayerID, "scope": st.Scope, "version": st.Version}).
			ToSql()
	}
	if err != nil {
		return gacha.PityState{}, err
	}
	res, err := s.conn(ctx).ExecContext(ctx, q, args...)
	if err != nil {
		return gacha.PityState{}, fmt.Errorf("save pity state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return gacha.PityState{}, fmt.Errorf("save pity state: %w", err)
	}
	if n == 0 {
		return gacha.PityState{}, storage.ErrConflict
	}
	st.Version++
	return st, nil
}

func (s *Store) Reset(ctx context.Context, playerID, scope string) error {
	q, args, err := s.qb.Delete(pityTable).Where(sq.Eq{"player_id": playerID, "scope": scope}).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.conn(ctx).ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("reset pity state: %w", err)
	}
	return nil
}

func (s *Store) AppendBatch(ctx context.Context, recs []storage.PullRecord) error {
	if len(recs) == 0 {
		return nil
	}
	ins := s.qb.Insert(historyTable).Columns(
		"id", "player_id", "banner_id", "scope", "item_id", "item_name", "rarity",
		"is_featured", "pity_at_draw", "is_guaranteed", "roll", "pulled_at",
	)
	for _, r := range recs {
		ins = ins.Values(
			r.ID, r.PlayerID, r.BannerID, r.Scope, r.ItemID, r.ItemName, int(r.Rarity),
			boolInt(r.IsFeatured), r.PityCountAtDraw, boolInt(r.IsGuaranteed), r.Roll, toMillis(r.PulledAt),
		)
	}
	q, args, err := ins.ToSql()
	if err != nil {
		return err
	}
	if _, err := s.conn(ctx).ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("append pull history: %w", err)
	}
	return nil
}

func (s *Store) ListByPlayer(ctx context.Context, playerID, bannerID string, limit int) ([]storage.PullRecord, error) {
	where := sq.Eq{"player_id": playerID}
	if bannerID != "" {
		where["banner_id"] = bannerID
	}
	sel := s.qb.Select(
		"id", "player_id", "banner_id", "scope", "item_id", "item_name", "rarity",
		"is_featured", "pity_at_draw", "is_guaranteed", "roll", "pulled_at",
	).From(historyTable).Where(where).OrderBy("pulled_at DESC", "rowid DESC")
	if limit > 0 {
		sel = sel.Limit(uint64(limit))
	}
	q, args, err := sel.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.conn(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list pull history: %w", err)
	}
	defer rows.Close()
	var out []storage.PullRecord
	for rows.Next() {
		var (
			r                     storage.PullRecord
			rarity, feat, guarant int
			pulled                int64
		)
		if err := rows.Scan(&r.ID, &r.PlayerID, &r.BannerID, &r.Scope, &r.ItemID, &r.ItemName, &rarity,
			&feat, &r.PityCountAtDraw, &guarant, &r.Roll, &pulled); err != nil {
			return nil, fmt.Errorf("scan pull history: %w", err)
		}
		r.Rarity = gacha.Rarity(rarity)
		r.IsFeatured = feat != 0
		r.IsGuaranteed = guarant != 0
		r.PulledAt = fromMillis(pulled)
		out = append(out, r)
	}
	return out, rows.Err()
}
