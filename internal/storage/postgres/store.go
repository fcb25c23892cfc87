// Package postgres implements the storage interfaces on pgx and squirrel.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xtding233/gacha-pity/internal/gacha"
	"github.com/xtding233/gacha-pity/internal/storage"
)

//go:embed schema.sql
var schema string

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

var historyColumns = []string{
	"id", "player_id", "banner_id", "scope", "item_id", "item_name", "rarity",
	"is_featured", "pity_at_draw", "is_guaranteed", "roll", "pulled_at",
}

type Store struct {
	pool   *pgxpool.Pool
	txm    *manager.Manager
	getter *trmpgx.CtxGetter
	qb     sq.StatementBuilderType
}

var _ storage.Store = (*Store)(nil)

// Open connects to dsn and makes sure the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s, err := New(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The caller owns migrations.
func New(pool *pgxpool.Pool) (*Store, error) {
	txm, err := manager.New(trmpgx.NewDefaultFactory(pool))
	if err != nil {
		return nil, fmt.Errorf("create tx manager: %w", err)
	}
	return &Store{
		pool:   pool,
		txm:    txm,
		getter: trmpgx.DefaultCtxGetter,
		qb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.txm.Do(ctx, fn)
}

func (s *Store) conn(ctx context.Context) trmpgx.Tr {
	return s.getter.DefaultTrOrDB(ctx, s.pool)
}

func (s *Store) GetBanner(ctx context.Context, id string) (*gacha.Banner, error) {
	q, args, err := s.qb.Select("payload").From(bannersTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	var payload []byte
	if err := s.conn(ctx).QueryRow(ctx, q, args...).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get banner: %w", err)
	}
	var b gacha.Banner
	if err := json.Unmarshal(payload, &b); err != nil {
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
		Values(b.ID, payload, time.Now().UTC()).
		Suffix("ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.conn(ctx).Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("put banner: %w", err)
	}
	return nil
}

func (s *Store) findItems(ctx context.Context, where sq.Sqlizer) ([]gacha.Item, error) {
	q, args, err := s.qb.Select("id", "name", "rarity").From(itemsTable).Where(where).OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find items: %w", err)
	}
	defer rows.Close()
	var out []gacha.Item
	for rows.Next() {
		var it gacha.Item
		var r int16
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
	return s.findItems(ctx, sq.Eq{"id": ids, "rarity": int16(rarity)})
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
		ins = ins.Values(it.ID, it.Name, int16(it.Rarity))
	}
	q, args, err := ins.Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, rarity = EXCLUDED.rarity").ToSql()
	if err != nil {
		return err
	}
	if _, err := s.conn(ctx).Exec(ctx, q, args...); err != nil {
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
		st   gacha.PityState
		last *time.Time
	)
	err = s.conn(ctx).QueryRow(ctx, q, args...).Scan(
		&st.PlayerID, &st.Scope, &st.PityCounter, &st.GuaranteedFeatured, &st.TotalPulls,
		&st.LegendaryCount, &st.FeaturedCount, &last, &st.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return gacha.NewPityState(playerID, scope), nil
	}
	if err != nil {
		return gacha.PityState{}, fmt.Errorf("get pity state: %w", err)
	}
	if last != nil {
		st.LastPullAt = last.UTC()
	}
	return st, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Store) Save(ctx context.Context, st gacha.PityState) (gacha.PityState, error) {
	var (
		q    string
		args []any
		err  error
	)
	if st.Version == 0 {
		q, args, err = s.qb.Insert(pityTable).Columns(pityColumns...).Values(
			st.PlayerID, st.Scope, st.PityCounter, st.GuaranteedFeatured, st.TotalPulls,
			st.LegendaryCount, st.FeaturedCount, nullTime(st.LastPullAt), 1,
		).Suffix("ON CONFLICT (player_id, scope) DO NOTHING").ToSql()
	} else {
		q, args, err = s.qb.Update(pityTable).
			Set("pity_counter", st.PityCounter).
			Set("guaranteed_featured", st.GuaranteedFeatured).
			Set("total_pulls", st.TotalPulls).
			Set("legendary_count", st.LegendaryCount).
			Set("featured_count", st.FeaturedCount).
			Set("last_pull_at", nullTime(st.LastPullAt)).
			Set("version", sq.Expr("version + 1")).
			Where(sq.Eq{"player_id": st.PlayerID, "scope": st.Scope, "version": st.Version}).
			ToSql()
	}
	if err != nil {
		return gacha.PityState{}, err
	}
	tag, err := s.conn(ctx).Exec(ctx, q, args...)
	if err != nil {
		return gacha.PityState{}, fmt.Errorf("save pity state: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	if _, err := s.conn(ctx).Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("reset pity state: %w", err)
	}
	return nil
}

func (s *Store) AppendBatch(ctx context.Context, recs []storage.PullRecord) error {
	if len(recs) == 0 {
		return nil
	}
	ins := s.qb.Insert(historyTable).Columns(historyColumns...)
	for _, r := range recs {
		ins = ins.Values(
			r.ID, r.PlayerID, r.BannerID, r.Scope, r.ItemID, r.ItemName, int16(r.Rarity),
			r.IsFeatured, r.PityCountAtDraw, r.IsGuaranteed, r.Roll, r.PulledAt.UTC(),
		)
	}
	q, args, err := ins.ToSql()
	if err != nil {
		return err
	}
	if _, err := s.conn(ctx).Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("append pull history: %w", err)
	}
	return nil
}

func (s *Store) ListByPlayer(ctx context.Context, playerID, bannerID string, limit int) ([]storage.PullRecord, error) {
	where := sq.Eq{"player_id": playerID}
	if bannerID != "" {
		where["banner_id"] = bannerID
	}
	sel := s.qb.Select(historyColumns...).From(historyTable).Where(where).OrderBy("pulled_at DESC", "seq DESC")
	if limit > 0 {
		sel = sel.Limit(uint64(limit))
	}
	q, args, err := sel.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list pull history: %w", err)
	}
	defer rows.Close()
	var out []storage.PullRecord
	for rows.Next() {
		var (
			r      storage.PullRecord
			rarity int16
		)
		if err := rows.Scan(&r.ID, &r.PlayerID, &r.BannerID, &r.Scope, &r.ItemID, &r.ItemName, &rarity,
			&r.IsFeatured, &r.PityCountAtDraw, &r.IsGuaranteed, &r.Roll, &r.PulledAt); err != nil {
			return nil, fmt.Errorf("scan pull history: %w", err)
		}
		r.Rarity = gacha.Rarity(rarity)
		r.PulledAt = r.PulledAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
