package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelforge.ai/internal/persistence/snapshot"
	"voxelforge.ai/internal/sim/catalogs"
	"voxelforge.ai/internal/sim/recipes"
	"voxelforge.ai/internal/sim/tuning"
	"voxelforge.ai/internal/sim/world"
)

// SQLiteIndex is a queryable read model next to the JSONL audit log.
// Assembly and snapshot rows go through a single writer goroutine.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqAssembly reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	assembly world.AssemblyRecord
	snapshot snapshotRow
}

type snapshotRow struct {
	Rev      uint64
	WorldID  string
	Path     string
	Chunks   int
	Actors   int
	Entities int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS recipes (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			set_digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS assemblies (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			time TEXT NOT NULL,
			world_id TEXT NOT NULL,
			rev INTEGER NOT NULL,
			op TEXT NOT NULL,
			actor TEXT NOT NULL,
			recipe_id TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			code TEXT NOT NULL,
			entity_id TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_assemblies_actor ON assemblies(actor, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_assemblies_recipe ON assemblies(recipe_id, code);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			rev INTEGER PRIMARY KEY,
			world_id TEXT NOT NULL,
			path TEXT NOT NULL,
			chunks INTEGER NOT NULL,
			actors INTEGER NOT NULL,
			entities INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains pending writes and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped counts rows discarded because the writer fell behind.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteIndex) RecordAssembly(rec world.AssemblyRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAssembly, assembly: rec}:
	default:
		// The JSONL log remains the source of truth.
		s.dropped.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Rev:      snap.Header.Rev,
		WorldID:  snap.Header.WorldID,
		Path:     path,
		Chunks:   len(snap.Chunks),
		Actors:   len(snap.Actors),
		Entities: len(snap.Entities),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropped.Add(1)
	}
}

type kv struct {
	name   string
	digest string
	json   []byte
}

// UpsertCatalogs stores the block and item definitions plus the tuning in
// effect, each with its digest.
func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	var rows []kv
	add := func(name, digest string, v any) {
		b, err := json.Marshal(v)
		if err != nil || len(b) == 0 {
			return
		}
		if digest == "" {
			sum := sha256.Sum256(b)
			digest = hex.EncodeToString(sum[:])
		}
		rows = append(rows, kv{name: name, digest: digest, json: b})
	}
	add("blocks_palette", cats.Blocks.PaletteDigest, cats.Blocks.Palette)
	add("blocks_defs", cats.Blocks.DefsDigest, cats.Blocks.Defs)
	add("items_palette", cats.Items.PaletteDigest, cats.Items.Palette)
	add("items_defs", cats.Items.DefsDigest, cats.Items.Defs)
	add("tuning", "", tune)

	now := time.Now().UTC().Format(time.RFC3339Nano)
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertRecipes replaces the recipes table with the contents of set.
func (s *SQLiteIndex) UpsertRecipes(set *recipes.Set) error {
	if s == nil || set == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM recipes`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO recipes(id,kind,set_digest,json,updated_at) VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range set.Recipes() {
		b, err := json.Marshal(r.Document())
		if err != nil {
			return fmt.Errorf("recipe %s: %w", r.ID(), err)
		}
		if _, err := stmt.Exec(r.ID(), "structure", set.Digest(), string(b), now); err != nil {
			return err
		}
	}
	for _, t := range set.Tokens().Recipes() {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("token recipe %s: %w", t.ID, err)
		}
		if _, err := stmt.Exec(t.ID, "token", set.Digest(), string(b), now); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('recipes_digest',?)`, set.Digest()); err != nil {
		return err
	}
	return tx.Commit()
}

// RecipeDocs returns the indexed structure recipes in id order.
func (s *SQLiteIndex) RecipeDocs(ctx context.Context) ([]recipes.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT json FROM recipes WHERE kind='structure' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []recipes.Document
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var d recipes.Document
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// OutcomeCounts tallies indexed assembly attempts for a recipe by code;
// successes are counted under "OK".
func (s *SQLiteIndex) OutcomeCounts(ctx context.Context, recipeID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, COUNT(*) FROM assemblies WHERE recipe_id=? GROUP BY code`, recipeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var code string
		var n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, err
		}
		out[code] = n
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertAssembly, _ := s.db.Prepare(`INSERT INTO assemblies(time,world_id,rev,op,actor,recipe_id,x,y,z,code,entity_id,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(rev,world_id,path,chunks,actors,entities) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertAssembly != nil {
			_ = insertAssembly.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqAssembly:
			a := r.assembly
			raw, _ := json.Marshal(a)
			code := a.Code
			if code == "" {
				code = "OK"
			}
			var entity any
			if a.EntityID != "" {
				entity = a.EntityID
			}
			if insertAssembly != nil {
				if _, err := tx.Stmt(insertAssembly).Exec(
					a.Time, a.WorldID, int64(a.Rev), a.Op, a.Actor, a.RecipeID,
					a.Pos[0], a.Pos[1], a.Pos[2],
					code, entity, string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.Rev), sn.WorldID, sn.Path, sn.Chunks, sn.Actors, sn.Entities,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	commit()
}
