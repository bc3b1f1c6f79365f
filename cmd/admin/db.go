package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// dbCmd queries the sqlite read model: snapshots, recipes or outcomes.
func dbCmd(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("db", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			return fmt.Errorf("missing -world or -db: %w", errUsage)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT rev,world_id,path,chunks,actors,entities FROM snapshots ORDER BY rev DESC LIMIT ?`, *limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Rev      uint64 `json:"rev"`
				WorldID  string `json:"world_id"`
				Path     string `json:"path"`
				Chunks   int    `json:"chunks"`
				Actors   int    `json:"actors"`
				Entities int    `json:"entities"`
			}
			if err := rows.Scan(&r.Rev, &r.WorldID, &r.Path, &r.Chunks, &r.Actors, &r.Entities); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(out, r)
		}
		return rows.Err()

	case "recipes":
		rows, err := db.Query(`SELECT id,kind,set_digest,updated_at FROM recipes ORDER BY id`)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				ID        string `json:"id"`
				Kind      string `json:"kind"`
				SetDigest string `json:"set_digest"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.ID, &r.Kind, &r.SetDigest, &r.UpdatedAt); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(out, r)
		}
		return rows.Err()

	case "outcomes":
		rows, err := db.Query(`SELECT op,recipe_id,code,COUNT(*) FROM assemblies GROUP BY op,recipe_id,code ORDER BY op,recipe_id,code`)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Op       string `json:"op"`
				RecipeID string `json:"recipe_id"`
				Code     string `json:"code"`
				Count    int    `json:"count"`
			}
			if err := rows.Scan(&r.Op, &r.RecipeID, &r.Code, &r.Count); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(out, r)
		}
		return rows.Err()

	case "actor":
		if fs.NArg() < 2 {
			return fmt.Errorf("db actor <actor_id>: %w", errUsage)
		}
		rows, err := db.Query(`SELECT raw_json FROM assemblies WHERE actor=? ORDER BY seq DESC LIMIT ?`, fs.Arg(1), *limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			fmt.Fprintln(out, raw)
		}
		return rows.Err()
	}
	return fmt.Errorf("unknown query %q (snapshots|recipes|outcomes|actor): %w", q, errUsage)
}

func printJSON(out io.Writer, v any) {
	b, _ := json.Marshal(v)
	fmt.Fprintln(out, string(b))
}
