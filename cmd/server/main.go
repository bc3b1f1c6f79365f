package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	persistlog "voxelforge.ai/internal/persistence/log"
	"voxelforge.ai/internal/persistence/snapshot"
	"voxelforge.ai/internal/sim/catalogs"
	"voxelforge.ai/internal/sim/items"
	"voxelforge.ai/internal/sim/recipes"
	"voxelforge.ai/internal/sim/recipes/loader"
	"voxelforge.ai/internal/sim/recipes/watch"
	"voxelforge.ai/internal/sim/tuning"
	"voxelforge.ai/internal/sim/world"
	"voxelforge.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		worldID    = flag.String("world", "", "world id (default: tuning world_id)")
		dataDir    = flag.String("data", "", "runtime data directory (default: tuning data_dir)")
		defsDir    = flag.String("recipes", "", "recipe definitions directory (default: tuning definitions_dir)")
		bundlePath = flag.String("bundle", "", "compiled recipe bundle to load instead of definitions")
		noWatch    = flag.Bool("no_watch", false, "do not reload definitions on change")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if *worldID != "" {
		tune.WorldID = *worldID
	}
	if *dataDir != "" {
		tune.DataDir = *dataDir
	}
	if *defsDir != "" {
		tune.DefinitionsDir = *defsDir
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	worldDir := filepath.Join(tune.DataDir, "worlds", tune.WorldID)
	_ = os.MkdirAll(worldDir, 0o755)

	reg := recipes.NewRegistry()
	opts := loader.Options{Orientations: tune.Orientations}
	reload := watch.ReloadRegistry(tune.DefinitionsDir, cats.Blocks, opts, reg, logger)
	if bp := strings.TrimSpace(*bundlePath); bp != "" {
		set, err := loader.ReadBundle(bp, cats.Blocks)
		if err != nil {
			logger.Fatalf("read bundle: %v", err)
		}
		reg.Install(set)
		logger.Printf("recipes: bundle %s with %d structures (digest %.12s)", filepath.Base(bp), set.Len(), set.Digest())
	} else if err := reload(); err != nil {
		logger.Fatalf("load recipes: %v", err)
	}

	idx, err := openRuntimeIndex(worldDir, tune.Index && !*disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
		if err := idx.UpsertRecipes(reg.Current()); err != nil {
			logger.Printf("index backend: upsert recipes: %v", err)
		}
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	wopts := []world.Option{
		world.WithLogger(log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds)),
		world.WithMetrics(world.NewMetrics(promReg)),
	}
	if tune.AuditLog {
		assemblies := persistlog.NewAssemblyLogger(worldDir)
		defer assemblies.Close()
		wopts = append(wopts, world.WithRecorder(assemblies))
	}
	if idx != nil {
		wopts = append(wopts, world.WithRecorder(idx))
	}
	w := world.New(world.Config{
		ID:           tune.WorldID,
		Consume:      tune.ConsumeOnAssemble,
		StarterItems: starterItems(tune.StarterItems),
	}, cats, reg, wopts...)

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(worldDir)
	}
	if snapshotToLoad != "" {
		if err := w.LoadSnapshot(snapshotToLoad); err != nil {
			logger.Fatalf("load snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s rev=%d", filepath.Base(snapshotToLoad), w.Rev())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if !*noWatch && *bundlePath == "" {
		onChange := reload
		if idx != nil {
			onChange = func() error {
				if err := reload(); err != nil {
					return err
				}
				return idx.UpsertRecipes(reg.Current())
			}
		}
		watcher, err := watch.New(tune.DefinitionsDir, tune.WatchDebounce(), onChange, logger)
		if err != nil {
			logger.Fatalf("watch recipes: %v", err)
		}
		g.Go(func() error { return watcher.Run(ctx) })
	}

	g.Go(func() error {
		runSnapshots(ctx, w, worldDir, tune.SnapshotEvery(), idx, logger)
		return nil
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{Registry: promReg}))
	mux.HandleFunc("/v1/ws", ws.NewServer(w, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds),
		ws.WithTuningDigest(tune.Digest()),
		ws.WithLimits(ws.Limits{
			Window:      tune.RateWindow(),
			ProbeMax:    tune.RateLimits.ProbeMax,
			AssembleMax: tune.RateLimits.AssembleMax,
			SetCellMax:  tune.RateLimits.SetCellMax,
		}),
	).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	g.Go(func() error {
		logger.Printf("listening on %s (world=%s recipes=%d)", *addr, w.ID(), reg.Current().Len())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ListenAndServe: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Printf("stopped: %v", err)
	}
	if path, err := writeSnapshot(w, worldDir); err != nil {
		logger.Printf("final snapshot: %v", err)
	} else if idx != nil {
		idx.RecordSnapshot(path, w.Snapshot())
	}
}

// runSnapshots writes a snapshot every interval while the world changes.
func runSnapshots(ctx context.Context, w *world.World, worldDir string, every time.Duration, idx runtimeIndex, logger *log.Logger) {
	if every <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	last := w.Rev()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if w.Rev() == last {
				continue
			}
			snap := w.Snapshot()
			path := snapshotPath(worldDir, snap.Header.Rev)
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				logger.Printf("snapshot write: %v", err)
				continue
			}
			last = snap.Header.Rev
			if idx != nil {
				idx.RecordSnapshot(path, snap)
			}
		}
	}
}

func writeSnapshot(w *world.World, worldDir string) (string, error) {
	snap := w.Snapshot()
	path := snapshotPath(worldDir, snap.Header.Rev)
	return path, snapshot.WriteSnapshot(path, snap)
}

func snapshotPath(worldDir string, rev uint64) string {
	return filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", rev))
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestRev uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		rev, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || rev > bestRev {
			bestRev = rev
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func starterItems(m map[string]int) []items.Stack {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]items.Stack, 0, len(ids))
	for _, id := range ids {
		out = append(out, items.Stack{Item: id, Count: m[id]})
	}
	return out
}
