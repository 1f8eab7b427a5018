package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	cache "github.com/krisalay/offline-cache"
	"github.com/krisalay/offline-cache/accessor"
	"github.com/krisalay/offline-cache/catalog"
	"github.com/krisalay/offline-cache/coordinator"
	"github.com/krisalay/offline-cache/durable"
	"github.com/krisalay/offline-cache/engine"
	"github.com/krisalay/offline-cache/offline"
	"github.com/krisalay/offline-cache/policy"
	"github.com/krisalay/offline-cache/refresh"
	"github.com/krisalay/offline-cache/store"
	"github.com/krisalay/offline-cache/store/badgerstore"
	"github.com/krisalay/offline-cache/store/memstore"
	"github.com/krisalay/offline-cache/store/sqlitestore"
	"github.com/krisalay/offline-cache/types"
)

// ================= STORAGE =================

// backend opens the namespaces of one database and closes it at shutdown.
type backend struct {
	namespace func(ns string) store.Store
	close     func() error
}

func openBackend(ctx context.Context, kind, path string) (*backend, error) {
	switch kind {
	case "mem":
		stores := map[string]*memstore.Store{}
		return &backend{
			namespace: func(ns string) store.Store {
				if _, ok := stores[ns]; !ok {
					stores[ns] = memstore.New()
				}
				return stores[ns]
			},
			close: func() error { return nil },
		}, nil

	case "sqlite":
		db, err := sqlitestore.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		return &backend{namespace: db.Namespace, close: db.Close}, nil

	case "badger":
		db, err := badgerstore.Open(path)
		if err != nil {
			return nil, err
		}
		return &backend{namespace: db.Namespace, close: db.Close}, nil
	}
	return nil, fmt.Errorf("unknown backend %q (want mem, sqlite or badger)", kind)
}

// ================= MAIN =================

func main() {
	var (
		policyPath = flag.String("policy", "", "YAML cache policy table, reloaded on change")
		dbPath     = flag.String("db", filepath.Join(os.TempDir(), "offline-cache-demo"), "database path (a directory for badger)")
		backendArg = flag.String("backend", "sqlite", "durable backend: sqlite, badger or mem")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	if err := run(log, *policyPath, *backendArg, *dbPath); err != nil {
		log.Fatal().Err(err).Msg("demo failed")
	}
}

func run(log zerolog.Logger, policyPath, backendKind, dbPath string) error {
	ctx := context.Background()

	fmt.Println("\n==================== SYSTEM BOOT ====================")

	// ---------------- Policy Table ----------------
	table := policy.NewTable(policy.Dynamic, map[string]policy.Policy{
		"categories": policy.Static,
		"products":   policy.SemiStatic,
		"dashboard/": policy.Realtime,
		"durable/":   policy.LongLived,
	})
	if policyPath != "" {
		w, err := policy.Watch(policyPath, log)
		if err != nil {
			return err
		}
		defer w.Close()
		table = w.Table()
		fmt.Println("POLICY TABLE    :", policyPath, "(hot reload)")
	} else {
		fmt.Println("POLICY TABLE    : built-in")
	}

	// ---------------- Durable Backend ----------------
	if backendKind == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return err
		}
		dbPath += ".db"
	}
	be, err := openBackend(ctx, backendKind, dbPath)
	if err != nil {
		return err
	}
	defer be.close()
	fmt.Println("BACKEND         :", backendKind, dbPath)

	// ---------------- Caches ----------------
	metrics := &types.Counters{}
	memory := cache.NewBoundedCache[[]string](
		cache.WithCapacity(2),
		cache.WithEngineOptions(engine.WithMetrics(metrics), engine.WithLogger(log)),
	)
	defer memory.Close()

	long := durable.Open[[]string](ctx, be.namespace("durable"),
		durable.WithWriteBack(64),
		durable.WithEngineOptions(engine.WithLogger(log)),
	)
	defer long.Close()
	long.StartCleanup(time.Hour)

	coord := coordinator.New[[]string]()
	tiers := accessor.Tiers[[]string]{Table: table, Memory: memory, Durable: long, Coord: coord}

	// ====================================================
	fmt.Println("\n==================== 1) SHARED FETCH ====================")

	var calls int
	var callsMu sync.Mutex
	fetchProducts := func(ctx context.Context) ([]string, error) {
		callsMu.Lock()
		calls++
		callsMu.Unlock()
		select {
		case <-time.After(100 * time.Millisecond):
			return []string{"drill", "saw"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	wg := sync.WaitGroup{}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			a := tiers.For("products?category=1", "products", fetchProducts, accessor.WithLogger(log))
			defer a.Close()
			v, _, err := a.Fetch(ctx, false)
			fmt.Printf("ACCESSOR-%d → %v (err=%v)\n", id, v, err)
		}(i)
	}
	wg.Wait()
	fmt.Println("FETCHER CALLS   :", calls)

	// ====================================================
	fmt.Println("\n==================== 2) TTL EXPIRATION ====================")

	memory.Set(ctx, "x", []string{"a:1"}, time.Second)
	fmt.Println("CACHE  → SET x (TTL = 1s)")
	time.Sleep(1500 * time.Millisecond)
	_, ok := memory.Get(ctx, "x")
	fmt.Println("CACHE  → GET x after 1.5s, found =", ok)

	x := accessor.New("x", memory, coord, fetchProducts, accessor.WithLogger(log))
	before := calls
	x.Fetch(ctx, false)
	x.Close()
	fmt.Println("FETCH  → new underlying calls =", calls-before)

	// ====================================================
	fmt.Println("\n==================== 3) LRU EVICTION ====================")

	memory.Clear(ctx)
	memory.Set(ctx, "A", []string{"a"}, 0)
	memory.Set(ctx, "B", []string{"b"}, 0)
	memory.Get(ctx, "B")
	memory.Set(ctx, "C", []string{"c"}, 0)
	fmt.Printf("CACHE  → A=%v B=%v C=%v\n", memory.Has(ctx, "A"), memory.Has(ctx, "B"), memory.Has(ctx, "C"))

	// ====================================================
	fmt.Println("\n==================== 4) TEARDOWN MID-FLIGHT ====================")

	memory.Set(ctx, "y", []string{"cached"}, 0)
	slow := func(ctx context.Context) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	y := accessor.New("y", memory, coord, slow, accessor.WithLogger(log))
	go func() {
		time.Sleep(50 * time.Millisecond)
		y.Close()
	}()
	v, ok, err := y.Fetch(ctx, true)
	cached, _ := memory.Get(ctx, "y")
	fmt.Printf("ACCESSOR → %v ok=%v err=%v state.err=%v cache=%v\n", v, ok, err, y.State().Err, cached)

	// ====================================================
	fmt.Println("\n==================== 5) OFFLINE CREATE ====================")

	outbox, err := offline.OpenOutbox(ctx, be.namespace("outbox"))
	if err != nil {
		return err
	}
	conn := offline.NewSwitch(false)
	products := catalog.NewRepository(catalog.NewMemRemote(), be.namespace("products"), outbox,
		offline.WithConnectivity(conn), offline.WithLogger(log))

	p, err := products.CreateProduct(ctx, &catalog.Product{Name: "X"})
	if err != nil {
		return err
	}
	fmt.Println("REPOSITORY → created id =", p.ID)
	ops, err := outbox.ForEntity(ctx, p.ID)
	if err != nil {
		return err
	}
	for _, op := range ops {
		fmt.Printf("OUTBOX     → #%d %s %s\n", op.Seq, op.Type, op.LocalID)
	}
	pending, err := outbox.Len(ctx)
	if err != nil {
		return err
	}
	fmt.Println("OUTBOX     → pending total =", pending)

	// ====================================================
	fmt.Println("\n==================== 6) DURABLE TIER ====================")

	focus := refresh.NewFocus()
	brands := tiers.For("durable/brands", "durable/brands", func(context.Context) ([]string, error) {
		return []string{"acme", "globex"}, nil
	}, accessor.WithLogger(log), accessor.WithFocus(focus), accessor.WithMetrics(metrics))
	v, _, err = brands.Fetch(ctx, false)
	focus.Notify()
	brands.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	long.Flush()
	fmt.Printf("DURABLE → %v (ttl %s, degraded=%v)\n", v, brands.Policy().TTL, long.Degraded())

	// ====================================================
	s := metrics.Snapshot()
	fmt.Println("\n==================== METRICS ====================")
	fmt.Printf("HITS      : %d\n", s.Hits)
	fmt.Printf("MISSES    : %d\n", s.Misses)
	fmt.Printf("EVICTIONS : %d\n", s.Evictions)
	fmt.Printf("EXPIRED   : %d\n", s.Expired)
	fmt.Printf("REFRESHES : %d\n", s.Refreshes)

	// ====================================================
	fmt.Println("\n==================== SHUTDOWN ====================")
	return nil
}
