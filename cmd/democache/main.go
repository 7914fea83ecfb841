// Command democache wires together the reference stores, a two-layer
// loader chain, and a terminal data source to exercise every public
// loader operation end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devonwells/cachechain/clock"
	"github.com/devonwells/cachechain/datasource"
	"github.com/devonwells/cachechain/definition"
	"github.com/devonwells/cachechain/factory"
	"github.com/devonwells/cachechain/invalidation"
	"github.com/devonwells/cachechain/loader"
	pmet "github.com/devonwells/cachechain/metrics/prom"
	"github.com/devonwells/cachechain/store"
	"github.com/devonwells/cachechain/store/memstore"
)

// configYAML stands in for the registry file a real deployment would
// ship; the ttl/accel flags below override its values for quick
// experiments.
const configYAML = `
definitions:
  - component: demo
    area: widgets
    ttl: 10s
    uses_static_acceleration: true
    static_acceleration_size: 128
    invalidation_events: ["demo/widgets_updated"]
`

func main() {
	var (
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr (empty = disabled)")
		ttl         = flag.Duration("ttl", 10*time.Second, "top-layer TTL for the demo area")
		accelSize   = flag.Int("accel", 128, "static-acceleration bound (0 = unbounded)")
		requireLock = flag.Bool("lock", true, "require locking before backfill writes")
	)
	flag.Parse()

	metrics := pmet.New(nil, "cachechain", "demo", nil)
	if *metricsAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			log.Printf("metrics: serving at %s", *metricsAddr)
			log.Println(http.ListenAndServe(*metricsAddr, nil))
		}()
	}

	// ---- Backing stores ----
	// top: request-local accelerator sits on this loader; l1 store is a
	// small sharded in-process store (lockable, no native TTL).
	l1Store := memstore.New(memstore.Options{Capacity: 10_000, Metrics: metrics, LockTTL: 5 * time.Second})
	// l2: a larger, longer-lived in-process store standing in for "the
	// shared distributed tier" in this single-process demo (swap in
	// store/redisstore.New(client, "demo:") against a real Redis to see
	// the native-TTL/native-locking code paths exercised instead).
	l2Store := memstore.New(memstore.Options{Capacity: 100_000, Metrics: metrics})

	registry, err := definition.LoadYAML([]byte(configYAML))
	if err != nil {
		log.Fatalf("loading definitions: %v", err)
	}
	def := registry.Get("demo", "widgets")
	def.Ttl = *ttl
	def.StaticAccelerationSize = *accelSize
	if *accelSize == 0 {
		def.StaticAccelerationSize = definition.Unbounded
	}

	// Event-invalidation records live in their own well-known store,
	// shared across every loader subscribed to the same events.
	invRecords := memstore.New(memstore.Options{})
	clk := clock.Default
	engine := invalidation.New(invRecords, l1Store, "lastinvalidation:"+def.Component+"/"+def.Area, clk, def.InvalidationEvents)

	backend := map[string]string{"widget-1": "gizmo", "widget-2": "gadget"}
	ds := datasource.Func[string]{
		Load: func(ctx context.Context, key string) (any, bool, error) {
			log.Printf("datasource: loading %q from backend", key)
			v, ok := backend[key]
			return v, ok, nil
		},
	}

	chain, err := factory.New[string]([]factory.Layer[string]{
		{
			Definition:     def,
			Store:          l1Store,
			RequireLocking: *requireLock,
			Invalidation:   engine,
		},
		{
			Definition: def,
			Store:      l2Store,
		},
	}, ds, factory.Options{
		Clock:   clk,
		Metrics: metrics,
		Owner:   "democache-process",
	})
	if err != nil {
		log.Fatalf("factory.New: %v", err)
	}

	ctx := context.Background()
	run(ctx, chain, invRecords, clk)
}

func run(ctx context.Context, l *loader.Loader[string], invRecords store.Store, clk *clock.Service) {
	v, found, err := l.Get(ctx, "widget-1", loader.IgnoreMissing)
	must(err)
	fmt.Printf("Get(widget-1) = %v, found=%v (first read, backfilled from data source)\n", v, found)

	v, found, err = l.Get(ctx, "widget-1", loader.IgnoreMissing)
	must(err)
	fmt.Printf("Get(widget-1) = %v, found=%v (second read, served from acceleration/store)\n", v, found)

	must(l.Set(ctx, "widget-3", "sprocket"))
	v, found, err = l.Get(ctx, "widget-3", loader.IgnoreMissing)
	must(err)
	fmt.Printf("Get(widget-3) = %v, found=%v (explicit Set, no data-source call)\n", v, found)

	must(invalidation.PublishKey(ctx, invRecords, "demo/widgets_updated", "widget-3", clk.PurgeToken(true)))
	v, found, err = l.Get(ctx, "widget-3", loader.IgnoreMissing)
	must(err)
	fmt.Printf("Get(widget-3) = %v, found=%v (after event-invalidation; should be a miss)\n", v, found)

	_, found, err = l.Get(ctx, "widget-404", loader.IgnoreMissing)
	must(err)
	fmt.Printf("Get(widget-404) found=%v (no such key anywhere in the chain)\n", found)
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
