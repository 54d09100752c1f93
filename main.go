package main

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/cloudflare/tableflip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sluiceproxy/sluice/cache"
	"github.com/sluiceproxy/sluice/cache/blockstore"
	"github.com/sluiceproxy/sluice/cache/filestore"
	"github.com/sluiceproxy/sluice/cache/sharedkv"
	"github.com/sluiceproxy/sluice/cache/tiered"
	"github.com/sluiceproxy/sluice/conf"
	"github.com/sluiceproxy/sluice/contrib/app"
	"github.com/sluiceproxy/sluice/contrib/config"
	"github.com/sluiceproxy/sluice/contrib/config/provider/file"
	"github.com/sluiceproxy/sluice/contrib/log"
	"github.com/sluiceproxy/sluice/contrib/transport"
	"github.com/sluiceproxy/sluice/metrics"
	"github.com/sluiceproxy/sluice/pkg/encoding"
	"github.com/sluiceproxy/sluice/server"
	"github.com/sluiceproxy/sluice/upstream"
)

var (
	id, _ = os.Hostname()

	// flagConf is the config flag.
	flagConf string = "config.yaml"
	// flagVerbose is the verbose flag.
	flagVerbose bool

	// Version is the version of the app.
	Version string = "no-set"
	GitHash string = "no-set"
	Built   string = "0"
)

func init() {
	// init flag
	flag.StringVar(&flagConf, "c", "config.yaml", "config file path")
	flag.BoolVar(&flagVerbose, "v", false, "enable verbose log")

	// init global encoding
	if codec, ok := encoding.Get("json"); ok {
		encoding.SetDefaultCodec(codec)
	}

	// init logger
	log.SetLogger(log.With(log.DefaultLogger, "ts", log.Timestamp(time.RFC3339), "pid", os.Getpid()))

	// init prometheus
	prometheus.Unregister(collectors.NewGoCollector())
	registerer := prometheus.WrapRegistererWithPrefix("sluice_", prometheus.DefaultRegisterer)
	registerer.MustRegister(collectors.NewGoCollector(collectors.WithGoCollectorMemStatsMetricsDisabled()))
}

func main() {
	flag.Parse()

	c := config.New[conf.Bootstrap](config.WithSource(file.NewSource(flagConf)))
	defer c.Close()

	bc := &conf.Bootstrap{}
	if err := c.Scan(bc); err != nil {
		log.Fatal(err)
	}

	a, err := newApp(bc)
	if err != nil {
		log.Fatal(err)
	}

	if err := a.Run(); err != nil {
		log.Fatal(err)
	}
}

func newApp(bc *conf.Bootstrap) (*app.App, error) {
	stopTimeout := 120 * time.Second

	// graceful upgrade
	flip, err := tableflip.New(tableflip.Options{
		PIDFile:        bc.PidFile,
		UpgradeTimeout: stopTimeout,
	})
	if err != nil {
		return nil, err
	}

	// graceful upgrade if we have no parent process: remove unix socket file.
	if !flip.HasParent() {
		if strings.HasSuffix(bc.Server.Addr, ".sock") {
			_ = os.Remove(bc.Server.Addr)
		}
	}

	reg := metrics.New(prometheus.DefaultRegisterer)

	l2, err := newL2Backend(bc.Cache, reg)
	if err != nil {
		log.Fatalf("failed to initialize l2 cache backend: %v", err)
	}

	idx, err := sharedkv.Open(bc.Cache.IndexDir)
	if err != nil {
		log.Fatalf("failed to open sharedkv index: %v", err)
	}

	tieredCache := tiered.New(bc.Cache.L1SizeBytes, l2, bc.Cache.TTL, idx)
	go reportCacheStats(tieredCache, reg)

	log.Infof("upstream address: %s", bc.Upstream.Address)
	client := upstream.New(bc.Upstream)

	servers := []transport.Server{
		server.NewServer(flip, bc, client, tieredCache, reg),
	}

	return app.New(
		app.ID(id),
		app.Name("sluice"),
		app.Version(Version),
		app.StopTimeout(stopTimeout),
		app.Servers(servers...),
	), nil
}

// newL2Backend builds the configured persistent cache tier: a
// file-per-entry directory store, or the raw-disk block allocator
// (spec §9 dynamic dispatch over cache.L2Backend). With enable_l2_cache
// false it returns a nil backend, which tiered.New runs as L1-only
// mode. reg is only consulted for the raw_disk backend, which is the
// only one with spec §4.10 disk_* counters to report.
func newL2Backend(cfg *conf.Cache, reg *metrics.Registry) (cache.L2Backend, error) {
	if !cfg.EnableL2 {
		return nil, nil
	}

	switch cfg.L2Backend {
	case "raw_disk":
		rd := cfg.RawDiskCache
		return blockstore.Open(blockstore.Options{
			Path:        rd.DevicePath,
			Capacity:    rd.TotalSize,
			BlockSize:   rd.BlockSize,
			TTL:         cfg.TTL,
			UseDirectIO: rd.UseDirectIO,
			GCInterval:  time.Minute,
			Metrics:     reg,
		})
	default:
		return filestore.New(cfg.L2CacheDir)
	}
}

// reportCacheStats periodically mirrors tiered.Cache.Stats() into the
// shared registry (spec §4.10), the same ticker-driven pattern the
// disk bucket's load-rate logging uses.
func reportCacheStats(c *tiered.Cache, reg *metrics.Registry) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		st := c.Stats()
		reg.SetCacheLayerStats(st.L1Hits, st.L2Hits, st.L1Entries, st.L1Bytes)
	}
}
