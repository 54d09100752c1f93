package conf

import (
	"time"

	"github.com/sluiceproxy/sluice/server/middleware"
)

type Bootstrap struct {
	Strict   bool      `json:"strict" yaml:"strict"`
	Hostname string    `json:"hostname" yaml:"hostname"`
	PidFile  string    `json:"pidfile" yaml:"pidfile"`
	Logger   *Logger   `json:"logger" yaml:"logger"`
	Server   *Server   `json:"server" yaml:"server"`
	Upstream *Upstream `json:"upstream" yaml:"upstream"`
	Cache    *Cache    `json:"cache" yaml:"cache"`
	Metrics  *Metrics  `json:"metrics_endpoint" yaml:"metrics_endpoint"`
}

type Logger struct {
	Level      string `json:"level" yaml:"level"`
	Path       string `json:"path" yaml:"path"`
	Caller     bool   `json:"caller" yaml:"caller"`
	TraceID    bool   `json:"traceid" yaml:"traceid"`
	MaxSize    int    `json:"max_size" yaml:"max_size"`
	MaxAge     int    `json:"max_age" yaml:"max_age"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	Compress   bool   `json:"compress" yaml:"compress"`
	NoPid      bool   `json:"nopid" yaml:"nopid"`
}

type Server struct {
	Addr               string               `json:"addr" yaml:"addr"`
	ReadTimeout        time.Duration        `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout       time.Duration        `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout        time.Duration        `json:"idle_timeout" yaml:"idle_timeout"`
	ReadHeaderTimeout  time.Duration        `json:"read_header_timeout" yaml:"read_header_timeout"`
	MaxHeaderBytes     int                  `json:"max_header_bytes" yaml:"max_header_bytes"`
	Middleware         []*middleware.Config `json:"middleware" yaml:"middleware"`
	PProf              *ServerPProf         `json:"pprof" yaml:"pprof"`
	AccessLog          *ServerAccessLog     `json:"access_log" yaml:"access_log"`
	LocalApiAllowHosts []string             `json:"local_api_allow_hosts" yaml:"local_api_allow_hosts"`

	// SliceSize, MaxConcurrentSubrequests, MaxRetries, SlicePatterns
	// select and bound the slice-engine path (§3 C5-C8); requests
	// whose URL path matches none of a non-empty SlicePatterns take
	// the streaming controller path instead, and an empty list admits
	// every request to slicing. Non-GET requests and requests carrying
	// a Range header always take the streaming path.
	SliceSize                uint64   `json:"slice_size" yaml:"slice_size"`
	MaxConcurrentSubrequests int      `json:"max_concurrent_subrequests" yaml:"max_concurrent_subrequests"`
	MaxRetries               int      `json:"max_retries" yaml:"max_retries"`
	SlicePatterns            []string `json:"slice_patterns" yaml:"slice_patterns"`
}

type ServerPProf struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

type ServerAccessLog struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
	Encrypt struct {
		Enabled bool   `json:"enabled" yaml:"enabled"`
		Secret  string `json:"secret" yaml:"secret"`
	} `json:"encrypt" yaml:"encrypt"`
}

// Upstream configures the single origin this proxy fronts (spec §6:
// upstream_address). There is no multi-node load balancer here — see
// DESIGN.md for why github.com/omalloc/proxy's selector was dropped.
type Upstream struct {
	Address             string `json:"upstream_address" yaml:"upstream_address"`
	MaxIdleConns        int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int    `json:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host"`
	MaxConnsPerServer   int    `json:"max_conns_per_server" yaml:"max_conns_per_server"`
	InsecureSkipVerify  bool   `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	DialTimeout         time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ResponseHeaderTimeout time.Duration `json:"response_header_timeout" yaml:"response_header_timeout"`
}

// Cache configures the tiered cache (L1 in-process LRU over a
// pluggable L2 persistent backend; spec §3, §6).
type Cache struct {
	Enabled      bool          `json:"enable_cache" yaml:"enable_cache"`
	TTL          time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	L1SizeBytes  uint64        `json:"l1_cache_size_bytes" yaml:"l1_cache_size_bytes"`
	EnableL2     bool          `json:"enable_l2_cache" yaml:"enable_l2_cache"`
	L2Backend    string        `json:"l2_backend" yaml:"l2_backend"` // "file" or "raw_disk"
	L2CacheDir   string        `json:"l2_cache_dir" yaml:"l2_cache_dir"`
	RawDiskCache *RawDiskCache `json:"raw_disk_cache" yaml:"raw_disk_cache"`

	// IndexDir roots the sharedkv side index backing purge-by-URL and
	// purge-by-prefix. Empty keeps the index in memory only, which is
	// fine for a single-process deployment but loses the index across
	// a graceful tableflip restart.
	IndexDir string `json:"index_dir" yaml:"index_dir"`
}

// RawDiskCache configures the C2 raw-disk block store.
type RawDiskCache struct {
	DevicePath  string `json:"device_path" yaml:"device_path"`
	TotalSize   uint64 `json:"total_size" yaml:"total_size"`
	BlockSize   uint32 `json:"block_size" yaml:"block_size"`
	UseDirectIO bool   `json:"use_direct_io" yaml:"use_direct_io"`
}

// Metrics holds the metrics_endpoint settings. The proxy always
// maintains the counter set in metrics/registry.go. The server does not
// read these fields: /metrics is always served on the local-host mux,
// whatever Enabled and Address say.
type Metrics struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
}

