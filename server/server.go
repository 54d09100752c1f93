package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/cloudflare/tableflip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sluiceproxy/sluice/cache/tiered"
	"github.com/sluiceproxy/sluice/conf"
	"github.com/sluiceproxy/sluice/contrib/log"
	"github.com/sluiceproxy/sluice/contrib/transport"
	"github.com/sluiceproxy/sluice/metrics"
	xhttp "github.com/sluiceproxy/sluice/pkg/x/http"
	"github.com/sluiceproxy/sluice/pkg/x/runtime"
	"github.com/sluiceproxy/sluice/purge"
	"github.com/sluiceproxy/sluice/server/middleware"
	_ "github.com/sluiceproxy/sluice/server/middleware/recovery"
	"github.com/sluiceproxy/sluice/server/mod"
	"github.com/sluiceproxy/sluice/slice"
	"github.com/sluiceproxy/sluice/streaming"
	"github.com/sluiceproxy/sluice/upstream"
)

// localHosts gates the internal mux (pprof/metrics/healthz/version):
// only requests addressed to one of these hosts reach it, everything
// else is proxy traffic.
var localHosts = map[string]struct{}{
	"localhost": {},
	"127.1":     {},
	"127.0.0.1": {},
}

// HTTPServer is the proxy's single public listener. Requests addressed
// to a local host are served by the internal mux (pprof, metrics,
// healthz, version); everything else is dispatched to the slice
// controller (when admitted) or the streaming controller (spec §2).
type HTTPServer struct {
	*http.Server

	flip         *tableflip.Upgrader
	config       *conf.Bootstrap
	serverConfig *conf.Server
	listener     net.Listener
	cleanups     []func()

	sliceCtrl    *slice.Controller
	streamCtrl   *streaming.Controller
	purgeHandler *purge.Handler
	metrics      *metrics.Registry
}

// NewServer wires a dispatching HTTP server from config, the tuned
// upstream client, the tiered cache, and the metrics registry (already
// registered by the caller against a prometheus.Registerer).
func NewServer(flip *tableflip.Upgrader, config *conf.Bootstrap, client *upstream.Client, cache *tiered.Cache, reg *metrics.Registry) transport.Server {
	servConfig := config.Server

	s := &HTTPServer{
		Server: &http.Server{
			Addr:              servConfig.Addr,
			ReadTimeout:       servConfig.ReadTimeout,
			WriteTimeout:      servConfig.WriteTimeout,
			IdleTimeout:       servConfig.IdleTimeout,
			ReadHeaderTimeout: servConfig.ReadHeaderTimeout,
			MaxHeaderBytes:    servConfig.MaxHeaderBytes,
		},
		flip:         flip,
		config:       config,
		serverConfig: servConfig,
		cleanups:     make([]func(), 0),
		metrics:      reg,
	}

	manager := slice.NewManager(client, servConfig.MaxConcurrentSubrequests, servConfig.MaxRetries)
	s.sliceCtrl = slice.NewController(client, manager, cache, reg, servConfig.SliceSize)
	s.streamCtrl = streaming.NewController(client, cache, reg, config.Cache.Enabled, streaming.DefaultSizeCap)
	s.purgeHandler = purge.NewHandler(cache, purgeToken(config))

	for _, host := range servConfig.LocalApiAllowHosts {
		localHosts[host] = struct{}{}
	}

	mux := s.newServeMux()
	endpoint := s.buildEndpoint()

	s.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := localHosts[hostOnly(r.Host)]; ok {
			mux.ServeHTTP(w, r)
			return
		}
		endpoint(w, r)
	})

	return s
}

// purgeToken reuses the pprof basic-auth password as the PURGE bearer
// token: both gate an operator-only surface and the config doesn't
// otherwise carry a dedicated secret.
func purgeToken(config *conf.Bootstrap) string {
	if config.Server.PProf != nil {
		return config.Server.PProf.Password
	}
	return ""
}

func hostOnly(addr string) string {
	if i := strings.IndexByte(addr, ':'); i >= 0 {
		return addr[:i]
	}
	return addr
}

func (s *HTTPServer) Start(ctx context.Context) error {
	s.BaseContext = func(net.Listener) context.Context { return ctx }

	if err := s.listen(); err != nil {
		return err
	}

	log.Infof("sluice proxy listening on %s", s.serverConfig.Addr)

	if err := s.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	var errs []error

	if err := s.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, cleanup := range s.cleanups {
		if cleanup != nil {
			cleanup()
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (s *HTTPServer) listen() error {
	if s.flip == nil {
		ln, err := net.Listen("tcp", s.Addr)
		if err != nil {
			return err
		}
		s.listener = ln
		return nil
	}

	ln, err := s.flip.Fds.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

func (s *HTTPServer) newServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	if s.serverConfig.PProf != nil {
		mod.HandlePProf(s.serverConfig.PProf, mux)
	}

	mux.Handle("/favicon.ico", http.NotFoundHandler())
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		payload, _ := json.Marshal(runtime.BuildInfo)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/startup-probe", writeOK)
	mux.HandleFunc("/healthz/liveness-probe", writeOK)
	mux.HandleFunc("/healthz/readiness-probe", writeOK)

	return mux
}

func writeOK(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// dispatch is the core proxy router (spec §2): admission (including
// the slice_patterns check) decides slice vs streaming, and the slice
// controller itself falls back to streaming on ErrPassthrough
// (metadata fetch failed or origin doesn't support ranges).
func (s *HTTPServer) dispatch(w http.ResponseWriter, req *http.Request) {
	url := req.URL.String()

	if slice.Admit(req, s.serverConfig.SlicePatterns) {
		if err := s.sliceCtrl.Serve(req.Context(), w, req, url); err != nil {
			if err == slice.ErrPassthrough {
				s.streamCtrl.Serve(w, req)
				return
			}
			log.Errorf("dispatch: unhandled slice controller error for %s: %v", url, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	s.streamCtrl.Serve(w, req)
}

// dispatchRoundTripper adapts the (ResponseWriter, *Request)-shaped
// core dispatch to the RoundTripper shape the middleware chain
// composes over (server/middleware/middleware.go), the same way the
// chain would wrap a real upstream transport. A panic inside dispatch
// unwinds through this call just like it would through RoundTrip, so
// recovery.Middleware still catches it.
type dispatchRoundTripper struct{ s *HTTPServer }

func (d dispatchRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	d.s.dispatch(rec, req)
	return rec.Result(), nil
}

// buildEndpoint composes the middleware chain around dispatch, then
// the PURGE interceptor, then access logging (outermost, so every
// request - including PURGE - gets a log line).
func (s *HTTPServer) buildEndpoint() http.HandlerFunc {
	tripper := s.buildMiddlewareChain(dispatchRoundTripper{s: s})

	core := func(w http.ResponseWriter, req *http.Request) {
		resp, err := tripper.RoundTrip(req)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		xhttp.CopyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		buf := make([]byte, 32*1024)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				_, _ = w.Write(buf[:n])
			}
			if rerr != nil {
				break
			}
		}
	}

	withPurge := s.purgeHandler.Wrap(core)
	return mod.HandleAccessLog(s.serverConfig.AccessLog, withPurge)
}

func (s *HTTPServer) buildMiddlewareChain(tripper http.RoundTripper) http.RoundTripper {
	global := s.globalOptions(make(map[string]any))
	configured := s.serverConfig.Middleware

	for i := len(configured) - 1; i >= 0; i-- {
		cfg := configured[i]
		if cfg.Name == "" {
			log.Warnf("middleware config at index %d has no name, skipping", i)
			continue
		}

		if len(global) > 0 {
			if cfg.Options == nil {
				cfg.Options = make(map[string]any)
			}
			if err := mergo.Map(&cfg.Options, global, mergo.WithOverride); err != nil {
				log.Warnf("failed to merge global options into middleware %s: %v", cfg.Name, err)
			}
		}

		next, cleanup, err := middleware.Create(cfg)
		if err != nil {
			log.Warnf("failed to create middleware %s: %v", cfg.Name, err)
			continue
		}
		s.cleanups = append(s.cleanups, cleanup)
		tripper = next(tripper)
	}
	return tripper
}

func (s *HTTPServer) globalOptions(dst map[string]any) map[string]any {
	dst["slice_size"] = s.serverConfig.SliceSize
	if s.config.Hostname != "" {
		dst["hostname"] = s.config.Hostname
	}
	return dst
}
