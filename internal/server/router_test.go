package server_test

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap"

	"github.com/edgecomet/rendeer/internal/common/configtypes"
	"github.com/edgecomet/rendeer/internal/distcache"
	"github.com/edgecomet/rendeer/internal/filter"
	"github.com/edgecomet/rendeer/internal/localcache"
	"github.com/edgecomet/rendeer/internal/pipeline"
	"github.com/edgecomet/rendeer/internal/render/chrome"
	"github.com/edgecomet/rendeer/internal/render/chrome/chrometest"
	"github.com/edgecomet/rendeer/internal/server"
	"github.com/edgecomet/rendeer/pkg/types"
)

const article = `<html><head><title>Article</title>
<script src="/bundle.js"></script>
<script type="application/ld+json">{"@type":"Article"}</script>
<link rel="import" href="/component.html">
</head><body>
<!-- server state -->
<article><h1>Hello</h1><img src="/cover.jpg"></article>
<script>hydrate()</script>
</body></html>`

const unavailable = `<html><head><meta name="prerender-status-code" content="503"></head>
<body>maintenance</body></html>`

var _ = Describe("Router", func() {
	var (
		mr       *miniredis.Miniredis
		launcher *chrometest.Launcher
		renderer *chrome.Renderer
		local    *localcache.Cache
		dist     *distcache.Client
		srv      *fasthttp.Server
		ln       *fasthttputil.InmemoryListener
		client   *fasthttp.Client
	)

	get := func(uri string) *fasthttp.Response {
		req := fasthttp.AcquireRequest()
		defer fasthttp.ReleaseRequest(req)
		req.SetRequestURI("http://rendeer" + uri)
		req.URI().DisablePathNormalizing = true

		resp := &fasthttp.Response{}
		Expect(client.DoTimeout(req, resp, 5*time.Second)).To(Succeed())
		return resp
	}

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())

		launcher = chrometest.NewLauncher()
		launcher.SetPage("https://example.com/page", chrometest.Page{HTML: article})
		launcher.SetPage("https://example.com/down", chrometest.Page{HTML: unavailable})

		policy, err := filter.NewPolicy([]string{"example.com"})
		Expect(err).NotTo(HaveOccurred())

		config := chrome.DefaultConfig()
		config.ShutdownTimeout = time.Second
		renderer, err = chrome.NewRenderer(config, launcher, policy, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		local, err = localcache.New(0, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		dist, err = distcache.NewFromConfig(configtypes.DistributedCacheConfig{
			Enabled:     true,
			Backend:     configtypes.BackendRedis,
			Hosts:       []string{mr.Addr()},
			Prefix:      "rendeer:",
			Compression: configtypes.CompressionSnappy,
			Expiry:      types.Duration(time.Hour),
			Timeout:     types.Duration(time.Second),
			Writers:     1,
			QueueSize:   16,
			Breaker: configtypes.BreakerConfig{
				FailureThreshold: 5,
				Delay:            types.Duration(time.Minute),
			},
		}, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		p := pipeline.New(local, renderer, dist, time.Minute, zap.NewNop())
		router := server.NewServer(p, server.Options{
			CacheControlMaxAge: time.Hour,
			RequestTimeout:     10 * time.Second,
			SSRFProtection:     true,
		}, nil, zap.NewNop())

		ln = fasthttputil.NewInmemoryListener()
		srv = &fasthttp.Server{Handler: router.HandleRequest}
		go func() { _ = srv.Serve(ln) }()

		client = &fasthttp.Client{
			Dial:                   func(string) (net.Conn, error) { return ln.Dial() },
			DisablePathNormalizing: true,
		}
	})

	AfterEach(func() {
		client.CloseIdleConnections()
		Expect(srv.Shutdown()).To(Succeed())
		Expect(dist.Close()).To(Succeed())
		Expect(renderer.Close()).To(Succeed())
		local.Wait()
		mr.Close()
	})

	Describe("system paths", func() {
		It("answers the root with cache headers", func() {
			resp := get("/")
			Expect(resp.StatusCode()).To(Equal(fasthttp.StatusOK))
			Expect(string(resp.Header.ContentType())).To(Equal("text/html; charset=utf-8"))
			Expect(string(resp.Header.Peek("Cache-Control"))).To(Equal("public,max-age=3600"))
			Expect(resp.Body()).To(BeEmpty())
		})

		It("answers favicon and robots with no content", func() {
			Expect(get("/favicon.ico").StatusCode()).To(Equal(fasthttp.StatusNoContent))
			Expect(get("/robots.txt").StatusCode()).To(Equal(fasthttp.StatusNoContent))
		})
	})

	Describe("rendering", func() {
		It("serves cleaned HTML for a path target", func() {
			resp := get("/https://example.com/page")
			Expect(resp.StatusCode()).To(Equal(fasthttp.StatusOK))
			Expect(string(resp.Header.ContentType())).To(Equal("text/html; charset=UTF-8"))
			Expect(string(resp.Header.Peek("X-Request-ID"))).NotTo(BeEmpty())

			body := string(resp.Body())
			Expect(body).To(ContainSubstring("<h1>Hello</h1>"))
			Expect(body).To(ContainSubstring("application/ld+json"))
			Expect(body).NotTo(ContainSubstring("bundle.js"))
			Expect(body).NotTo(ContainSubstring("hydrate()"))
			Expect(body).NotTo(ContainSubstring("component.html"))
			Expect(body).NotTo(ContainSubstring("<!--"))
			Expect(body).To(ContainSubstring(`src="https://example.com/cover.jpg"`))
			Expect(strings.Count(body, "<script")).To(Equal(1))
		})

		It("accepts the fetch query form", func() {
			resp := get("/?fetch=https%3A%2F%2Fexample.com%2Fpage")
			Expect(resp.StatusCode()).To(Equal(fasthttp.StatusOK))
			Expect(string(resp.Body())).To(ContainSubstring("<h1>Hello</h1>"))
		})

		It("rejects malformed targets", func() {
			resp := get("/not%20a%20url")
			Expect(resp.StatusCode()).To(Equal(fasthttp.StatusBadRequest))
			Expect(string(resp.Body())).To(HavePrefix("Oops. Something is wrong.\n\n"))
		})

		It("reports render failures as 400", func() {
			resp := get("/https://example.com/unknown")
			Expect(resp.StatusCode()).To(Equal(fasthttp.StatusBadRequest))
			Expect(string(resp.Body())).To(ContainSubstring("navigation failed"))
		})
	})

	Describe("caching", func() {
		It("renders once for concurrent requests", func() {
			gate := make(chan struct{})
			launcher.SetPage("https://example.com/slow", chrometest.Page{HTML: article, Gate: gate})

			var wg sync.WaitGroup
			bodies := make([]string, 8)
			for i := range bodies {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					bodies[i] = string(get("/https://example.com/slow").Body())
				}(i)
			}

			Eventually(func() int { return launcher.Navigations("https://example.com/slow") }).Should(Equal(1))
			time.Sleep(50 * time.Millisecond)
			close(gate)
			wg.Wait()

			Expect(launcher.Navigations("https://example.com/slow")).To(Equal(1))
			for _, body := range bodies {
				Expect(body).To(Equal(bodies[0]))
			}
		})

		It("serves a 200 render from the local tier", func() {
			Expect(get("/https://example.com/page").StatusCode()).To(Equal(fasthttp.StatusOK))
			mr.FlushAll()

			Expect(get("/https://example.com/page").StatusCode()).To(Equal(fasthttp.StatusOK))
			Expect(launcher.Navigations("https://example.com/page")).To(Equal(1))
		})

		It("keeps non-2xx renders out of both tiers", func() {
			Expect(get("/https://example.com/down").StatusCode()).To(Equal(503))
			Expect(get("/https://example.com/down").StatusCode()).To(Equal(503))

			Expect(launcher.Navigations("https://example.com/down")).To(Equal(2))
			Consistently(func() bool { return mr.Exists(dist.Key("https://example.com/down")) }, 100*time.Millisecond).Should(BeFalse())
		})

		It("writes 2xx renders to the distributed tier and clears them", func() {
			key := dist.Key("https://example.com/page")

			Expect(get("/https://example.com/page").StatusCode()).To(Equal(fasthttp.StatusOK))
			Eventually(func() bool { return mr.Exists(key) }).Should(BeTrue())
			Expect(mr.TTL(key)).To(Equal(time.Hour))

			Expect(get("/clear/https://example.com/page").StatusCode()).To(Equal(fasthttp.StatusOK))
			Expect(mr.Exists(key)).To(BeFalse())
		})
	})
})
