// Package subdomain brute-forces subdomains of a domain from a wordlist by
// issuing an HTTP GET to each candidate.
package subdomain

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/valyala/fasthttp"

	"github.com/anstrom/portprobe/internal/httpclient"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/probe"
)

const (
	DefaultConcurrency = 20
	DefaultTimeout     = time.Second

	// NoneFound is reported when no candidate answered below 400.
	NoneFound = "No subdomains found with current wordlist."
)

// ErrWordlistNotFound is returned when the wordlist file does not exist.
var ErrWordlistNotFound = stderrors.New("wordlist file not found")

// Result is one subdomain that answered with a status below 400.
type Result struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
}

func (r Result) String() string {
	return fmt.Sprintf("[+] Found: %s (%d)", r.URL, r.Status)
}

// Finder checks candidate subdomains concurrently.
type Finder struct {
	client      *fasthttp.Client
	concurrency int
	timeout     time.Duration
}

// Option configures a Finder.
type Option func(*Finder)

// WithConcurrency sets how many candidates are checked at once.
func WithConcurrency(n int) Option {
	return func(f *Finder) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Finder) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithDial replaces how the HTTP client opens connections.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(f *Finder) { f.client.Dial = dial }
}

// New creates a Finder.
func New(opts ...Option) *Finder {
	f := &Finder{
		client: &fasthttp.Client{
			MaxIdleConnDuration: 5 * time.Second,
			MaxConnsPerHost:     4,
		},
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.client.ReadTimeout = f.timeout
	f.client.WriteTimeout = f.timeout
	return f
}

// LoadWordlist reads one candidate label per line, skipping blank lines.
func LoadWordlist(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrWordlistNotFound
		}
		return nil, fmt.Errorf("error reading wordlist: %w", err)
	}
	defer func() { _ = file.Close() }()

	var words []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if word := strings.TrimSpace(scanner.Text()); word != "" {
			words = append(words, word)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading wordlist: %w", err)
	}
	return words, nil
}

// Find requests http://<word>.<domain> for every word and returns the
// candidates that answered with a status below 400, sorted by URL.
// Connection failures are not errors; they simply mean "not found".
func (f *Finder) Find(ctx context.Context, domain string, words []string) ([]Result, error) {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), ".")
	if err := probe.ValidateTarget(domain); err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return []Result{}, nil
	}

	workers := f.concurrency
	if workers > len(words) {
		workers = len(words)
	}

	var (
		mu    sync.Mutex
		found = make([]Result, 0)
		wg    sync.WaitGroup
	)

	pool, err := ants.NewPoolWithFunc(workers, func(arg interface{}) {
		defer wg.Done()
		if ctx.Err() != nil {
			return
		}
		url := fmt.Sprintf("http://%s.%s", arg.(string), domain)
		status, err := f.check(ctx, url)
		if err != nil {
			logging.Debug("Subdomain check failed", "url", url, "error", err)
			return
		}
		if status < fasthttp.StatusBadRequest {
			mu.Lock()
			found = append(found, Result{URL: url, Status: status})
			mu.Unlock()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subdomain pool: %w", err)
	}
	defer pool.Release()

	for _, word := range words {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		if err := pool.Invoke(word); err != nil {
			wg.Done()
			return nil, fmt.Errorf("failed to dispatch subdomain check: %w", err)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool { return found[i].URL < found[j].URL })
	return found, nil
}

// check returns the status of the final response after redirects.
func (f *Finder) check(ctx context.Context, url string) (int, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	resp.SkipBody = true

	if err := httpclient.Do(ctx, f.client, req, resp, f.timeout, httpclient.DefaultMaxRedirects); err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}

// Lines renders the outcome of a search as human-readable lines: one per
// found subdomain, or a single message when nothing was found or the
// wordlist could not be read.
func Lines(results []Result, err error) []string {
	switch {
	case stderrors.Is(err, ErrWordlistNotFound):
		return []string{"Error: Wordlist file not found."}
	case err != nil:
		return []string{"Error: " + err.Error()}
	case len(results) == 0:
		return []string{NoneFound}
	}

	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = r.String()
	}
	return lines
}
