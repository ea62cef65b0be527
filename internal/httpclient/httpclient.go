// Package httpclient holds the fasthttp request helper shared by the banner
// grabber and the subdomain finder.
package httpclient

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
)

// DefaultMaxRedirects caps how many redirects Do follows.
const DefaultMaxRedirects = 5

// Do sends req and follows up to maxRedirects redirects. Every hop shares
// one deadline: timeout from now, or ctx's deadline when that is sooner.
// resp holds the final response. A negative maxRedirects uses
// DefaultMaxRedirects; zero returns the first response as is.
func Do(ctx context.Context, client *fasthttp.Client, req *fasthttp.Request, resp *fasthttp.Response,
	timeout time.Duration, maxRedirects int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if maxRedirects < 0 {
		maxRedirects = DefaultMaxRedirects
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for redirects := 0; ; redirects++ {
		if err := client.DoDeadline(req, resp, deadline); err != nil {
			return err
		}
		if !fasthttp.StatusCodeIsRedirect(resp.StatusCode()) || maxRedirects == 0 {
			return nil
		}
		if redirects >= maxRedirects {
			return fasthttp.ErrTooManyRedirects
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		location := resp.Header.Peek(fasthttp.HeaderLocation)
		if len(location) == 0 {
			return fasthttp.ErrMissingLocation
		}
		next := fasthttp.AcquireURI()
		req.URI().CopyTo(next)
		next.UpdateBytes(location)
		req.SetRequestURI(next.String())
		fasthttp.ReleaseURI(next)

		// Redirected requests are always plain GETs.
		req.Header.SetMethod(fasthttp.MethodGet)
		req.ResetBody()
	}
}
