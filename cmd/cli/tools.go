// This file implements the reconnaissance helpers that sit next to the port
// prober: service banners, HTTP headers and subdomain discovery.
package cli

import (
	"context"
	"fmt"
	"net"
	"sort"

	"github.com/spf13/cobra"

	"github.com/anstrom/portprobe/internal/banner"
	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/probe"
	"github.com/anstrom/portprobe/internal/subdomain"
)

var proxyFlag = map[string]string{"probe.proxy": "proxy"}

func newBannerCmd(a *app) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "banner",
		Short: "Read the greeting a TCP service sends on connect",
		Example: `  portprobe banner --host mail.example.com --port 25
  portprobe banner --host 10.0.0.5 --port 22`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := probe.ValidateTarget(host); err != nil {
				return err
			}
			if port < 1 || port > 65535 {
				return fmt.Errorf("invalid port %d (must be 1-65535)", port)
			}

			cfg, err := a.loadConfig(cmd, proxyFlag)
			if err != nil {
				return err
			}
			grabber, err := newGrabber(cfg)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), grabber.Grab(cmd.Context(), host, port))
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "hostname or IP address")
	cmd.Flags().IntVar(&port, "port", 0, "TCP port")
	cmd.Flags().String("proxy", "", "SOCKS5 proxy URL")
	_ = cmd.MarkFlagRequired("host")
	_ = cmd.MarkFlagRequired("port")
	return cmd
}

func newHeadersCmd(a *app) *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "headers",
		Short: "Print the response headers of an HTTP GET",
		Long: `Fetch a URL and print its response headers. A URL without a scheme
is fetched over http://.`,
		Example: `  portprobe headers --url example.com
  portprobe headers --url https://example.com/login`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd, proxyFlag)
			if err != nil {
				return err
			}
			grabber, err := newGrabber(cfg)
			if err != nil {
				return err
			}

			headers := grabber.Headers(cmd.Context(), url)
			keys := make([]string, 0, len(headers))
			for k := range headers {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			out := cmd.OutOrStdout()
			for _, k := range keys {
				fmt.Fprintf(out, "%s: %s\n", k, headers[k])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "URL to fetch")
	cmd.Flags().String("proxy", "", "SOCKS5 proxy URL")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newSubdomainsCmd(a *app) *cobra.Command {
	var domain string

	cmd := &cobra.Command{
		Use:   "subdomains",
		Short: "Find subdomains from a wordlist",
		Long: `Request http://<word>.<domain> for every word in the wordlist and
list the candidates that answered with a status below 400.`,
		Example: `  portprobe subdomains --domain example.com
  portprobe subdomains --domain example.com --wordlist /usr/share/wordlists/subdomains.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd, map[string]string{
				"subdomain.wordlist": "wordlist",
				"probe.proxy":        "proxy",
			})
			if err != nil {
				return err
			}

			words, err := subdomain.LoadWordlist(cfg.Subdomain.Wordlist)
			if err != nil {
				return fmt.Errorf("%s: %w", cfg.Subdomain.Wordlist, err)
			}

			opts := []subdomain.Option{
				subdomain.WithConcurrency(cfg.Subdomain.Concurrency),
				subdomain.WithTimeout(cfg.Subdomain.Timeout),
			}
			if cfg.Probe.Proxy != "" {
				dialer, err := probe.NewProxyDialer(cfg.Probe.Proxy, cfg.Subdomain.Timeout)
				if err != nil {
					return err
				}
				opts = append(opts, subdomain.WithDial(func(addr string) (net.Conn, error) {
					ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Subdomain.Timeout)
					defer cancel()
					return dialer.DialContext(ctx, "tcp", addr)
				}))
			}

			results, err := subdomain.New(opts...).Find(cmd.Context(), domain, words)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, line := range subdomain.Lines(results, nil) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&domain, "domain", "d", "", "domain to search, e.g. example.com")
	cmd.Flags().StringP("wordlist", "w", "", "wordlist file, one label per line (default from config)")
	cmd.Flags().String("proxy", "", "SOCKS5 proxy URL")
	_ = cmd.MarkFlagRequired("domain")
	return cmd
}

// newGrabber builds a banner grabber from the banner and proxy settings.
func newGrabber(cfg *config.Config) (*banner.Grabber, error) {
	opts := []banner.Option{
		banner.WithTimeout(cfg.Banner.Timeout),
		banner.WithMaxBytes(cfg.Banner.MaxBytes),
	}
	if cfg.Probe.Proxy != "" {
		dialer, err := probe.NewProxyDialer(cfg.Probe.Proxy, cfg.Banner.Timeout)
		if err != nil {
			return nil, err
		}
		opts = append(opts, banner.WithDialer(dialer))
	}
	return banner.New(opts...), nil
}
