package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotelab/resilix"
)

func newFetchCmd() *cobra.Command {
	var (
		configPath   string
		method       string
		headers      []string
		data         string
		contentType  string
		repeat       int
		noCache      bool
		cacheTTL     time.Duration
		showBreakers bool
		verbose      bool
	)

	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Fetch a URL through the resilient client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if verbose {
				cfg.Debug.Enabled = true
			}

			opts, err := cfg.Options()
			if err != nil {
				return err
			}

			client := resilix.New(opts...)
			if err := client.ValidationError(); err != nil {
				return err
			}

			req, err := buildRequest(method, args[0], data, contentType, headers)
			if err != nil {
				return err
			}

			ctx := context.Background()
			if noCache {
				ctx = resilix.WithContextCacheDisabled(ctx)
			} else if cacheTTL > 0 {
				ctx = resilix.WithContextCacheTTL(ctx, cacheTTL)
			}

			var lastErr error
			for i := 0; i < repeat; i++ {
				start := time.Now()
				resp, err := client.Do(ctx, req)
				elapsed := time.Since(start).Round(time.Millisecond)

				if err != nil {
					lastErr = err
					fmt.Fprintf(os.Stderr, "[%d/%d] error after %v: %v\n", i+1, repeat, elapsed, err)
					continue
				}

				if repeat == 1 {
					fmt.Fprintf(os.Stderr, "%d %s in %v (cache=%v)\n", resp.StatusCode, resp.Status, elapsed, resp.FromCache)
					os.Stdout.Write(resp.Body)
					if len(resp.Body) > 0 && resp.Body[len(resp.Body)-1] != '\n' {
						fmt.Println()
					}
				} else {
					fmt.Printf("[%d/%d] %d %s in %v cache=%v bytes=%d\n",
						i+1, repeat, resp.StatusCode, resp.Status, elapsed, resp.FromCache, len(resp.Body))
				}
			}

			if showBreakers {
				printBreakers(client.BreakerStatuses())
			}
			return lastErr
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header as 'Name: value' (repeatable)")
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body (switches a default GET to POST)")
	cmd.Flags().StringVar(&contentType, "content-type", "application/json", "Content-Type header for --data")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "number of times to issue the request")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the response cache for this request")
	cmd.Flags().DurationVar(&cacheTTL, "cache-ttl", 0, "override the cache TTL for this request")
	cmd.Flags().BoolVar(&showBreakers, "show-breakers", false, "print circuit breaker states after fetching")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func buildRequest(method, url, data, contentType string, headers []string) (resilix.Request, error) {
	var body []byte
	if data != "" {
		body = []byte(data)
		if method == "GET" {
			method = "POST"
		}
	}

	req := resilix.NewRequest(strings.ToUpper(method), url, body)
	if data != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, h := range headers {
		name, value, found := strings.Cut(h, ":")
		if !found {
			return resilix.Request{}, fmt.Errorf("malformed header %q, want 'Name: value'", h)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return req, nil
}

func printBreakers(statuses []resilix.BreakerStatus) {
	if len(statuses) == 0 {
		fmt.Println("No circuit breakers created.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENDPOINT\tSTATE\tFAILURES\tLAST FAILURE")
	for _, s := range statuses {
		last := "-"
		if !s.LastFailureAt.IsZero() {
			last = s.LastFailureAt.Format("2006-01-02T15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Endpoint, s.State, s.Failures, last)
	}
	w.Flush()
}
