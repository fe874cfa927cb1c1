// Package fetcher downloads a source artifact to the local cache,
// idempotently (spec.md §4.4). HTTP/HTTPS go through a dnscache-backed
// dialer (grounded in git-pkgs/registries' fetch.Fetcher); FTP goes
// through jlaffaye/ftp. Unlike the pack's fetch.Fetcher, this one
// deliberately has no retry/backoff loop of its own — spec.md is
// explicit that retries here are transport-layer only, one attempt
// with a connect timeout and an overall deadline.
package fetcher

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jlaffaye/ftp"
	"github.com/rs/dnscache"

	"github.com/tinypkg/tinypkg/pkg/tperrors"
)

// Fetcher downloads source archives to a local destination path.
type Fetcher struct {
	l          hclog.Logger
	client     *http.Client
	resolver   *dnscache.Resolver
	connectTO  time.Duration
	overallTO  time.Duration
}

// New returns a Fetcher. connectTimeout bounds the TCP dial;
// overallTimeout bounds the whole request including body transfer.
func New(l hclog.Logger, connectTimeout, overallTimeout time.Duration) *Fetcher {
	resolver := &dnscache.Resolver{}

	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return dialer.DialContext(ctx, network, addr)
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil || len(ips) == 0 {
				return dialer.DialContext(ctx, network, addr)
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		},
	}

	return &Fetcher{
		l:         l.Named("fetcher"),
		client:    &http.Client{Timeout: overallTimeout, Transport: transport},
		resolver:  resolver,
		connectTO: connectTimeout,
		overallTO: overallTimeout,
	}
}

// Fetch downloads url to destination. If destination already exists
// as a regular file, Fetch is a no-op and returns nil immediately —
// the caller (the Build Runner) is still responsible for re-running
// the Verifier afterward.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, destination string) error {
	if info, err := os.Stat(destination); err == nil && info.Mode().IsRegular() {
		f.l.Debug("destination already present, skipping download", "path", destination)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return &tperrors.IOError{Op: "mkdir cache dir", Err: err}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return &tperrors.NetworkError{URL: rawURL, Err: err}
	}

	var fetchErr error
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		fetchErr = f.fetchHTTP(ctx, rawURL, destination)
	case "ftp":
		fetchErr = f.fetchFTP(ctx, u, destination)
	default:
		fetchErr = &tperrors.NetworkError{URL: rawURL, Err: &unsupportedSchemeError{Scheme: u.Scheme}}
	}

	if fetchErr != nil {
		os.Remove(destination)
		return fetchErr
	}
	return nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL, destination string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &tperrors.NetworkError{URL: rawURL, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return &tperrors.NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &tperrors.NetworkError{URL: rawURL, Err: &httpStatusError{Code: resp.StatusCode}}
	}

	out, err := os.Create(destination)
	if err != nil {
		return &tperrors.IOError{Op: "create destination", Err: err}
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return &tperrors.NetworkError{URL: rawURL, Err: err}
	}
	return nil
}

func (f *Fetcher) fetchFTP(ctx context.Context, u *url.URL, destination string) error {
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Host, "21")
	}

	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(f.connectTO), ftp.DialWithContext(ctx))
	if err != nil {
		return &tperrors.NetworkError{URL: u.String(), Err: err}
	}
	defer conn.Quit()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return &tperrors.NetworkError{URL: u.String(), Err: err}
	}

	r, err := conn.Retr(u.Path)
	if err != nil {
		return &tperrors.NetworkError{URL: u.String(), Err: err}
	}
	defer r.Close()

	out, err := os.Create(destination)
	if err != nil {
		return &tperrors.IOError{Op: "create destination", Err: err}
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return &tperrors.NetworkError{URL: u.String(), Err: err}
	}
	return nil
}

type unsupportedSchemeError struct{ Scheme string }

func (e *unsupportedSchemeError) Error() string { return "unsupported scheme: " + e.Scheme }

type httpStatusError struct{ Code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.Code) }
