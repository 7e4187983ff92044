package castore

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RevocationStatus is the outcome of a revocation check (EMV).
type RevocationStatus int

const (
	StatusValid RevocationStatus = iota
	StatusRevoked
	StatusUnknown
)

func (s RevocationStatus) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Revocation is one revoked-key record, addressable as "RID_hex:XX".
type Revocation struct {
	Reason         string
	RevocationDate time.Time
	AddedAtMillis  int64
}

func entryKey(rid string, index byte) string {
	return fmt.Sprintf("%s:%02X", rid, index)
}

// RevocationConfig tunes the online CRL refresh behavior.
type RevocationConfig struct {
	CacheSize        int           // bounded cache entries; default 4096
	MaxCRLBytes      int64         // default 1 MiB
	RefreshInterval  time.Duration // default 24h
	InsecureSkipTLS  bool          // must default false; TLS validated by default
	CRLURL           string
}

func (c *RevocationConfig) applyDefaults() {
	if c.CacheSize <= 0 {
		c.CacheSize = 4096
	}
	if c.MaxCRLBytes <= 0 {
		c.MaxCRLBytes = 1 << 20
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 24 * time.Hour
	}
}

// RevocationChecker is a thread-safe revoked-CA-key table: a concurrent,
// size-bounded map with a single-flight lock around online CRL refresh.
type RevocationChecker struct {
	cfg RevocationConfig
	log *logrus.Entry

	cache *lru.Cache[string, Revocation]

	fetchMu      sync.Mutex // single in-flight fetch per process
	lastRefresh  time.Time
	everRefreshed bool
	lastRefreshOK bool
	httpClient   *http.Client

	stats struct {
		mu              sync.Mutex
		checks, hits    uint64
		revoked         uint64
		refreshAttempts uint64
		refreshErrors   uint64
	}
}

// NewRevocationChecker constructs a checker with the given config,
// defaulting unset fields. TLS certificate validation is always enabled
// for the online refresh client; InsecureSkipTLS exists only for test
// fixtures and must never be set from production configuration.
func NewRevocationChecker(cfg RevocationConfig, log *logrus.Entry) (*RevocationChecker, error) {
	cfg.applyDefaults()
	cache, err := lru.New[string, Revocation](cfg.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "castore: revocation cache init")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RevocationChecker{
		cfg:   cfg,
		log:   log,
		cache: cache,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// AddRevokedCAKey records (rid, index) as revoked, for the admin
// add_revoked_ca_key operation. A zero date defaults to now.
func (c *RevocationChecker) AddRevokedCAKey(rid string, index byte, reason string, date time.Time) {
	if date.IsZero() {
		date = time.Now()
	}
	c.cache.Add(entryKey(rid, index), Revocation{
		Reason:         reason,
		RevocationDate: date,
		AddedAtMillis:  time.Now().UnixMilli(),
	})
}

// CheckCAKeyRevocation reports the revocation status of (rid, index). When
// checkOnline is true and the refresh interval has elapsed, it triggers (or
// joins) a single in-flight CRL refresh before consulting the cache.
func (c *RevocationChecker) CheckCAKeyRevocation(rid string, index byte, checkOnline bool) RevocationStatus {
	c.stats.mu.Lock()
	c.stats.checks++
	c.stats.mu.Unlock()

	if checkOnline {
		c.maybeRefresh()
	}

	if rev, ok := c.cache.Get(entryKey(rid, index)); ok {
		c.stats.mu.Lock()
		c.stats.hits++
		c.stats.revoked++
		c.stats.mu.Unlock()
		_ = rev
		return StatusRevoked
	}
	if checkOnline && c.everRefreshed && !c.lastRefreshOK {
		return StatusUnknown
	}
	return StatusValid
}

// maybeRefresh joins or starts the single in-flight CRL fetch if the
// refresh interval has elapsed since the last successful refresh; after a
// failed fetch, the next call tries again.
func (c *RevocationChecker) maybeRefresh() {
	if c.cfg.CRLURL == "" {
		return
	}
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	if time.Since(c.lastRefresh) < c.cfg.RefreshInterval {
		return
	}
	c.stats.mu.Lock()
	c.stats.refreshAttempts++
	c.stats.mu.Unlock()

	c.everRefreshed = true
	if err := c.refreshLocked(); err != nil {
		c.stats.mu.Lock()
		c.stats.refreshErrors++
		c.stats.mu.Unlock()
		c.lastRefreshOK = false
		c.log.WithError(err).Warn("castore: CRL refresh failed")
		return
	}
	c.lastRefreshOK = true
	c.lastRefresh = time.Now()
}

func (c *RevocationChecker) refreshLocked() error {
	req, err := http.NewRequest(http.MethodGet, c.cfg.CRLURL, nil)
	if err != nil {
		return errors.Wrap(err, "castore: CRL request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "castore: CRL fetch")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("castore: CRL fetch status %d", resp.StatusCode)
	}

	counting := &countingReader{r: resp.Body}
	limited := io.LimitReader(counting, c.cfg.MaxCRLBytes+1)
	entries, err := ParseCRL(limited)
	if err != nil {
		return err
	}
	if counting.n > c.cfg.MaxCRLBytes {
		return errors.New("castore: CRL exceeds configured byte limit")
	}
	for _, e := range entries {
		c.cache.Add(entryKey(e.rid, e.index), e.rev)
	}
	return nil
}

// countingReader tracks bytes read so refreshLocked can detect a CRL body
// larger than the configured cap even though LimitReader silently
// truncates instead of erroring.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// crlEntry pairs a decoded CRL line with its (rid, index) key.
type crlEntry struct {
	rid   string
	index byte
	rev   Revocation
}

// ParseCRL decodes the line-oriented "RID:INDEX:REASON:DATE" revocation feed
// format this system defines (a stand-in for a real X.509
// CRL parser, which a production deployment layers on as a drop-in
// replacement for this adapter only). Lines are "RID:INDEX:REASON:DATE"
// with DATE as YYYYMMDD; blank lines and lines starting with '#' are
// skipped.
func ParseCRL(r io.Reader) ([]crlEntry, error) {
	var entries []crlEntry
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) != 4 {
			return nil, errors.Errorf("castore: CRL line %d: expected RID:INDEX:REASON:DATE", lineNo)
		}
		idx, err := strconv.ParseUint(parts[1], 16, 8)
		if err != nil {
			return nil, errors.Wrapf(err, "castore: CRL line %d: bad index", lineNo)
		}
		date, err := time.Parse("20060102", parts[3])
		if err != nil {
			return nil, errors.Wrapf(err, "castore: CRL line %d: bad date", lineNo)
		}
		entries = append(entries, crlEntry{
			rid:   parts[0],
			index: byte(idx),
			rev:   Revocation{Reason: parts[2], RevocationDate: date},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "castore: CRL scan")
	}
	return entries, nil
}

// WriteCRL serializes the checker's current revocations to the same
// line-oriented format ParseCRL reads, so the admin HTTP surface can
// persist add_revoked_ca_key calls across restarts.
func (c *RevocationChecker) WriteCRL(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, k := range c.cache.Keys() {
		rev, ok := c.cache.Peek(k)
		if !ok {
			continue
		}
		parts := strings.SplitN(k, ":", 2)
		if len(parts) != 2 {
			continue
		}
		_, err := fmt.Fprintf(bw, "%s:%s:%s:%s\n", parts[0], parts[1], rev.Reason, rev.RevocationDate.Format("20060102"))
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Stats reports cumulative revocation-checker counters, for admin/metrics
// surfaces.
type Stats struct {
	Checks, Hits, Revoked, RefreshAttempts, RefreshErrors uint64
}

// Stats returns a snapshot of cumulative counters.
func (c *RevocationChecker) Stats() Stats {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()
	return Stats{
		Checks:          c.stats.checks,
		Hits:            c.stats.hits,
		Revoked:         c.stats.revoked,
		RefreshAttempts: c.stats.refreshAttempts,
		RefreshErrors:   c.stats.refreshErrors,
	}
}
