// Package emoncms renders archive records into EmonCMS input URLs and
// delivers them with bounded retries.
package emoncms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/matthewwall/weewx-emoncms/internal/metrics"
	"github.com/matthewwall/weewx-emoncms/internal/units"
)

// DefaultServerURL is the public EmonCMS input endpoint.
const DefaultServerURL = "http://emoncms.org/input/post.json"

// successBody is the exact response body EmonCMS returns on success.
const successBody = "ok"

// Augmenter supplies supplementary fields (e.g. rain aggregates) for a
// record before it is rendered. Augmentation runs before any unit
// normalization.
type Augmenter interface {
	Augment(ctx context.Context, rec Record) error
}

// Config fixes the upload parameters for the lifetime of an Uploader.
type Config struct {
	ServerURL string
	Token     string
	Node      string // "" means no node parameter
	Prefix    string

	AppendUnitsLabel bool
	UploadAll        bool
	Inputs           map[string]Override

	// UnitSystem, when non-zero, converts every record to that system
	// before rendering.
	UnitSystem int

	SkipUpload bool

	PostInterval time.Duration // minimum spacing between posts, 0 = none
	Stale        time.Duration // drop records older than this, 0 = never
	Timeout      time.Duration
	MaxTries     int
	RetryWait    time.Duration

	LogSuccess bool
	LogFailure bool

	UserAgent string
}

// Uploader is the delivery worker. It owns its template cache and posts
// one record at a time; it is not safe for concurrent use.
type Uploader struct {
	cfg     Config
	backlog *Backlog
	client  *http.Client
	logger  *slog.Logger
	aug     Augmenter

	templates map[string]Template
	order     []string
	lastPost  int64
}

// NewUploader builds the delivery worker. The token is required; aug may
// be nil to disable record augmentation.
func NewUploader(cfg Config, backlog *Backlog, aug Augmenter, logger *slog.Logger) (*Uploader, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("emoncms: token is required")
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if cfg.MaxTries < 1 {
		cfg.MaxTries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 5 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "weewx-emoncms/dev"
	}
	logger.Info("data will be uploaded",
		"url", cfg.ServerURL,
		"token", MaskToken(cfg.Token),
		"node", cfg.Node,
		"prefix", cfg.Prefix,
	)
	return &Uploader{
		cfg:       cfg,
		backlog:   backlog,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
		aug:       aug,
		templates: make(map[string]Template),
	}, nil
}

// Run drains the backlog until ctx is canceled. No single record's
// failure stops the loop.
func (u *Uploader) Run(ctx context.Context) {
	u.logger.Info("uploader started")
	for {
		rec, err := u.backlog.Get(ctx)
		if err != nil {
			u.logger.Info("uploader stopped")
			return
		}
		u.processRecord(ctx, rec)
	}
}

func (u *Uploader) processRecord(ctx context.Context, rec Record) {
	ts := rec.Time()

	if u.cfg.Stale > 0 && time.Since(time.Unix(ts, 0)) > u.cfg.Stale {
		u.logger.Debug("skipping stale record", "time", ts)
		metrics.RecordsDropped.WithLabelValues("stale").Inc()
		return
	}
	if u.cfg.PostInterval > 0 && ts-u.lastPost < int64(u.cfg.PostInterval/time.Second) {
		u.logger.Debug("wait interval has not passed", "time", ts, "last_post", u.lastPost)
		metrics.RecordsDropped.WithLabelValues("throttled").Inc()
		return
	}
	u.lastPost = ts

	if u.aug != nil {
		if err := u.aug.Augment(ctx, rec); err != nil {
			u.logger.Warn("record augmentation failed", "time", ts, "error", err)
		}
	}
	if u.cfg.UnitSystem != 0 && rec.UnitSystem() != u.cfg.UnitSystem {
		rec = rec.ConvertTo(u.cfg.UnitSystem)
	}

	reqURL := u.buildURL(rec)
	u.logger.Debug("url", "url", MaskURL(reqURL))

	if u.cfg.SkipUpload {
		u.logger.Info("skipping upload", "time", ts)
		metrics.Uploads.WithLabelValues("skipped").Inc()
		return
	}

	start := time.Now()
	err := u.postWithRetries(ctx, reqURL)
	metrics.UploadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if u.cfg.LogFailure {
			u.logger.Error("failed to publish record", "time", ts, "error", err)
		}
		metrics.Uploads.WithLabelValues("failed").Inc()
		return
	}
	if u.cfg.LogSuccess {
		u.logger.Info("published record", "time", ts)
	}
	metrics.Uploads.WithLabelValues("ok").Inc()
}

// buildURL assembles the EmonCMS GET URL for one record. Fields whose
// value cannot be coerced to a number, or whose unit conversion is
// unknown, are skipped; they never fail the whole request.
func (u *Uploader) buildURL(rec Record) string {
	prefix := ""
	if u.cfg.Prefix != "" {
		prefix = url.QueryEscape(u.cfg.Prefix) + "_"
	}

	// When uploading everything the candidate list must be refreshed on
	// every record, since observations may come and go. Otherwise the
	// candidates are fixed to the configured inputs, resolved once.
	if u.cfg.UploadAll {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, ok := u.templates[k]; !ok {
				u.addTemplate(k, rec.UnitSystem())
			}
		}
	} else if len(u.templates) == 0 {
		keys := make([]string, 0, len(u.cfg.Inputs))
		for k := range u.cfg.Inputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			u.addTemplate(k, rec.UnitSystem())
		}
	}

	var data []string
	for _, k := range u.order {
		v, ok := rec.Float(k)
		if !ok {
			continue
		}
		tmpl := u.templates[k]
		name := tmpl.Name
		if name == "" {
			name = k
		}
		if tmpl.Units != "" {
			fromUnit := units.StandardUnit(rec.UnitSystem(), k)
			converted, err := units.Convert(v, fromUnit, tmpl.Units)
			if err != nil {
				u.logger.Debug("unit conversion failed", "obs", k, "error", err)
				continue
			}
			v = converted
		}
		data = append(data, fmt.Sprintf("%s%s:%s", prefix, url.QueryEscape(name), renderValue(tmpl.Format, v)))
	}

	var parts strings.Builder
	parts.WriteString(u.cfg.ServerURL)
	parts.WriteString("?apikey=" + u.cfg.Token)
	parts.WriteString("&time=" + strconv.FormatInt(rec.Time(), 10))
	if u.cfg.Node != "" {
		parts.WriteString("&node=" + u.cfg.Node)
	}
	parts.WriteString("&json={" + strings.Join(data, ",") + "}")
	return parts.String()
}

func (u *Uploader) addTemplate(key string, unitSystem int) {
	u.templates[key] = resolveTemplate(key, u.cfg.Inputs[key], u.cfg.AppendUnitsLabel, unitSystem)
	u.order = append(u.order, key)
}

// renderValue applies a template format string to a value. The default
// %s renders the shortest plain-decimal representation that round-trips;
// epoch-scale values must never come out in scientific notation.
func renderValue(format string, v float64) string {
	if format == "" || format == "%s" {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprintf(format, v)
}

// postWithRetries performs the GET, retrying transient failures with a
// fixed delay up to the configured attempt cap.
func (u *Uploader) postWithRetries(ctx context.Context, reqURL string) error {
	var lastErr error
	for attempt := 1; attempt <= u.cfg.MaxTries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(u.cfg.RetryWait):
			}
		}
		lastErr = u.post(ctx, reqURL)
		if lastErr == nil {
			return nil
		}
		u.logger.Debug("upload attempt failed",
			"attempt", attempt,
			"max_tries", u.cfg.MaxTries,
			"error", lastErr,
		)
	}
	return fmt.Errorf("failed after %d tries: %w", u.cfg.MaxTries, lastErr)
}

func (u *Uploader) post(ctx context.Context, reqURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", u.cfg.UserAgent)

	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	if string(body) != successBody {
		return fmt.Errorf("server returned %q", string(body))
	}
	return nil
}

// MaskToken obscures all but the last four characters of a token so it
// can appear in logs.
func MaskToken(s string) string {
	if len(s) <= 4 {
		return s
	}
	return strings.Repeat("X", len(s)-4) + s[len(s)-4:]
}

var apikeyRe = regexp.MustCompile(`apikey=[^&]*`)

// MaskURL replaces the apikey query value so a full request URL can be
// logged.
func MaskURL(s string) string {
	return apikeyRe.ReplaceAllString(s, "apikey=XXX")
}
