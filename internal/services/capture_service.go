package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/beacongate/backend/internal/logger"
	"github.com/beacongate/backend/internal/models"
)

const (
	captureViewportWidth  = 1280
	captureViewportHeight = 720
	captureUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	captureNavTimeout     = 20 * time.Second
	captureSettleDelay    = 2 * time.Second
)

// RedirectHop is one step of the navigation chain written to
// redirects.json and fed into the redirect rules.
type RedirectHop struct {
	URL    string `json:"url"`
	Status *int   `json:"status,omitempty"`
}

// NetworkSummary aggregates the page's subresource requests.
type NetworkSummary struct {
	TotalRequests int            `json:"totalRequests"`
	ByType        map[string]int `json:"byType"`
	TopDomains    []string       `json:"topDomains"`
}

// CapturedArtifact describes one file written during a capture run.
type CapturedArtifact struct {
	Type     models.ArtifactType
	Basename string
	RelPath  string
	SHA256   string
	ByteSize int64
	MimeType string
	Meta     models.JSONB
}

// captureArtifactMeta records the browser conditions an artifact was
// captured under.
func captureArtifactMeta() models.JSONB {
	return models.JSONB{
		"viewport": map[string]interface{}{
			"width":  captureViewportWidth,
			"height": captureViewportHeight,
		},
		"userAgent": captureUserAgent,
	}
}

// CaptureResult is the outcome of a browser capture. TimedOut marks a
// partial capture: navigation never settled but best-effort artifacts
// were still written.
type CaptureResult struct {
	FinalURL      string
	RedirectChain []RedirectHop
	Network       NetworkSummary
	Artifacts     []CapturedArtifact
	BundleHash    string
	CapturedAt    time.Time
	TimedOut      bool
	ErrorMessage  string
}

// CaptureService drives a headless Chrome session to snapshot a landing
// page. Concurrent browser launches are capped by a weighted semaphore.
type CaptureService struct {
	guard   *URLGuard
	storage *ArtifactStorage
	sem     *semaphore.Weighted
}

func NewCaptureService(guard *URLGuard, storage *ArtifactStorage) *CaptureService {
	maxBrowsers := int64(2)
	if raw := os.Getenv("MAX_CONCURRENT_CAPTURES"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			maxBrowsers = n
		}
	}
	return &CaptureService{
		guard:   guard,
		storage: storage,
		sem:     semaphore.NewWeighted(maxBrowsers),
	}
}

// Capture validates the landing URL, navigates to it in headless
// Chrome, and writes the four artifacts for the run. A navigation
// timeout still produces artifacts from whatever loaded.
func (cs *CaptureService) Capture(ctx context.Context, evidenceID, captureRunID uint, landingURL string) (*CaptureResult, error) {
	if err := cs.guard.ValidateLandingURL(ctx, landingURL); err != nil {
		return nil, err
	}

	if err := cs.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire browser slot: %w", err)
	}
	defer cs.sem.Release(1)

	runDir, err := cs.storage.RunDir(evidenceID, captureRunID)
	if err != nil {
		return nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.UserAgent(captureUserAgent),
		chromedp.WindowSize(captureViewportWidth, captureViewportHeight),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	tracker := newRequestTracker(landingURL)
	chromedp.ListenTarget(browserCtx, tracker.handle)

	// Navigation runs under its own deadline so a page that never
	// settles does not kill the browser; the parent context stays live
	// for the best-effort snapshot below.
	navCtx, navCancel := context.WithTimeout(browserCtx, captureNavTimeout)
	defer navCancel()

	timedOut := false
	navErr := chromedp.Run(navCtx,
		network.Enable(),
		chromedp.Navigate(landingURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(captureSettleDelay),
	)
	if navErr != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			timedOut = true
		} else {
			return nil, fmt.Errorf("navigate %s: %w", landingURL, navErr)
		}
	}

	var finalURL string
	var screenshot []byte
	var html string
	snapCtx, snapCancel := context.WithTimeout(browserCtx, 10*time.Second)
	defer snapCancel()
	if err := chromedp.Run(snapCtx,
		chromedp.Location(&finalURL),
		chromedp.FullScreenshot(&screenshot, 90),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", landingURL, err)
	}
	if finalURL == "" {
		finalURL = landingURL
	}

	redirectChain := tracker.redirectChain(finalURL)
	networkSummary := tracker.summary()

	redirectsJSON, err := json.MarshalIndent(redirectChain, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode redirect chain: %w", err)
	}
	networkJSON, err := json.MarshalIndent(networkSummary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode network summary: %w", err)
	}

	files := []struct {
		artifactType models.ArtifactType
		basename     string
		mimeType     string
		data         []byte
	}{
		{models.ArtifactScreenshot, "screenshot.png", "image/png", screenshot},
		{models.ArtifactHTMLSnapshot, "page.html", "text/html", []byte(html)},
		{models.ArtifactRedirectChain, "redirects.json", "application/json", redirectsJSON},
		{models.ArtifactNetworkSummary, "network_summary.json", "application/json", networkJSON},
	}

	artifacts := make([]CapturedArtifact, 0, len(files))
	for _, f := range files {
		absPath := filepath.Join(runDir, f.basename)
		if err := os.WriteFile(absPath, f.data, 0644); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.basename, err)
		}
		relPath, err := cs.storage.RelPath(absPath)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, CapturedArtifact{
			Type:     f.artifactType,
			Basename: f.basename,
			RelPath:  relPath,
			SHA256:   SHA256Hex(f.data),
			ByteSize: int64(len(f.data)),
			MimeType: f.mimeType,
			Meta:     captureArtifactMeta(),
		})
	}

	capturedAt := time.Now().UTC()
	bundleHash, err := EvidenceBundleHash(landingURL, finalURL, artifacts, capturedAt)
	if err != nil {
		return nil, err
	}

	result := &CaptureResult{
		FinalURL:      finalURL,
		RedirectChain: redirectChain,
		Network:       networkSummary,
		Artifacts:     artifacts,
		BundleHash:    bundleHash,
		CapturedAt:    capturedAt,
		TimedOut:      timedOut,
	}
	if timedOut {
		result.ErrorMessage = "Navigation timeout"
	}

	logger.WithCapture(evidenceID, captureRunID).WithFields(map[string]interface{}{
		"final_url": finalURL,
		"timed_out": timedOut,
		"requests":  networkSummary.TotalRequests,
	}).Info("Capture completed")

	return result, nil
}

// EvidenceBundleHash derives the stable hash over the capture bundle.
// The payload shape is fixed; changing it invalidates stored hashes.
func EvidenceBundleHash(landingURL, finalURL string, artifacts []CapturedArtifact, capturedAt time.Time) (string, error) {
	type artifactEntry struct {
		Type         string `json:"type"`
		SHA256       string `json:"sha256"`
		ByteSize     int64  `json:"byteSize"`
		PathBasename string `json:"pathBasename"`
	}
	entries := make([]artifactEntry, 0, len(artifacts))
	for _, a := range artifacts {
		entries = append(entries, artifactEntry{
			Type:         string(a.Type),
			SHA256:       a.SHA256,
			ByteSize:     a.ByteSize,
			PathBasename: a.Basename,
		})
	}
	payload := map[string]interface{}{
		"landingUrl": landingURL,
		"finalUrl":   finalURL,
		"artifacts":  entries,
		"capturedAt": capturedAt.Format(time.RFC3339),
		"viewport":   map[string]int{"width": captureViewportWidth, "height": captureViewportHeight},
		"userAgent":  captureUserAgent,
	}
	return HashCanonical(payload)
}

// requestTracker accumulates CDP network events for the redirect chain
// and the network summary.
type requestTracker struct {
	mu          sync.Mutex
	landingURL  string
	hops        []RedirectHop
	requests    []trackedRequest
	firstStatus *int
}

type trackedRequest struct {
	url          string
	resourceType string
}

func newRequestTracker(landingURL string) *requestTracker {
	return &requestTracker{landingURL: landingURL}
}

func (t *requestTracker) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.mu.Lock()
		t.requests = append(t.requests, trackedRequest{
			url:          e.Request.URL,
			resourceType: string(e.Type),
		})
		// Document-level redirect hops carry the previous response.
		if e.Type == network.ResourceTypeDocument && e.RedirectResponse != nil {
			status := int(e.RedirectResponse.Status)
			t.hops = append(t.hops, RedirectHop{URL: e.RedirectResponse.URL, Status: &status})
		}
		t.mu.Unlock()
	case *network.EventResponseReceived:
		if e.Type == network.ResourceTypeDocument {
			t.mu.Lock()
			if t.firstStatus == nil && e.Response.URL == t.landingURL {
				status := int(e.Response.Status)
				t.firstStatus = &status
			}
			t.mu.Unlock()
		}
	}
}

// redirectChain returns the observed hops plus the final URL. When no
// intermediate hops were seen it falls back to a two-point chain of
// landing and final URL, matching what the rules expect.
func (t *requestTracker) redirectChain(finalURL string) []RedirectHop {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.hops) > 0 {
		chain := make([]RedirectHop, len(t.hops), len(t.hops)+1)
		copy(chain, t.hops)
		okStatus := 200
		chain = append(chain, RedirectHop{URL: finalURL, Status: &okStatus})
		return chain
	}

	chain := []RedirectHop{{URL: t.landingURL, Status: t.firstStatus}}
	if finalURL != t.landingURL {
		okStatus := 200
		chain = append(chain, RedirectHop{URL: finalURL, Status: &okStatus})
	}
	return chain
}

func (t *requestTracker) summary() NetworkSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return summarizeRequests(t.requests)
}

// summarizeRequests folds raw request records into the stored summary.
// Top domains are ordered by request count, ties broken by first
// appearance in the request stream so the output is deterministic.
func summarizeRequests(requests []trackedRequest) NetworkSummary {
	byType := make(map[string]int)
	domainCount := make(map[string]int)
	firstSeen := make(map[string]int)
	for i, r := range requests {
		byType[r.resourceType]++
		if parsed, err := url.Parse(r.url); err == nil && parsed.Hostname() != "" {
			host := parsed.Hostname()
			if _, seen := firstSeen[host]; !seen {
				firstSeen[host] = i
			}
			domainCount[host]++
		}
	}

	domains := make([]string, 0, len(domainCount))
	for d := range domainCount {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool {
		if domainCount[domains[i]] != domainCount[domains[j]] {
			return domainCount[domains[i]] > domainCount[domains[j]]
		}
		return firstSeen[domains[i]] < firstSeen[domains[j]]
	})
	if len(domains) > 10 {
		domains = domains[:10]
	}

	return NetworkSummary{
		TotalRequests: len(requests),
		ByType:        byType,
		TopDomains:    domains,
	}
}
