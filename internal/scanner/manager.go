package scanner

import (
	"context"
	"sync"

	"github.com/roomkangali/kalki/internal/crawler"
	"github.com/roomkangali/kalki/internal/httpclient"
	"github.com/roomkangali/kalki/internal/logger"
)

// Manager orchestrates the execution of multiple scanners.
// It manages a collection of registered scanners and runs them against a set of requests.
type Manager struct {
	scanners   []Scanner
	httpClient *httpclient.Client
	logger     *logger.Logger
	options    ScannerOptions
}

// NewManager creates a new scanner manager.
func NewManager(client *httpclient.Client, log *logger.Logger, opts ScannerOptions) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		httpClient: client,
		logger:     log,
		options:    opts,
	}
}

// RegisterScanner adds a scanner to the manager. Scanners run in registration order.
func (m *Manager) RegisterScanner(s Scanner) {
	m.scanners = append(m.scanners, s)
	m.logger.Debug("ScannerManager: Registered scanner: %s", s.Name())
}

// Scanners returns the registered scanners.
func (m *Manager) Scanners() []Scanner {
	return m.scanners
}

// RunScans executes all registered scanners against requests on a pool of workers.
// The merged result is ordered by request index, then scanner registration order,
// then emission order, regardless of completion order. When ctx is done, requests
// not yet started are skipped and the partial result is returned with ctx.Err().
func (m *Manager) RunScans(ctx context.Context, requests []crawler.ParameterizedRequest) (Result, error) {
	if len(m.scanners) == 0 || len(requests) == 0 {
		return Result{}, ctx.Err()
	}

	m.logger.Info("ScannerManager: Starting vulnerability scanning on %d requests...", len(requests))

	perRequest := make([][]Result, len(requests))
	jobs := make(chan int)
	numWorkers := m.options.limit()
	if numWorkers > len(requests) {
		numWorkers = len(requests)
	}

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				perRequest[i] = m.scanRequest(ctx, requests[i])
			}
		}()
	}

dispatch:
	for i := range requests {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	var out Result
	for _, results := range perRequest {
		for _, r := range results {
			out.Merge(r)
		}
	}
	for _, p := range out.Points {
		m.options.Metrics.ObservePoint(p.Scanner, p.Verdict)
	}
	m.logger.Info("ScannerManager: All scanning workers finished. Found %d total potential vulnerabilities.", len(out.Findings))
	return out, ctx.Err()
}

func (m *Manager) scanRequest(ctx context.Context, req crawler.ParameterizedRequest) []Result {
	results := make([]Result, 0, len(m.scanners))
	for _, s := range m.scanners {
		if ctx.Err() != nil {
			break
		}
		res, err := s.Scan(ctx, req, m.httpClient, m.logger, m.options)
		if err != nil {
			m.logger.Error("Scanner %s failed for %s: %v", s.Name(), req.URL, err)
		}
		for _, f := range res.Findings {
			m.logger.Success("%s", f)
		}
		results = append(results, res)
	}
	return results
}
