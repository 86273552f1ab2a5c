// Package oast correlates out-of-band interactions with the probes that caused them.
// A Session hosts the callback domain on interactsh; the Tracker it embeds can be used
// on its own with any source of interactions.
package oast

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/projectdiscovery/interactsh/pkg/client"
	"github.com/projectdiscovery/interactsh/pkg/server"

	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/logger"
	"github.com/roomkangali/kalki/internal/scanner"
)

// PollInterval is how often interactsh is asked for new interactions.
const PollInterval = 5 * time.Second

// Interaction is one callback received by the OAST server.
type Interaction struct {
	FullID        string
	Protocol      string
	RemoteAddress string
}

type registration struct {
	probe    scanner.OOBProbe
	id       string
	callback string
}

// Tracker hands out correlation IDs and matches interactions against them.
// It is safe for concurrent use.
type Tracker struct {
	domain string

	mu           sync.Mutex
	probes       []registration
	interactions []Interaction
}

// NewTracker returns a tracker issuing callbacks under domain.
func NewTracker(domain string) *Tracker {
	return &Tracker{domain: strings.TrimSuffix(domain, ".")}
}

// Domain returns the callback domain.
func (t *Tracker) Domain() string { return t.domain }

// Register records probe and returns the URL it should carry.
func (t *Tracker) Register(probe scanner.OOBProbe) string {
	id := strings.ToLower(scanner.Marker("kalki"))
	callback := fmt.Sprintf("http://%s.%s/", id, t.domain)
	t.mu.Lock()
	t.probes = append(t.probes, registration{probe: probe, id: id, callback: callback})
	t.mu.Unlock()
	return callback
}

// Observe records an interaction.
func (t *Tracker) Observe(i Interaction) {
	t.mu.Lock()
	t.interactions = append(t.interactions, i)
	t.mu.Unlock()
}

// Registered returns how many probes were handed a callback.
func (t *Tracker) Registered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.probes)
}

// Findings returns one finding per probe that received at least one interaction,
// ordered by location and parameter.
func (t *Tracker) Findings() []finding.Finding {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []finding.Finding
	for _, reg := range t.probes {
		var hits []Interaction
		for _, i := range t.interactions {
			if strings.Contains(strings.ToLower(i.FullID), reg.id) {
				hits = append(hits, i)
			}
		}
		if len(hits) == 0 {
			continue
		}
		first := hits[0]
		evidence := fmt.Sprintf("%d out-of-band interaction(s); first %s from %s for %s",
			len(hits), strings.ToUpper(first.Protocol), first.RemoteAddress, first.FullID)
		out = append(out, finding.New(reg.probe.Category, reg.probe.Technique, reg.probe.Location, reg.probe.Parameter, reg.callback, evidence))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].Parameter < out[j].Parameter
	})
	return out
}

// Session is a Tracker fed by an interactsh client.
type Session struct {
	*Tracker
	client *client.Client
	log    *logger.Logger
}

// Start registers with the default interactsh servers and begins polling.
func Start(log *logger.Logger) (*Session, error) {
	c, err := client.New(client.DefaultOptions)
	if err != nil {
		return nil, fmt.Errorf("could not create interactsh client: %w", err)
	}
	s := &Session{Tracker: NewTracker(c.URL()), client: c, log: log}
	log.Info("OAST domain for this session: %s", s.Domain())
	c.StartPolling(PollInterval, func(interaction *server.Interaction) {
		log.Debug("OAST: %s interaction from %s (%s)", interaction.Protocol, interaction.RemoteAddress, interaction.FullId)
		s.Observe(Interaction{
			FullID:        interaction.FullId,
			Protocol:      interaction.Protocol,
			RemoteAddress: interaction.RemoteAddress,
		})
	})
	return s, nil
}

// Collect waits up to wait for late interactions, stops polling and returns the
// correlated findings. It returns early when ctx is done.
func (s *Session) Collect(ctx context.Context, wait time.Duration) []finding.Finding {
	if s.Registered() > 0 && wait > 0 {
		s.log.Info("Waiting for final OAST interactions (%s)...", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		timer.Stop()
	}
	s.client.StopPolling()
	findings := s.Findings()
	if len(findings) == 0 {
		s.log.Info("No OAST interactions detected.")
	}
	return findings
}

// Close deregisters from the interactsh server.
func (s *Session) Close() {
	if err := s.client.Close(); err != nil {
		s.log.Debug("OAST: close: %v", err)
	}
}
