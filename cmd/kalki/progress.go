package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

var spinnerFrames = []string{"-", "\\", "|", "/"}

// progress draws a spinner with the elapsed time on stderr. It stays silent when
// stderr is not a terminal, so piped and redirected runs only carry log lines.
type progress struct {
	out   io.Writer
	label string
	start time.Time
	stop  chan struct{}
	wg    sync.WaitGroup
}

func startProgress(label string, enabled bool) *progress {
	p := &progress{out: os.Stderr, label: label, start: time.Now()}
	if !enabled || !term.IsTerminal(int(os.Stderr.Fd())) {
		return p
	}
	p.stop = make(chan struct{})
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *progress) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(120 * time.Millisecond)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-p.stop:
			fmt.Fprint(p.out, "\r\033[K")
			return
		case <-ticker.C:
			elapsed := time.Since(p.start).Round(time.Second)
			fmt.Fprintf(p.out, "\r\033[K%s %s (%s)", spinnerFrames[i%len(spinnerFrames)], p.label, elapsed)
		}
	}
}

// Done stops the spinner and clears its line.
func (p *progress) Done() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	p.wg.Wait()
	p.stop = nil
}
