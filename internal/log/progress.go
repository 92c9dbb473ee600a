package log

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Progress renders a single-line progress bar for a fixed number of steps.
// It is safe for concurrent use; workers call Step as items complete.
type Progress struct {
	mu      sync.Mutex
	out     io.Writer
	name    string
	total   int
	current int
	failed  int
	start   time.Time
	now     func() time.Time
	render  bool
}

// NewProgress creates a reporter. When render is false nothing is drawn until
// Finish, which keeps piped output clean.
func NewProgress(out io.Writer, name string, total int, render bool) *Progress {
	return &Progress{
		out:    out,
		name:   name,
		total:  total,
		start:  time.Now(),
		now:    time.Now,
		render: render,
	}
}

// Step records one completed item, counted as failed when ok is false.
func (p *Progress) Step(label string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	if !ok {
		p.failed++
	}
	if p.render {
		fmt.Fprint(p.out, p.line(label))
	}
}

// Finish prints the summary line.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := p.now().Sub(p.start).Round(time.Millisecond)
	prefix := ""
	if p.render {
		prefix = "\r\033[K"
	}
	if p.failed > 0 {
		fmt.Fprintf(p.out, "%s%s: %d/%d failed (%v)\n", prefix, p.name, p.failed, p.total, elapsed)
		return
	}
	fmt.Fprintf(p.out, "%s%s: %d ok (%v)\n", prefix, p.name, p.current, elapsed)
}

func (p *Progress) line(label string) string {
	var b strings.Builder
	b.WriteString("\r\033[K")
	b.WriteString(p.name)

	if p.total > 0 {
		const width = 20
		filled := width * p.current / p.total
		b.WriteString(" [")
		b.WriteString(strings.Repeat("#", filled))
		b.WriteString(strings.Repeat(".", width-filled))
		fmt.Fprintf(&b, "] %d/%d", p.current, p.total)

		if p.current > 0 && p.current < p.total {
			per := p.now().Sub(p.start) / time.Duration(p.current)
			eta := per * time.Duration(p.total-p.current)
			fmt.Fprintf(&b, " ETA %v", eta.Round(time.Second))
		}
	}
	if label != "" {
		b.WriteString(" ")
		b.WriteString(label)
	}
	return b.String()
}
