package loadtest

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

// Collector aggregates results from many clients. All methods are
// goroutine-safe.
type Collector struct {
	mu               sync.Mutex
	connectLatencies []time.Duration
	echoLatencies    []time.Duration
	connections      int
	sent             int
	delivered        int
	rateLimited      int
	errors           int
	startTime        time.Time
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// AddConnect records a successful connection.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connectLatencies = append(c.connectLatencies, d)
	c.connections++
	c.mu.Unlock()
}

// AddSent counts one message sent.
func (c *Collector) AddSent() {
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
}

// AddEcho records the time between sending a message and receiving its
// broadcast back.
func (c *Collector) AddEcho(d time.Duration) {
	c.mu.Lock()
	c.echoLatencies = append(c.echoLatencies, d)
	c.mu.Unlock()
}

// AddDelivered counts one bench message received by any client.
func (c *Collector) AddDelivered() {
	c.mu.Lock()
	c.delivered++
	c.mu.Unlock()
}

// AddRateLimited counts one rate_limited event.
func (c *Collector) AddRateLimited() {
	c.mu.Lock()
	c.rateLimited++
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// Summary is a point-in-time copy of the counters.
type Summary struct {
	Connections int
	Sent        int
	Delivered   int
	RateLimited int
	Errors      int
	Echoes      int
}

// Summary returns the current counters.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Summary{
		Connections: c.connections,
		Sent:        c.sent,
		Delivered:   c.delivered,
		RateLimited: c.rateLimited,
		Errors:      c.errors,
		Echoes:      len(c.echoLatencies),
	}
}

// Report writes a summary table and latency percentiles to w.
func (c *Collector) Report(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(w, color.Bold.Sprint("\n=== Bench Results ==="))

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.Append([]string{"Duration", time.Since(c.startTime).Round(time.Millisecond).String()})
	table.Append([]string{"Connections", fmt.Sprint(c.connections)})
	table.Append([]string{"Messages sent", fmt.Sprint(c.sent)})
	table.Append([]string{"Messages delivered", fmt.Sprint(c.delivered)})
	table.Append([]string{"Rate limited", fmt.Sprint(c.rateLimited)})
	table.Append([]string{"Errors", errorCell(c.errors)})
	table.Render()

	lat := tablewriter.NewWriter(w)
	lat.SetHeader([]string{"Latency", "avg", "p50", "p95", "p99", "max", "n"})
	if row := percentiles("connect", c.connectLatencies); row != nil {
		lat.Append(row)
	}
	if row := percentiles("echo", c.echoLatencies); row != nil {
		lat.Append(row)
	}
	lat.Render()
}

func errorCell(n int) string {
	if n == 0 {
		return color.Green.Sprint(n)
	}
	return color.Red.Sprint(n)
}

// percentiles sorts durations in place and returns a table row, or nil when
// there are no samples.
func percentiles(label string, durations []time.Duration) []string {
	n := len(durations)
	if n == 0 {
		return nil
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	at := func(q float64) time.Duration {
		return durations[int(math.Ceil(float64(n)*q))-1]
	}
	round := func(d time.Duration) string { return d.Round(time.Microsecond).String() }

	return []string{
		label,
		round(sum / time.Duration(n)),
		round(durations[n/2]),
		round(at(0.95)),
		round(at(0.99)),
		round(durations[n-1]),
		fmt.Sprint(n),
	}
}
