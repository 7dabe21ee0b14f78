// Package machine powers the machine off and reports what it did.
package machine

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"
)

type counter struct {
	name string
	fn   func() uint64
}

type Machine struct {
	out       io.Writer
	hostStats bool
	log       *logrus.Entry
	booted    time.Time

	mu       sync.Mutex
	counters []counter
	once     sync.Once
	off      chan struct{}
}

// New returns a running machine that prints its statistics to out when it
// is powered off. With hostStats the host's uptime and memory use are
// reported as well.
func New(out io.Writer, hostStats bool, log *logrus.Logger) *Machine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Machine{
		out:       out,
		hostStats: hostStats,
		log:       log.WithField("component", "machine"),
		booted:    time.Now(),
		off:       make(chan struct{}),
	}
}

// AddCounter registers a statistic printed at power off.
func (m *Machine) AddCounter(name string, fn func() uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, counter{name, fn})
}

// PowerOff prints the statistics and marks the machine off. Only the first
// call has any effect.
func (m *Machine) PowerOff() {
	m.once.Do(func() {
		m.printStats()
		fmt.Fprintln(m.out, "Powering off...")
		m.log.Debug("powered off")
		close(m.off)
	})
}

// Off is closed once the machine has been powered off.
func (m *Machine) Off() <-chan struct{} {
	return m.off
}

func (m *Machine) printStats() {
	fmt.Fprintf(m.out, "Uptime: %v\n", time.Since(m.booted).Round(time.Millisecond))
	m.mu.Lock()
	for _, c := range m.counters {
		fmt.Fprintf(m.out, "%s: %d\n", c.name, c.fn())
	}
	m.mu.Unlock()
	if !m.hostStats {
		return
	}
	uptime, err := host.Uptime()
	if err != nil {
		m.log.WithError(err).Warn("host uptime")
		return
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		m.log.WithError(err).Warn("host memory")
		return
	}
	fmt.Fprintf(m.out, "Host: up %ds, %d of %d bytes used (%.1f%%)\n", uptime, vm.Used, vm.Total, vm.UsedPercent)
}
