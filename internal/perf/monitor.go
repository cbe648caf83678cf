package perf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidLoadAverage  = errors.New("invalid load average format")
	ErrTemperatureNotFound = errors.New("temperature sensors not found")
)

var defaultThermalZones = []string{
	"class/thermal/thermal_zone0/temp",
	"class/thermal/thermal_zone1/temp",
	"class/thermal/thermal_zone2/temp",
	"devices/virtual/thermal/thermal_zone0/temp",
}

// Sample is one reading of the system state.
type Sample struct {
	Load float64
	// TempC is the mean of the readable thermal zones; valid when HasTemp.
	TempC   float64
	HasTemp bool
	// MemoryPercent is the share of memory in use, 0-100.
	MemoryPercent float64
	At            time.Time
}

// Monitor tracks system performance metrics
type Monitor struct {
	procDir string
	sysDir  string
	zones   []string

	mu   sync.RWMutex
	last Sample
}

// NewMonitor reads from /proc and /sys.
func NewMonitor() *Monitor {
	return newMonitorAt("/proc", "/sys")
}

func newMonitorAt(procDir, sysDir string) *Monitor {
	return &Monitor{procDir: procDir, sysDir: sysDir, zones: defaultThermalZones}
}

// Update takes a new sample. The load average is required; missing
// thermal zones or meminfo leave those fields unset.
func (m *Monitor) Update() (Sample, error) {
	s := Sample{At: time.Now()}

	load, err := m.readLoadAverage()
	if err != nil {
		return s, err
	}
	s.Load = load

	if temp, err := m.readTemperature(); err == nil {
		s.TempC = temp
		s.HasTemp = true
	}
	s.MemoryPercent, _ = m.readMemoryUsage()

	m.mu.Lock()
	m.last = s
	m.mu.Unlock()
	return s, nil
}

// Last returns the most recent sample.
func (m *Monitor) Last() Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Monitor) readLoadAverage() (float64, error) {
	data, err := os.ReadFile(filepath.Join(m.procDir, "loadavg"))
	if err != nil {
		return 0, err
	}

	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, ErrInvalidLoadAverage
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidLoadAverage, err)
	}
	return load, nil
}

// readTemperature averages the thermal zones that can be read.
func (m *Monitor) readTemperature() (float64, error) {
	var total float64
	var count int

	for _, zone := range m.zones {
		data, err := os.ReadFile(filepath.Join(m.sysDir, zone))
		if err != nil {
			continue
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			if milli, err := strconv.ParseFloat(v, 64); err == nil {
				// millidegrees Celsius
				total += milli / 1000.0
				count++
			}
		}
	}

	if count == 0 {
		return 0, ErrTemperatureNotFound
	}
	return total / float64(count), nil
}

func (m *Monitor) readMemoryUsage() (float64, error) {
	data, err := os.ReadFile(filepath.Join(m.procDir, "meminfo"))
	if err != nil {
		return 0, err
	}

	var memTotal, memAvailable int64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			memTotal, _ = strconv.ParseInt(fields[1], 10, 64)
		case "MemAvailable:":
			memAvailable, _ = strconv.ParseInt(fields[1], 10, 64)
		}
	}

	if memTotal <= 0 {
		return 0, nil
	}
	return 100.0 * float64(memTotal-memAvailable) / float64(memTotal), nil
}
