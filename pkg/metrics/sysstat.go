package metrics

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// systemSampler reads host cpu, memory, and load from procfs. On hosts
// without /proc the readings are zero; callers treat that as unknown.
type systemSampler struct {
	mu        sync.Mutex
	lastBusy  uint64
	lastTotal uint64
}

func newSystemSampler() *systemSampler {
	return &systemSampler{}
}

// sample returns (cpuPct, memPct, load1).
func (s *systemSampler) sample() (float64, float64, float64) {
	return s.cpuPct(), memPct(), load1()
}

// cpuPct computes utilization from the delta of /proc/stat aggregate
// counters since the previous call. The first call returns 0.
func (s *systemSampler) cpuPct() float64 {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0
	}

	var total, idle uint64
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return 0
		}
		total += v
		// idle + iowait
		if i == 3 || i == 4 {
			idle += v
		}
	}
	busy := total - idle

	s.mu.Lock()
	prevBusy, prevTotal := s.lastBusy, s.lastTotal
	s.lastBusy, s.lastTotal = busy, total
	s.mu.Unlock()

	if prevTotal == 0 || total <= prevTotal {
		return 0
	}
	return 100 * float64(busy-prevBusy) / float64(total-prevTotal)
}

func memPct() float64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	var total, available float64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
	}
	if total == 0 {
		return 0
	}
	return 100 * (total - available) / total
}

func load1() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return v
}
