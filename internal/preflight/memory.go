package preflight

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MinMemoryBytes is the recommended available memory (1GB).
const MinMemoryBytes = 1 * 1024 * 1024 * 1024

// CheckMemory reports available system memory. The check is advisory:
// the server runs under memory pressure, just slower, so a low reading
// warns instead of failing.
func (c *Checker) CheckMemory() CheckResult {
	result := CheckResult{
		Name:     "memory",
		Required: false,
	}

	available, ok := readAvailableMemory()
	if !ok {
		result.Status = StatusPass
		result.Message = "unable to determine available memory"
		return result
	}

	if available < MinMemoryBytes {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s available (recommended: 1 GB)", formatBytes(available))
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s available (recommended: 1 GB)", formatBytes(available))
	return result
}

// readAvailableMemory parses MemAvailable from /proc/meminfo. Platforms
// without procfs report false and the check passes as indeterminate.
func readAvailableMemory() (uint64, bool) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, false
	}

	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}
