// Package helpers holds host-level utilities used around camera capture.
package helpers

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// Device holders
// =============================================================================
// A stale ffmpeg or another viewer can keep /dev/videoN busy and make the
// next open fail. Before opening a device:
//   1. lsof -t lists holder PIDs, fuser -v is the fallback
//   2. our own PID is excluded
//   3. SIGTERM, grace period, SIGKILL for survivors
// =============================================================================

// DefaultGrace is the wait between SIGTERM and SIGKILL.
const DefaultGrace = 400 * time.Millisecond

// KillDeviceHolders terminates processes holding devicePath and reports
// whether any were signalled. It does nothing when enabled is false.
func KillDeviceHolders(devicePath string, enabled bool, logger *zap.Logger) bool {
	return KillDeviceHoldersWithGrace(devicePath, enabled, DefaultGrace, logger)
}

// KillDeviceHoldersWithGrace is KillDeviceHolders with a custom grace
// period.
func KillDeviceHoldersWithGrace(devicePath string, enabled bool, grace time.Duration, logger *zap.Logger) bool {
	if !enabled {
		return false
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("device", devicePath))

	pids := parsePIDLines(runCmd("lsof", "-t", devicePath))
	if len(pids) == 0 {
		pids = parsePIDWords(runCmd("fuser", "-v", devicePath))
	}
	delete(pids, os.Getpid())
	if len(pids) == 0 {
		return false
	}

	logger.Warn("killing device holders", zap.Ints("pids", sortedKeys(pids)))

	for pid := range pids {
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			if isPermissionError(err) {
				runCmd("sudo", "-n", "fuser", "-k", devicePath)
				break
			}
			logger.Debug("SIGTERM failed", zap.Int("pid", pid), zap.Error(err))
		}
	}

	time.Sleep(grace)

	for pid := range pids {
		if !isPIDAlive(pid) {
			continue
		}
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			if isPermissionError(err) {
				runCmd("sudo", "-n", "fuser", "-k", devicePath)
			} else {
				logger.Debug("SIGKILL failed", zap.Int("pid", pid), zap.Error(err))
			}
		}
	}
	return true
}

// parsePIDLines reads one PID per line, the lsof -t format.
func parsePIDLines(out string) map[int]struct{} {
	pids := make(map[int]struct{})
	for _, line := range strings.Split(out, "\n") {
		if pid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil && pid > 0 {
			pids[pid] = struct{}{}
		}
	}
	return pids
}

var digitRegexp = regexp.MustCompile(`\b(\d+)\b`)

// parsePIDWords picks every standalone number, the fuser -v format.
func parsePIDWords(out string) map[int]struct{} {
	pids := make(map[int]struct{})
	for _, match := range digitRegexp.FindAllString(out, -1) {
		if pid, err := strconv.Atoi(match); err == nil && pid > 0 {
			pids[pid] = struct{}{}
		}
	}
	return pids
}

func isPIDAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// runCmd runs a command with a 2 second timeout and returns its trimmed
// stdout, or "" on any failure.
func runCmd(name string, args ...string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func isPermissionError(err error) bool {
	return errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.EACCES)
}

func sortedKeys(m map[int]struct{}) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
