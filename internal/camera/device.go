package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Camera describes a capture device found on the system.
type Camera struct {
	Index      int
	DeviceID   string
	DevicePath string
	Name       string
	Available  bool
}

// DevicePath maps a device index to its V4L2 node.
func DevicePath(index int) string {
	return fmt.Sprintf("/dev/video%d", index)
}

// DiscoverCameras lists /dev/video* character devices ordered by index.
func DiscoverCameras() ([]Camera, error) {
	return discoverIn("/dev")
}

func discoverIn(devDir string) ([]Camera, error) {
	entries, err := os.ReadDir(devDir)
	if err != nil {
		return nil, fmt.Errorf("camera: scan %s: %w", devDir, err)
	}

	var cameras []Camera
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "video") {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(name, "video"))
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Mode()&os.ModeCharDevice == 0 {
			continue
		}
		cameras = append(cameras, Camera{
			Index:      index,
			DeviceID:   name,
			DevicePath: filepath.Join(devDir, name),
			Name:       fmt.Sprintf("Camera %s", name),
			Available:  true,
		})
	}

	sort.Slice(cameras, func(i, j int) bool { return cameras[i].Index < cameras[j].Index })
	return cameras, nil
}
