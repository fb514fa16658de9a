//go:build linux

package drive

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"wipecore/internal/wipeerr"
)

// lsblk JSON shape, grounded on cutedogspark-diskbench's detect_linux.go.
type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Size       string  `json:"size"`
	Model      *string `json:"model"`
	Serial     *string `json:"serial"`
	Tran       *string `json:"tran"`
	Rota       *bool   `json:"rota"`
	MountPoint *string `json:"mountpoint"`
}

// Probe classifies the block device at path into a Drive Descriptor,
// combining lsblk for topology/transport, sysfs for the rotational and
// zoned queue attributes, and smartctl -j for capability and firmware
// detail it doesn't get any other way.
func Probe(path string) (*Descriptor, error) {
	name := filepath.Base(path)

	dev, err := lsblkEntry(name)
	if err != nil {
		return nil, errors.Mark(fmt.Errorf("lsblk lookup for %s: %w", path, err), wipeerr.ErrDeviceUnavailable)
	}

	rotational := readSysfsBool(filepath.Join("/sys/block", name, "queue", "rotational"), true)
	zoned := readSysfsString(filepath.Join("/sys/block", name, "queue", "zoned"))
	logicalSectorSize := readSysfsUint(filepath.Join("/sys/block", name, "queue", "logical_block_size"), 512)
	physicalSectorSize := readSysfsUint(filepath.Join("/sys/block", name, "queue", "physical_block_size"), logicalSectorSize)

	transport := classifyTransport(dev, name)
	zoneModel := classifyZoneModel(zoned)
	isEMMC := strings.HasPrefix(name, "mmcblk")
	mediaClass := ClassifyMedia(transport, rotational, zoneModel, isEMMC)

	model := "unknown"
	if dev.Model != nil {
		model = strings.TrimSpace(*dev.Model)
	}
	serial := ""
	if dev.Serial != nil {
		serial = strings.TrimSpace(*dev.Serial)
	}

	desc := &Descriptor{
		Path:               path,
		Model:              model,
		Serial:             serial,
		Fingerprint:        Fingerprint(model, serial, path),
		Transport:          transport,
		MediaClass:         mediaClass,
		SizeBytes:          parseLsblkSize(dev.Size),
		LogicalSectorSize:  uint32(logicalSectorSize),
		PhysicalSectorSize: uint32(physicalSectorSize),
		Capabilities: Capabilities{
			ZoneModel:              zoneModel,
			PreferredBufferAligned: true,
		},
	}

	if dev.MountPoint != nil && *dev.MountPoint != "" {
		desc.MountPoints = append(desc.MountPoints, *dev.MountPoint)
	}
	desc.IsSystemDisk = isSystemDisk(desc)

	enrichFromSmartctl(desc)

	return desc, nil
}

// List enumerates every disk-type block device lsblk reports and probes
// each one, skipping devices that fail to probe rather than aborting the
// whole listing.
func List() ([]*Descriptor, error) {
	out, err := exec.Command("lsblk", "-J", "-o", "NAME,TYPE,SIZE,MODEL,SERIAL,TRAN,ROTA,MOUNTPOINT").Output()
	if err != nil {
		return nil, fmt.Errorf("run lsblk: %w", err)
	}
	var parsed lsblkOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parse lsblk output: %w", err)
	}

	var descriptors []*Descriptor
	for _, dev := range parsed.BlockDevices {
		if dev.Type != "disk" {
			continue
		}
		desc, err := Probe("/dev/" + dev.Name)
		if err != nil {
			continue
		}
		descriptors = append(descriptors, desc)
	}
	return descriptors, nil
}

func lsblkEntry(name string) (lsblkDevice, error) {
	out, err := exec.Command("lsblk", "-J", "-o", "NAME,TYPE,SIZE,MODEL,SERIAL,TRAN,ROTA,MOUNTPOINT").Output()
	if err != nil {
		return lsblkDevice{}, err
	}
	var parsed lsblkOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return lsblkDevice{}, fmt.Errorf("parse lsblk output: %w", err)
	}
	for _, dev := range parsed.BlockDevices {
		if dev.Name == name && dev.Type == "disk" {
			return dev, nil
		}
	}
	return lsblkDevice{}, fmt.Errorf("device %s not found in lsblk output", name)
}

func classifyTransport(dev lsblkDevice, name string) Transport {
	tran := ""
	if dev.Tran != nil {
		tran = strings.ToLower(*dev.Tran)
	}
	switch {
	case tran == "nvme" || strings.HasPrefix(name, "nvme"):
		return TransportNVMe
	case tran == "usb":
		return TransportUSB
	case tran == "sata":
		return TransportSATA
	case tran == "ata":
		return TransportATA
	case tran == "sas":
		return TransportSAS
	case strings.HasPrefix(name, "mmcblk"):
		return TransportMMC
	case tran == "scsi":
		return TransportSCSI
	default:
		return TransportUnknown
	}
}

func classifyZoneModel(zoned string) SMRZoneModel {
	switch zoned {
	case "host-aware":
		return SMRHostAware
	case "host-managed":
		return SMRHostManaged
	default:
		return SMRNone
	}
}

// isSystemDisk reports whether any mount point under desc.MountPoints (or
// discoverable through /proc/mounts for its partitions) is the root
// filesystem, used by the orchestrator's policy guard (spec §5, Non-goal
// carve-out: the engine must still refuse to silently destroy the disk
// it's running from).
func isSystemDisk(desc *Descriptor) bool {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}
	name := filepath.Base(desc.Path)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[1] != "/" {
			continue
		}
		if strings.HasPrefix(filepath.Base(fields[0]), name) {
			return true
		}
	}
	return false
}

// enrichFromSmartctl fills capability/firmware fields that sysfs and lsblk
// don't expose, by shelling to smartctl -a -j and parsing its JSON (the
// pattern every health-reporting tool in the retrieval pack uses in place
// of hand-rolled ATA/NVMe log parsing).
func enrichFromSmartctl(desc *Descriptor) {
	out, err := exec.Command("smartctl", "-a", "-j", desc.Path).Output()
	if len(out) == 0 {
		_ = err
		return
	}
	var data map[string]interface{}
	if json.Unmarshal(out, &data) != nil {
		return
	}

	if fw, ok := data["firmware_version"].(string); ok {
		desc.Firmware = fw
	}
	if rpm, ok := data["rotation_rate"].(float64); ok {
		desc.RotationRateRPM = int(rpm)
	}

	if caps, ok := data["ata_security"].(map[string]interface{}); ok {
		if _, frozen := caps["frozen"]; frozen {
			desc.Capabilities.FreezeLockCapable = true
		}
	}
	if sanitize, ok := data["ata_sanitize"].(map[string]interface{}); ok {
		if v, ok := sanitize["block_erase_supported"].(bool); ok {
			desc.Capabilities.SupportsSanitizeBlock = v
		}
		if v, ok := sanitize["crypto_scramble_supported"].(bool); ok {
			desc.Capabilities.SupportsCryptoErase = v
		}
	}
	if trim, ok := data["trim"].(map[string]interface{}); ok {
		if v, ok := trim["supported"].(bool); ok {
			desc.Capabilities.SupportsTrim = v
		}
	}
	if _, ok := data["ata_security"]; ok {
		desc.Capabilities.SupportsSecurityErase = true
	}
}

func readSysfsBool(path string, def bool) bool {
	s := readSysfsString(path)
	if s == "" {
		return def
	}
	return s == "1"
}

func readSysfsUint(path string, def uint64) uint64 {
	s := readSysfsString(path)
	if s == "" {
		return def
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func readSysfsString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func parseLsblkSize(s string) uint64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	mult := uint64(1)
	unit := s[len(s)-1]
	numPart := s
	switch unit {
	case 'K', 'k':
		mult = 1 << 10
		numPart = s[:len(s)-1]
	case 'M', 'm':
		mult = 1 << 20
		numPart = s[:len(s)-1]
	case 'G', 'g':
		mult = 1 << 30
		numPart = s[:len(s)-1]
	case 'T', 't':
		mult = 1 << 40
		numPart = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0
	}
	return uint64(f * float64(mult))
}
