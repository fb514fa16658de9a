// Package freeze implements the Freeze Manager component (spec §4.3,
// C3): detecting an ATA security-frozen drive and running unfreeze
// strategies in increasing order of system-wide risk until one succeeds
// or all are exhausted.
//
// Grounded on the Rust original's drives/freeze module (detection.rs for
// FreezeReason, strategies/*.rs for the per-strategy name/description/
// risk_level/estimated_duration/is_compatible_with shape) — SataLinkReset,
// UsbSuspend, KernelModule/VendorSpecific, PcieHotReset, AcpiSleep and
// IpmiPower, ordered here exactly as their risk_level fields there order
// them (2, 3, 5, 7, 9, 10).
package freeze

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"wipecore/internal/wipeerr"
)

// State is the Freeze Manager's state machine (spec §4.3/§8): a drive
// starts Unknown, a probe moves it to Frozen or Unfrozen, and a Frozen
// drive either yields to a strategy (Unfrozen) or exhausts every
// compatible strategy (PermanentlyFrozen).
type State string

const (
	StateUnknown            State = "unknown"
	StateFrozen             State = "frozen"
	StateUnfrozen           State = "unfrozen"
	StatePermanentlyFrozen  State = "permanently_frozen"
)

// Reason is why a drive entered the security-frozen state, which narrows
// which strategies are worth attempting.
type Reason string

const (
	ReasonBIOSSetFrozen      Reason = "bios_set_frozen"
	ReasonControllerPolicy   Reason = "controller_policy"
	ReasonRAIDController     Reason = "raid_controller"
	ReasonOSSecurity         Reason = "os_security"
	ReasonUnknown            Reason = "unknown"
)

// Result is what a strategy reports after attempting an unfreeze.
type Result struct {
	Success bool
	Message string
	Warning string
}

// Strategy is one way to clear a drive's security-frozen state.
type Strategy interface {
	Name() string
	Description() string
	RiskLevel() uint8 // 0 (safest) - 10 (reboots or power-cycles the system)
	EstimatedDuration() time.Duration
	CompatibleWith(reason Reason) bool
	Available() bool
	Execute(devicePath string, reason Reason) (Result, error)
}

// DefaultStrategies returns every strategy ordered from least to most
// disruptive, the order the Manager tries them in.
func DefaultStrategies() []Strategy {
	return []Strategy{
		&sataLinkReset{},
		&usbSuspend{},
		&kernelModuleReset{},
		&pcieHotReset{},
		&acpiSleep{},
		&ipmiPower{},
	}
}

// Manager probes and clears frozen drives.
type Manager struct {
	strategies []Strategy
}

// New constructs a Manager using the default strategy ladder, or the
// supplied strategies when non-empty (used by tests to inject fakes).
func New(strategies ...Strategy) *Manager {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Manager{strategies: strategies}
}

// Detect classifies the drive's freeze state by reading the ATA security
// status surfaced by smartctl's JSON output (the device package owns the
// raw IDENTIFY path; this probe is intentionally cheap since it runs
// before every destructive command).
func Detect(devicePath string) (State, Reason, error) {
	out, err := exec.Command("smartctl", "-a", "-j", devicePath).Output()
	if len(out) == 0 {
		return StateUnknown, ReasonUnknown, fmt.Errorf("probe freeze state: %w", err)
	}

	frozen, reason := parseFreezeStatus(out)
	if frozen {
		return StateFrozen, reason, nil
	}
	return StateUnfrozen, ReasonUnknown, nil
}

// probeFreeze resolves a device's freeze state; a package var so tests can
// substitute a fake probe instead of shelling out to smartctl.
var probeFreeze = Detect

// Unfreeze runs every compatible, available strategy in risk order until
// one reports success and a fresh Detect confirms the freeze bit actually
// cleared — a strategy's self-reported success is never trusted on its own
// (spec §4.3: "do not trust the strategy's self-reported success"). It
// returns wipeerr.ErrFrozen if every strategy is exhausted or none confirms,
// matching the PermanentlyFrozen terminal state.
func (m *Manager) Unfreeze(devicePath string, reason Reason) (State, Result, error) {
	var lastResult Result
	attempted := false

	for _, s := range m.strategies {
		if !s.CompatibleWith(reason) || !s.Available() {
			continue
		}
		attempted = true

		res, err := s.Execute(devicePath, reason)
		if err != nil {
			lastResult = Result{Success: false, Message: err.Error()}
			continue
		}
		if !res.Success {
			lastResult = res
			continue
		}

		confirmedState, _, derr := probeFreeze(devicePath)
		if derr == nil && confirmedState == StateUnfrozen {
			return StateUnfrozen, res, nil
		}
		lastResult = Result{
			Success: false,
			Message: fmt.Sprintf("%s reported success but re-probe still shows the drive frozen", s.Name()),
		}
	}

	if !attempted {
		return StatePermanentlyFrozen, lastResult, errors.Mark(
			fmt.Errorf("no unfreeze strategy available for reason %s", reason), wipeerr.ErrFrozen)
	}
	return StatePermanentlyFrozen, lastResult, errors.Mark(
		fmt.Errorf("all unfreeze strategies exhausted: %s", lastResult.Message), wipeerr.ErrFrozen)
}

func parseFreezeStatus(smartctlJSON []byte) (bool, Reason) {
	// smartctl's ata_security block carries a "frozen" boolean; its
	// presence alone (without a definitive BIOS/controller attribution)
	// is classified Unknown and left to the strategy ladder's
	// CompatibleWith(ReasonUnknown) catch-alls.
	if containsKey(smartctlJSON, `"frozen":true`) || containsKey(smartctlJSON, `"frozen": true`) {
		return true, ReasonUnknown
	}
	return false, ReasonUnknown
}

func containsKey(data []byte, needle string) bool {
	return indexOf(string(data), needle) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// --- strategies ---

type sataLinkReset struct{}

func (sataLinkReset) Name() string        { return "sata_link_reset" }
func (sataLinkReset) Description() string { return "resets the link by writing the device's SCSI rescan attribute in sysfs" }
func (sataLinkReset) RiskLevel() uint8     { return 2 }
func (sataLinkReset) EstimatedDuration() time.Duration { return 5 * time.Second }
func (sataLinkReset) CompatibleWith(r Reason) bool {
	return r == ReasonBIOSSetFrozen || r == ReasonControllerPolicy || r == ReasonUnknown
}
func (sataLinkReset) Available() bool {
	_, err := os.Stat("/sys/class/ata_port")
	return err == nil
}
func (sataLinkReset) Execute(devicePath string, _ Reason) (Result, error) {
	name := filepath.Base(devicePath)
	hostPath := filepath.Join("/sys/block", name, "device", "scsi_device")
	if _, err := os.Stat(hostPath); err != nil {
		return Result{}, fmt.Errorf("device not found in sysfs: %w", err)
	}

	entries, err := os.ReadDir(hostPath)
	if err != nil {
		return Result{}, fmt.Errorf("read scsi_device entries: %w", err)
	}
	for _, e := range entries {
		rescan := filepath.Join(hostPath, e.Name(), "device", "rescan")
		if _, err := os.Stat(rescan); err == nil {
			_ = os.WriteFile(rescan, []byte("1"), 0o200)
			time.Sleep(2 * time.Second)
		}
	}
	return Result{Success: true, Message: "SATA link reset via SCSI rescan"}, nil
}

type usbSuspend struct{}

func (usbSuspend) Name() string        { return "usb_suspend" }
func (usbSuspend) Description() string { return "power-cycles a USB-attached device through sysfs authorization" }
func (usbSuspend) RiskLevel() uint8     { return 3 }
func (usbSuspend) EstimatedDuration() time.Duration { return 7 * time.Second }
func (usbSuspend) CompatibleWith(Reason) bool { return true }
func (usbSuspend) Available() bool            { return true }
func (usbSuspend) Execute(devicePath string, _ Reason) (Result, error) {
	name := filepath.Base(devicePath)
	sysPath := filepath.Join("/sys/block", name, "device")
	real, err := os.Readlink(sysPath)
	if err != nil {
		return Result{}, fmt.Errorf("not a USB device: %w", err)
	}
	if indexOf(real, "usb") < 0 {
		return Result{}, fmt.Errorf("device %s is not USB-attached", devicePath)
	}

	dir := sysPath
	var authPath string
	for {
		parent := filepath.Dir(dir)
		if parent == dir || parent == "/" {
			break
		}
		candidate := filepath.Join(parent, "authorized")
		if _, err := os.Stat(candidate); err == nil {
			authPath = candidate
			break
		}
		dir = parent
	}
	if authPath == "" {
		return Result{}, fmt.Errorf("no authorized control file found for %s", devicePath)
	}

	_ = os.WriteFile(authPath, []byte("0"), 0o200)
	time.Sleep(2 * time.Second)
	_ = os.WriteFile(authPath, []byte("1"), 0o200)
	time.Sleep(5 * time.Second)

	return Result{Success: true, Message: "USB power cycle completed"}, nil
}

type kernelModuleReset struct{}

func (kernelModuleReset) Name() string        { return "kernel_module_reload" }
func (kernelModuleReset) Description() string { return "sends a udev change event for the device (udevadm trigger); the driver is not unbound or reloaded" }
func (kernelModuleReset) RiskLevel() uint8     { return 5 }
func (kernelModuleReset) EstimatedDuration() time.Duration { return 10 * time.Second }
func (kernelModuleReset) CompatibleWith(r Reason) bool {
	return r == ReasonControllerPolicy || r == ReasonUnknown
}
func (kernelModuleReset) Available() bool {
	_, err := exec.LookPath("udevadm")
	return err == nil
}
func (kernelModuleReset) Execute(devicePath string, _ Reason) (Result, error) {
	if err := exec.Command("udevadm", "trigger", "--action=change", devicePath).Run(); err != nil {
		return Result{}, fmt.Errorf("udevadm trigger failed: %w", err)
	}
	time.Sleep(3 * time.Second)
	return Result{Success: true, Message: "udev change event triggered via udevadm"}, nil
}

type pcieHotReset struct{}

func (pcieHotReset) Name() string        { return "pcie_hot_reset" }
func (pcieHotReset) Description() string { return "removes and rescans the storage controller's PCI device" }
func (pcieHotReset) RiskLevel() uint8     { return 7 }
func (pcieHotReset) EstimatedDuration() time.Duration { return 10 * time.Second }
func (pcieHotReset) CompatibleWith(r Reason) bool {
	return r == ReasonControllerPolicy || r == ReasonBIOSSetFrozen || r == ReasonUnknown
}
func (pcieHotReset) Available() bool {
	_, err := os.Stat("/sys/bus/pci/rescan")
	return err == nil
}

// Execute resolves the storage controller's PCI address from the device's
// sysfs path (walking up from /sys/block/<name>/device to the nearest
// ancestor that is itself a symlink into /sys/bus/pci/devices), removes it
// through its "remove" sysfs attribute, then triggers a bus-wide rescan to
// rebind it — clearing any freeze state the controller itself cached.
func (pcieHotReset) Execute(devicePath string, _ Reason) (Result, error) {
	name := filepath.Base(devicePath)
	pciAddr, err := resolvePCIAddress(name)
	if err != nil {
		return Result{}, fmt.Errorf("resolve PCI controller for %s: %w", devicePath, err)
	}

	removePath := filepath.Join("/sys/bus/pci/devices", pciAddr, "remove")
	if err := os.WriteFile(removePath, []byte("1"), 0o200); err != nil {
		return Result{}, fmt.Errorf("remove PCI device %s: %w", pciAddr, err)
	}
	time.Sleep(2 * time.Second)

	if err := os.WriteFile("/sys/bus/pci/rescan", []byte("1"), 0o200); err != nil {
		return Result{}, fmt.Errorf("rescan PCI bus after removing %s: %w", pciAddr, err)
	}
	time.Sleep(3 * time.Second)

	return Result{Success: true, Message: fmt.Sprintf("PCIe hot-reset of %s completed", pciAddr)}, nil
}

// resolvePCIAddress walks up a block device's sysfs device symlink looking
// for the path component that is a bus address under /sys/bus/pci/devices.
func resolvePCIAddress(blockName string) (string, error) {
	real, err := filepath.EvalSymlinks(filepath.Join("/sys/block", blockName, "device"))
	if err != nil {
		return "", err
	}
	for dir := real; dir != "/" && dir != "."; dir = filepath.Dir(dir) {
		candidate := filepath.Base(dir)
		if _, err := os.Stat(filepath.Join("/sys/bus/pci/devices", candidate)); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no PCI ancestor found for %s", blockName)
}

type acpiSleep struct{}

func (acpiSleep) Name() string        { return "acpi_sleep" }
func (acpiSleep) Description() string { return "forces a brief ACPI S3 suspend/resume cycle to clear every controller's frozen latch" }
func (acpiSleep) RiskLevel() uint8     { return 9 }
func (acpiSleep) EstimatedDuration() time.Duration { return 30 * time.Second }
func (acpiSleep) CompatibleWith(Reason) bool { return true }
func (acpiSleep) Available() bool {
	data, err := os.ReadFile("/sys/power/state")
	return err == nil && indexOf(string(data), "mem") >= 0
}
func (acpiSleep) Execute(devicePath string, _ Reason) (Result, error) {
	if err := os.WriteFile("/sys/power/state", []byte("mem"), 0o200); err != nil {
		return Result{}, fmt.Errorf("ACPI S3 suspend failed: %w", err)
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("ACPI suspend/resume cycle completed, clearing frozen state on %s", devicePath),
		Warning: "system-wide suspend/resume was triggered",
	}, nil
}

type ipmiPower struct{}

func (ipmiPower) Name() string        { return "ipmi_power_reset" }
func (ipmiPower) Description() string { return "uses IPMI to warm- or cold-reset the chassis, clearing all hardware freeze state" }
func (ipmiPower) RiskLevel() uint8     { return 10 }
func (ipmiPower) EstimatedDuration() time.Duration { return 2 * time.Minute }
func (ipmiPower) CompatibleWith(Reason) bool { return true }
func (ipmiPower) Available() bool {
	err := exec.Command("ipmitool", "power", "status").Run()
	return err == nil
}
func (ipmiPower) Execute(_ string, _ Reason) (Result, error) {
	if err := exec.Command("ipmitool", "chassis", "power", "reset").Run(); err != nil {
		return Result{}, fmt.Errorf("IPMI warm reset failed: %w", err)
	}
	return Result{Success: true, Message: "IPMI warm reset initiated", Warning: "system was reset"}, nil
}
