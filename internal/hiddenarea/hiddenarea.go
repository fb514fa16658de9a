// Package hiddenarea implements the Hidden-Area Manager component (spec
// §4.4, C4): detection and policy-gated handling of HPA (Host Protected
// Area) and DCO (Device Configuration Overlay) regions that would
// otherwise survive a wipe invisibly.
//
// Grounded on the Rust original's HPADCOManager
// (drives/operations/hpa_dco.rs): detect_hpa/detect_dco compare native vs.
// current/real-max sector addresses via hdparm, and remove_hpa_temporary/
// remove_dco shell to hdparm with the same flags this package drives
// through os/exec.
package hiddenarea

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"wipecore/internal/wipeerr"
)

// Policy controls what the manager is permitted to do with a detected
// hidden area (spec §4.4).
type Policy string

const (
	// PolicyIgnore leaves hidden areas untouched; the wipe only covers
	// the currently addressable capacity.
	PolicyIgnore Policy = "ignore"
	// PolicyDetect reports hidden areas in the descriptor but performs
	// no remediation; the operator decides out of band.
	PolicyDetect Policy = "detect"
	// PolicyRemoveTemp exposes HPA for the duration of the wipe and
	// restores it afterward; it never removes DCO, since DCO removal is
	// irreversible and therefore incompatible with "temporary" (spec §9
	// open question, resolved: refuse DCO removal under this policy).
	PolicyRemoveTemp Policy = "remove_temp"
	// PolicyRemovePerm permanently removes both HPA and DCO before the
	// wipe so the full native capacity is overwritten.
	PolicyRemovePerm Policy = "remove_perm"
)

// HPAInfo describes a detected Host Protected Area.
type HPAInfo struct {
	NativeMaxSectors  uint64
	CurrentMaxSectors uint64
	HiddenSectors     uint64
	HiddenBytes       uint64
}

// DCOInfo describes a detected Device Configuration Overlay.
type DCOInfo struct {
	RealMaxSectors uint64
	DCOMaxSectors  uint64
	HiddenSectors  uint64
	HiddenBytes    uint64
}

// State is the combined hidden-area accounting for a drive.
type State struct {
	HPA *HPAInfo
	DCO *DCOInfo
}

// Detect probes for HPA and DCO on devicePath via hdparm -N (HPA) and
// hdparm --dco-identify (DCO), returning whichever are present.
func Detect(devicePath string) (*State, error) {
	state := &State{}

	nativeMax, currentMax, err := hdparmMaxAddress(devicePath)
	if err == nil && nativeMax > currentMax {
		hidden := nativeMax - currentMax
		state.HPA = &HPAInfo{
			NativeMaxSectors:  nativeMax,
			CurrentMaxSectors: currentMax,
			HiddenSectors:     hidden,
			HiddenBytes:       hidden * 512,
		}
	}

	realMax, dcoMax, err := hdparmDCOIdentify(devicePath)
	if err == nil && realMax > dcoMax {
		hidden := realMax - dcoMax
		state.DCO = &DCOInfo{
			RealMaxSectors: realMax,
			DCOMaxSectors:  dcoMax,
			HiddenSectors:  hidden,
			HiddenBytes:    hidden * 512,
		}
	}

	return state, nil
}

// Apply carries out policy on a detected state, returning a restore
// function (no-op unless PolicyRemoveTemp exposed an HPA) the caller must
// invoke on every exit path — success, failure, or interruption — so a
// temporarily-exposed HPA is never left exposed past the wipe (spec §4.4
// cleanup-barrier invariant).
func Apply(devicePath string, state *State, policy Policy) (restore func() error, err error) {
	noop := func() error { return nil }

	switch policy {
	case PolicyIgnore, PolicyDetect:
		return noop, nil

	case PolicyRemoveTemp:
		if state.DCO != nil {
			return noop, errors.Mark(
				fmt.Errorf("hidden area policy %s cannot remove a detected DCO (DCO removal is irreversible)", policy),
				wipeerr.ErrHiddenAreaPolicyViolation)
		}
		if state.HPA == nil {
			return noop, nil
		}
		if err := setMaxAddress(devicePath, state.HPA.NativeMaxSectors); err != nil {
			return noop, fmt.Errorf("expose HPA: %w", err)
		}
		originalMax := state.HPA.CurrentMaxSectors
		return func() error {
			return setMaxAddress(devicePath, originalMax)
		}, nil

	case PolicyRemovePerm:
		if state.HPA != nil {
			if err := setMaxAddress(devicePath, state.HPA.NativeMaxSectors); err != nil {
				return noop, fmt.Errorf("permanently remove HPA: %w", err)
			}
		}
		if state.DCO != nil {
			if err := removeDCO(devicePath); err != nil {
				return noop, fmt.Errorf("permanently remove DCO: %w", err)
			}
		}
		return noop, nil

	default:
		return noop, fmt.Errorf("unknown hidden area policy: %s", policy)
	}
}

// RestoreMaxAddress sets a device's max addressable sector count back to
// sectors. It is the same primitive Apply's PolicyRemoveTemp restore
// closure uses, exported so a resumed wipe can reconcile an exposure that
// crashed before that closure ran, using the pre-expose value persisted in
// the checkpoint record instead of re-deriving it from a fresh Detect.
func RestoreMaxAddress(devicePath string, sectors uint64) error {
	return setMaxAddress(devicePath, sectors)
}

func hdparmMaxAddress(devicePath string) (nativeMax, currentMax uint64, err error) {
	out, err := exec.Command("hdparm", "-N", devicePath).Output()
	if err != nil {
		return 0, 0, fmt.Errorf("hdparm -N: %w", err)
	}
	// hdparm -N prints a line like: max sectors = 123456789/987654321, HPA is enabled
	line := strings.TrimSpace(string(out))
	idx := strings.Index(line, "=")
	if idx < 0 {
		return 0, 0, fmt.Errorf("unrecognized hdparm -N output")
	}
	rest := strings.TrimSpace(line[idx+1:])
	fields := strings.SplitN(rest, "/", 2)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unrecognized hdparm -N output: %s", rest)
	}
	current, err1 := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 64)
	nativeField := strings.Fields(fields[1])
	if len(nativeField) == 0 {
		return 0, 0, fmt.Errorf("unrecognized hdparm -N native field")
	}
	native, err2 := strconv.ParseUint(strings.TrimSuffix(nativeField[0], ","), 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("parse hdparm -N addresses: %v / %v", err1, err2)
	}
	return native, current, nil
}

func hdparmDCOIdentify(devicePath string) (realMax, dcoMax uint64, err error) {
	out, err := exec.Command("hdparm", "--dco-identify", devicePath).Output()
	if err != nil {
		return 0, 0, fmt.Errorf("hdparm --dco-identify: %w", err)
	}
	text := string(out)
	realMax, err1 := extractSectorField(text, "Real max sectors")
	dcoMax, err2 := extractSectorField(text, "DCO max sectors")
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("DCO not reported by hdparm")
	}
	return realMax, dcoMax, nil
}

func extractSectorField(text, label string) (uint64, error) {
	idx := strings.Index(text, label)
	if idx < 0 {
		return 0, fmt.Errorf("field %q not found", label)
	}
	rest := text[idx+len(label):]
	colonIdx := strings.Index(rest, ":")
	if colonIdx >= 0 {
		rest = rest[colonIdx+1:]
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 0, fmt.Errorf("no value after field %q", label)
	}
	return strconv.ParseUint(fields[0], 10, 64)
}

func setMaxAddress(devicePath string, sectors uint64) error {
	out, err := exec.Command("hdparm", "--yes-i-know-what-i-am-doing", "-N",
		strconv.FormatUint(sectors, 10), devicePath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("hdparm -N %d %s: %w: %s", sectors, devicePath, err, string(out))
	}
	return nil
}

func removeDCO(devicePath string) error {
	out, err := exec.Command("hdparm", "--dco-restore", devicePath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("hdparm --dco-restore %s: %w: %s", devicePath, err, string(out))
	}
	return nil
}
