// Package orchestrator wires the ten components into the wipe/verify/
// certify pipeline spec §5 describes, owning the Drive Descriptor and Wipe
// Progress Record for the duration of one operation.
//
// policy.go is grounded on the teacher's SecurityChecks/ShouldSkipDisk
// (internal/security/security.go): the same "exclusion list overrides the
// system-disk guard" precedence is kept, generalized from a Windows drive
// letter to a block device path and from an admin-rights/server-OS gate to
// the spec's confirmation-required gate.
package orchestrator

import (
	"fmt"

	"wipecore/internal/config"
	"wipecore/internal/drive"
)

// ShouldSkipDevice reports whether d must be excluded from a wipe-all run,
// mirroring the teacher's precedence: an explicit exclusion always wins;
// otherwise the system disk is skipped unless the operator has explicitly
// allowed it.
func ShouldSkipDevice(cfg *config.Config, d *drive.Descriptor) bool {
	for _, excluded := range cfg.Security.ExcludedDevices {
		if d.Path == excluded {
			return true
		}
	}
	if d.IsSystemDisk {
		return !cfg.Security.AllowSystemDisk
	}
	return false
}

// RequireConfirmation checks the operator confirmation gate before any
// destructive command is issued against d.
func RequireConfirmation(cfg *config.Config, d *drive.Descriptor, confirmed bool) error {
	if cfg.Security.RequireConfirmation && !confirmed {
		return fmt.Errorf("device %s (%s) requires explicit confirmation before a destructive wipe", d.Path, d.Model)
	}
	return nil
}
