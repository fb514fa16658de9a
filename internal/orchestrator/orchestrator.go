package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/cockroachdb/errors"
	multierror "github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"wipecore/internal/certificate"
	"wipecore/internal/checkpoint"
	"wipecore/internal/config"
	"wipecore/internal/device"
	"wipecore/internal/drive"
	"wipecore/internal/freeze"
	"wipecore/internal/hiddenarea"
	"wipecore/internal/ioengine"
	"wipecore/internal/pattern"
	"wipecore/internal/recovery"
	"wipecore/internal/rng"
	"wipecore/internal/verify"
	"wipecore/internal/wipeerr"
)

// ProgressEvent is emitted on a channel supplied by the caller so a CLI or
// any other front end can render progress without the orchestrator
// depending on how progress is displayed.
type ProgressEvent struct {
	DevicePath   string
	Pass         int
	TotalPasses  int
	BytesWritten uint64
	TotalBytes   uint64
	Message      string
}

// Result is what one wipe operation produces: either a certificate on
// success, or a diagnostic explaining why none was issued (spec §4.10/§8:
// never a certificate with a disguised failure status).
type Result struct {
	Certificate *certificate.Certificate
	Report      *verify.Report
	Diagnostic  string
	Err         error
}

// Orchestrator owns one wipe operation end to end: drive classification,
// freeze/hidden-area preflight, the overwrite passes, checkpointing,
// verification, and certificate issuance.
type Orchestrator struct {
	cfg      *config.Config
	logger   *zap.Logger
	checkpoints *checkpoint.Store
	freezeMgr   *freeze.Manager
	oracle      verify.RecoveryOracle
	signer      certificate.Signer
	events      chan<- ProgressEvent
}

// New constructs an Orchestrator. events may be nil if the caller doesn't
// want progress notifications.
func New(cfg *config.Config, logger *zap.Logger, checkpoints *checkpoint.Store, oracle verify.RecoveryOracle, signer certificate.Signer, events chan<- ProgressEvent) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		logger:      logger,
		checkpoints: checkpoints,
		freezeMgr:   freeze.New(),
		oracle:      oracle,
		signer:      signer,
		events:      events,
	}
}

func (o *Orchestrator) emit(ev ProgressEvent) {
	if o.events == nil {
		return
	}
	select {
	case o.events <- ev:
	default:
	}
}

// PlanHash derives a stable identifier for an algorithm plan, used to
// validate checkpoint compatibility on resume (spec §4.7).
func PlanHash(algorithm string, passes []pattern.PassSpec) string {
	h := sha256.New()
	h.Write([]byte(algorithm))
	for _, p := range passes {
		fmt.Fprintf(h, "|%d:%s:%x", p.Index, p.Kind, p.Bytes)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Wipe runs one full wipe+verify+certify pipeline against devicePath.
func (o *Orchestrator) Wipe(ctx context.Context, devicePath string, algorithm pattern.Algorithm, level verify.Level, operator certificate.Operator, confirmed bool) Result {
	desc, err := drive.Probe(devicePath)
	if err != nil {
		return Result{Err: err}
	}

	if ShouldSkipDevice(o.cfg, desc) {
		return Result{Err: fmt.Errorf("device %s is excluded by policy", devicePath)}
	}
	if err := RequireConfirmation(o.cfg, desc, confirmed); err != nil {
		return Result{Err: err}
	}

	state, reason, err := freeze.Detect(devicePath)
	if err == nil && state == freeze.StateFrozen {
		if _, _, uerr := o.freezeMgr.Unfreeze(devicePath, reason); uerr != nil {
			return Result{Err: uerr, Diagnostic: "drive remained security-frozen after exhausting all unfreeze strategies"}
		}
	}

	passes, err := pattern.Plan(algorithm)
	if err != nil {
		return Result{Err: err}
	}
	planHash := PlanHash(string(algorithm), passes)

	var rec *checkpoint.Record
	var startPass int
	var startOffset uint64
	if o.checkpoints != nil {
		loaded, rerr := o.checkpoints.LoadForResume(desc.Fingerprint, string(algorithm), planHash)
		if rerr != nil {
			return Result{Err: rerr}
		}
		if loaded != nil {
			rec = loaded
			startPass = rec.CurrentPass
			startOffset = rec.BytesWritten
		}
	}
	if rec == nil && o.checkpoints != nil {
		rec = checkpoint.New(desc.Fingerprint, devicePath, string(algorithm), planHash, len(passes), desc.SizeBytes)
	}

	// Hidden-area handling must reconcile from any checkpoint left by a
	// prior crash before probing fresh: once an HPA has been exposed,
	// Detect sees native == current and reports no HPA at all, so a naive
	// re-Detect+Apply would treat an already-exposed area as if it had
	// never been touched and lose the original CurrentMaxSectors needed
	// to restore it (spec §4.4 crash-resume reconciliation).
	policy := hiddenarea.Policy(o.cfg.Wipe.HiddenAreaPolicy)
	var restoreHidden func() error

	if rec != nil && rec.HiddenAreaExposed && rec.HiddenAreaPolicy == string(policy) && policy == hiddenarea.PolicyRemoveTemp {
		preExposeSectors := rec.HiddenAreaPreExposeSectors
		restoreHidden = func() error {
			return hiddenarea.RestoreMaxAddress(devicePath, preExposeSectors)
		}
	} else {
		hiddenState, derr := hiddenarea.Detect(devicePath)
		if derr != nil {
			return Result{Err: fmt.Errorf("hidden area detection: %w", derr)}
		}
		applied, aerr := hiddenarea.Apply(devicePath, hiddenState, policy)
		if aerr != nil {
			return Result{Err: aerr}
		}
		restoreHidden = applied
		if policy == hiddenarea.PolicyRemoveTemp && hiddenState.HPA != nil && rec != nil && o.checkpoints != nil {
			rec.SetHiddenAreaExposed(string(policy), hiddenState.HPA.CurrentMaxSectors)
			_ = o.checkpoints.Save(rec)
		}
	}
	defer func() {
		if rerr := restoreHidden(); rerr != nil && o.logger != nil {
			o.logger.Warn("failed to restore hidden area state", zap.Error(rerr), zap.String("device", devicePath))
		}
	}()

	drbg, err := rng.New(o.cfg.Entropy.ReseedBudgetBytes)
	if err != nil {
		return Result{Err: err}
	}

	recCoord := recovery.New(devicePath, recovery.Config{
		MaxRetries:       o.cfg.Recovery.MaxRetries,
		BreakerThreshold: o.cfg.Recovery.BreakerThreshold,
		BreakerCooldown:  time.Duration(o.cfg.Recovery.BreakerCooldownS) * time.Second,
	})

	engine := ioengine.New(desc)
	tracker := ioengine.NewBadSectorTracker(desc.SizeBytes / uint64(sectorSizeOrDefault(desc)))
	if rec != nil && len(rec.BadExtents) > 0 {
		tracker.Seed(toEngineExtents(rec.BadExtents), uint64(sectorSizeOrDefault(desc)))
	}

	started := time.Now()

	for i := startPass; i < len(passes); i++ {
		spec := passes[i]
		if spec.Kind == pattern.PassDelegated {
			if err := runDelegated(devicePath, device.ProtocolFromTransport(string(desc.Transport))); err != nil {
				return Result{Err: err}
			}
			continue
		}

		stream := pattern.NewStream(spec, drbg)
		offset := uint64(0)
		if i == startPass {
			offset = startOffset
		}

		opts := ioengine.Options{
			StartOffset:        offset,
			MaxSpeedMBps:       o.cfg.Wipe.MaxSpeedMBps,
			SoftThrottleMBps:   o.cfg.Wipe.MaxSpeedMBps / 2,
			ThermalSoftC:       o.cfg.Thermal.SoftThresholdC,
			ThermalHardC:       o.cfg.Thermal.HardThresholdC,
			ThermalCriticalC:   o.cfg.Thermal.CriticalThresholdC,
			ThermalPollEvery:   o.cfg.ThermalPollInterval(),
			BadSectorTolerance: o.cfg.Wipe.BadSectorTolerance,
			DirectIO:           desc.Capabilities.PreferredBufferAligned,
			OnThermal:          thermalProbe(devicePath),
			OnProgress: func(passIndex int, written uint64) {
				o.emit(ProgressEvent{DevicePath: devicePath, Pass: passIndex, TotalPasses: len(passes), BytesWritten: written, TotalBytes: desc.SizeBytes})
				if rec != nil && o.checkpoints != nil {
					rec.UpdateProgress(passIndex, written)
					rec.BadExtents = toCheckpointExtents(tracker.Extents())
					if o.checkpoints.ShouldSave(written) {
						_ = o.checkpoints.Save(rec)
					}
				}
			},
		}

		var written uint64
		runErr := recCoord.Execute(ctx, func() error {
			w, rerr := engine.RunPass(ctx, devicePath, i, stream, tracker, opts)
			written = w
			return rerr
		})
		if runErr != nil {
			if rec != nil && o.checkpoints != nil {
				rec.RecordError(runErr.Error())
				rec.BadExtents = toCheckpointExtents(tracker.Extents())
				_ = o.checkpoints.Save(rec)
			}
			return Result{Err: runErr}
		}
		_ = written
	}

	// The checkpoint record is kept until the wipe is fully certified, not
	// deleted the moment the overwrite passes finish: verification still
	// needs to run with the hidden area exposed, and a crash during
	// verification must still be resumable (and the hidden-area exposure
	// still reconcilable) rather than silently forgotten.

	finalSpec := passes[len(passes)-1]
	expected := verify.ExpectedFillFor(finalSpec)

	file, err := os.OpenFile(devicePath, os.O_RDONLY, 0)
	if err != nil {
		return Result{Err: errors.Mark(fmt.Errorf("reopen device for verification: %w", err), wipeerr.ErrDeviceUnavailable)}
	}
	defer file.Close()

	if level >= verify.LevelFull {
		if cerr := verify.PreWipeCapabilityTest(ctx, file, 0, []byte("wipecore-capability-test-marker")); cerr != nil {
			return Result{Err: cerr}
		}
	}

	report, err := verify.Run(ctx, file, desc.SizeBytes, expected, level, verify.Config{
		SamplePercent: o.cfg.Verification.SamplePercent,
		MinConfidence: o.cfg.Verification.MinConfidence,
		SectorSize:    int(desc.LogicalSectorSize),
	})
	if err != nil {
		return Result{Err: err}
	}

	if level >= verify.LevelForensic {
		if err := verify.RunRecoveryOracle(report, o.oracle, devicePath); err != nil {
			return Result{Err: err}
		}
		report.Verdict = report.Confidence >= o.cfg.Verification.MinConfidence && !report.FatalResidual &&
			report.RecoveryOracleRan && report.RecoveryOracleFiles == 0
	}

	completed := time.Now()

	if !report.Verdict {
		return Result{
			Report:     report,
			Diagnostic: fmt.Sprintf("verification did not reach minimum confidence: %.2f < %.2f, or residual pattern/recovered files detected", report.Confidence, o.cfg.Verification.MinConfidence),
			Err:        wipeerr.ErrVerificationFailed,
		}
	}

	cert, err := certificate.Assemble(certificate.BuildInput{
		Descriptor:       desc,
		Algorithm:        string(algorithm),
		TotalPasses:      len(passes),
		HiddenAreaPolicy: string(policy),
		Started:          started,
		Completed:        completed,
		Report:           report,
		Operator:         operator,
		RequestedTags:    complianceTagsFor(o.cfg.Certificate.ComplianceTags),
	})
	if err != nil {
		return Result{Report: report, Err: err}
	}

	if o.signer != nil {
		if err := certificate.Sign(cert, o.signer); err != nil {
			return Result{Report: report, Err: err}
		}
	}

	// Restore the hidden area and drop the checkpoint explicitly on the
	// success path, ahead of the deferred restore, so the record never
	// outlives the exposure it describes; restoreHidden is idempotent, so
	// the deferred call running again afterward is harmless.
	if rerr := restoreHidden(); rerr != nil && o.logger != nil {
		o.logger.Warn("failed to restore hidden area state", zap.Error(rerr), zap.String("device", devicePath))
	} else if rec != nil {
		rec.ClearHiddenAreaExposed()
	}
	if o.checkpoints != nil && rec != nil {
		_ = o.checkpoints.Delete(desc.Fingerprint, string(algorithm))
	}

	return Result{Certificate: cert, Report: report}
}

// toCheckpointExtents and toEngineExtents bridge the structurally
// identical but distinctly-named BadExtent types in ioengine and
// checkpoint, kept separate so the checkpoint package never has to import
// the I/O engine just to describe a persisted bad-sector list.
func toCheckpointExtents(in []ioengine.BadExtent) []checkpoint.BadExtent {
	out := make([]checkpoint.BadExtent, len(in))
	for i, e := range in {
		out[i] = checkpoint.BadExtent{Offset: e.Offset, Length: e.Length, Class: e.Class}
	}
	return out
}

func toEngineExtents(in []checkpoint.BadExtent) []ioengine.BadExtent {
	out := make([]ioengine.BadExtent, len(in))
	for i, e := range in {
		out[i] = ioengine.BadExtent{Offset: e.Offset, Length: e.Length, Class: e.Class}
	}
	return out
}

func complianceTagsFor(tags []string) []certificate.ComplianceTag {
	out := make([]certificate.ComplianceTag, len(tags))
	for i, t := range tags {
		out[i] = certificate.ComplianceTag(t)
	}
	return out
}

func sectorSizeOrDefault(d *drive.Descriptor) uint32 {
	if d.LogicalSectorSize == 0 {
		return 512
	}
	return d.LogicalSectorSize
}

func thermalProbe(devicePath string) ioengine.ThermalFunc {
	return func() (float64, error) {
		return readSMARTTemperature(devicePath)
	}
}

// readSMARTTemperature polls a drive's reported temperature via smartctl,
// in the same shell-out+JSON style internal/drive and internal/freeze use,
// since no example repo in the retrieval pack parses SMART attributes via a
// direct ioctl path in Go.
func readSMARTTemperature(devicePath string) (float64, error) {
	out, err := exec.Command("smartctl", "-A", "-j", devicePath).Output()
	if err != nil {
		return -1, fmt.Errorf("smartctl -A: %w", err)
	}
	var parsed struct {
		Temperature struct {
			Current float64 `json:"current"`
		} `json:"temperature"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return -1, fmt.Errorf("parse smartctl temperature: %w", err)
	}
	if parsed.Temperature.Current == 0 {
		return -1, nil
	}
	return parsed.Temperature.Current, nil
}

// runDelegated issues a hardware-delegated sanitize against devicePath
// through whichever command protocol the drive actually speaks; an NVMe
// drive must receive an NVMe Sanitize admin command, not an ATA
// pass-through CDB (spec §4.5 hardware-delegated pass).
func runDelegated(devicePath string, protocol device.Protocol) error {
	h, err := device.Open(devicePath, protocol)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.SanitizeBlockErase(); err != nil {
		return err
	}
	return h.WaitSanitizeComplete(2*time.Second, nil)
}

// WipeAll wipes every attached device not excluded by policy, aggregating
// per-drive failures with go-multierror so one bad drive doesn't hide the
// outcome of the others (spec §6 wipe-all contract).
func (o *Orchestrator) WipeAll(ctx context.Context, algorithm pattern.Algorithm, level verify.Level, operator certificate.Operator, confirmed bool) ([]Result, error) {
	descriptors, err := drive.List()
	if err != nil {
		return nil, err
	}

	var results []Result
	var errs *multierror.Error
	for _, d := range descriptors {
		if ShouldSkipDevice(o.cfg, d) {
			continue
		}
		res := o.Wipe(ctx, d.Path, algorithm, level, operator, confirmed)
		results = append(results, res)
		if res.Err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", d.Path, res.Err))
		}
	}
	return results, errs.ErrorOrNil()
}
