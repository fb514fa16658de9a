// Command wipecore is the CLI collaborator the orchestrator is contracted
// to (spec §6): list, wipe, wipe-all, verify, health, sed, and checkpoint
// {status|resume|clear}, with exit codes 0/2/3/4/5/6.
//
// Grounded on the teacher's cobra rootCmd/subcommand wiring (cmd/wipedisk/
// main.go) — persistent flags for verbose/config/profile, the
// load-config-then-build-logger sequence, and signal-driven graceful
// cancellation — generalized from disk-letter arguments to block device
// paths and from the teacher's free-space-wipe operation to the destructive
// whole-device wipe this engine performs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wipecore/internal/certificate"
	"wipecore/internal/checkpoint"
	"wipecore/internal/config"
	"wipecore/internal/device"
	"wipecore/internal/drive"
	"wipecore/internal/hiddenarea"
	"wipecore/internal/logging"
	"wipecore/internal/orchestrator"
	"wipecore/internal/pattern"
	"wipecore/internal/verify"
	"wipecore/internal/wipeerr"
)

const (
	exitSuccess             = 0
	exitUserError           = 2
	exitHardwareError       = 3
	exitVerificationFailed  = 4
	exitInterruptedResumable = 5
	exitFatal               = 6
)

var (
	cfg         *config.Config
	logger      *zap.Logger
	configPath  string
	verbose     bool
	profile     string
	algorithm   string
	levelFlag   int
	operatorID  string
	organization string
	force       bool
	allowSystemDisk bool
)

var rootCmd = &cobra.Command{
	Use:   "wipecore",
	Short: "wipecore drives data-destruction verification and certification",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list attached block devices and their classification",
	RunE:  runList,
}

var wipeCmd = &cobra.Command{
	Use:   "wipe <device>",
	Short: "wipe, verify, and certify a single device",
	Args:  cobra.ExactArgs(1),
	RunE:  runWipe,
}

var wipeAllCmd = &cobra.Command{
	Use:   "wipe-all",
	Short: "wipe every attached device not excluded by policy",
	RunE:  runWipeAll,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <device>",
	Short: "run verification against a device without wiping it",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

var healthCmd = &cobra.Command{
	Use:   "health <device>",
	Short: "probe device identity and hidden-area (HPA/DCO) state; freeze state and temperature are not reported",
	Args:  cobra.ExactArgs(1),
	RunE:  runHealth,
}

var sedCmd = &cobra.Command{
	Use:   "sed <device>",
	Short: "issue a hardware-delegated sanitize/secure-erase command",
	Args:  cobra.ExactArgs(1),
	RunE:  runSED,
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "inspect or clear resumable wipe checkpoints",
}

var checkpointStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "list outstanding checkpoints",
	RunE:  runCheckpointStatus,
}

var checkpointResumeCmd = &cobra.Command{
	Use:   "resume <device>",
	Short: "resume a wipe from its checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runWipe, // resume is just wipe; the orchestrator detects the checkpoint itself
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear <device>",
	Short: "discard a checkpoint without resuming it",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointClear,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "performance profile (safe/balanced/aggressive/delegated)")

	wipeCmd.Flags().StringVar(&algorithm, "algorithm", "", "overwrite algorithm (zero/random/dod/gutmann/delegated)")
	wipeCmd.Flags().IntVar(&levelFlag, "level", 0, "verification level 1-4")
	wipeCmd.Flags().StringVar(&operatorID, "operator", "", "operator identity recorded on the certificate")
	wipeCmd.Flags().StringVar(&organization, "organization", "", "organization recorded on the certificate")
	wipeCmd.Flags().BoolVarP(&force, "force", "f", false, "skip the confirmation prompt")
	wipeCmd.Flags().BoolVar(&allowSystemDisk, "allow-system-disk", false, "permit wiping the system disk (DANGEROUS)")

	wipeAllCmd.Flags().AddFlagSet(wipeCmd.Flags())

	verifyCmd.Flags().IntVar(&levelFlag, "level", 0, "verification level 1-4")

	checkpointCmd.AddCommand(checkpointStatusCmd, checkpointResumeCmd, checkpointClearCmd)
	rootCmd.AddCommand(listCmd, wipeCmd, wipeAllCmd, verifyCmd, healthCmd, sedCmd, checkpointCmd)
}

func loadConfig() error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if profile != "" {
		if err := config.ApplyProfile(cfg, profile); err != nil {
			return fmt.Errorf("apply profile %s: %w", profile, err)
		}
	}
	if allowSystemDisk {
		cfg.Security.AllowSystemDisk = true
	}
	logger, err = logging.New(cfg, verbose)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	return nil
}

func cancelOnSignal() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		if logger != nil {
			logger.Warn("received signal, beginning graceful shutdown", zap.String("signal", sig.String()))
		}
		cancel()
	}()
	return ctx, cancel
}

func runList(cmd *cobra.Command, args []string) error {
	descriptors, err := drive.List()
	if err != nil {
		return err
	}
	for _, d := range descriptors {
		fmt.Printf("%s\t%s\t%s\t%s\t%.1f GB\n", d.Path, d.Model, d.Transport, d.MediaClass, float64(d.SizeBytes)/(1<<30))
	}
	return nil
}

func runWipe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	defer logger.Sync()

	alg := pattern.Algorithm(algorithm)
	if alg == "" {
		alg = pattern.Algorithm(cfg.Wipe.DefaultAlgorithm)
	}
	level := verify.Level(levelFlag)
	if level == 0 {
		level = verify.Level(cfg.Verification.DefaultLevel)
	}

	checkpoints, err := checkpoint.Open(cfg.Checkpoint.DBPath)
	if err != nil {
		return err
	}
	defer checkpoints.Close()

	o := orchestrator.New(cfg, logger, checkpoints, nil, nil, nil)

	ctx, cancel := cancelOnSignal()
	defer cancel()
	if d := cfg.GetMaxDuration(); d > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, d)
		defer timeoutCancel()
	}

	op := certificate.Operator{ID: operatorID, Organization: organization}
	result := o.Wipe(ctx, args[0], alg, level, op, force)
	return reportResult(result)
}

func runWipeAll(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	defer logger.Sync()

	alg := pattern.Algorithm(algorithm)
	if alg == "" {
		alg = pattern.Algorithm(cfg.Wipe.DefaultAlgorithm)
	}
	level := verify.Level(levelFlag)
	if level == 0 {
		level = verify.Level(cfg.Verification.DefaultLevel)
	}

	checkpoints, err := checkpoint.Open(cfg.Checkpoint.DBPath)
	if err != nil {
		return err
	}
	defer checkpoints.Close()

	o := orchestrator.New(cfg, logger, checkpoints, nil, nil, nil)

	ctx, cancel := cancelOnSignal()
	defer cancel()

	op := certificate.Operator{ID: operatorID, Organization: organization}
	results, err := o.WipeAll(ctx, alg, level, op, force)
	for _, r := range results {
		_ = reportResult(r)
	}
	if err != nil {
		return err
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	defer logger.Sync()

	desc, err := drive.Probe(args[0])
	if err != nil {
		return err
	}

	file, err := os.OpenFile(args[0], os.O_RDONLY, 0)
	if err != nil {
		return errors.Mark(fmt.Errorf("open device: %w", err), wipeerr.ErrDeviceUnavailable)
	}
	defer file.Close()

	level := verify.Level(levelFlag)
	if level == 0 {
		level = verify.Level(cfg.Verification.DefaultLevel)
	}

	report, err := verify.Run(context.Background(), file, desc.SizeBytes, verify.ExpectedFillFor(pattern.PassSpec{Kind: pattern.PassRandom}), level, verify.Config{
		SamplePercent: cfg.Verification.SamplePercent,
		MinConfidence: cfg.Verification.MinConfidence,
		SectorSize:    int(desc.LogicalSectorSize),
	})
	if err != nil {
		return err
	}

	fmt.Printf("confidence: %.2f  verdict: %t  samples: %d\n", report.Confidence, report.Verdict, len(report.Samples))
	if !report.Verdict {
		return wipeerr.ErrVerificationFailed
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	devicePath := args[0]

	desc, err := drive.Probe(devicePath)
	if err != nil {
		return err
	}
	fmt.Printf("device: %s (%s %s)\n", desc.Path, desc.Model, desc.MediaClass)
	hidden, err := hiddenarea.Detect(devicePath)
	if err != nil {
		return err
	}
	var hpaSectors, dcoSectors uint64
	if hidden.HPA != nil {
		hpaSectors = hidden.HPA.HiddenSectors
	}
	if hidden.DCO != nil {
		dcoSectors = hidden.DCO.HiddenSectors
	}
	fmt.Printf("hidden area: HPA=%t(%d sectors) DCO=%t(%d sectors)\n",
		hidden.HPA != nil, hpaSectors, hidden.DCO != nil, dcoSectors)
	return nil
}

func runSED(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	defer logger.Sync()

	desc, err := drive.Probe(args[0])
	if err != nil {
		return err
	}
	if !desc.Capabilities.SupportsSanitizeBlock && !desc.Capabilities.SupportsSecurityErase {
		return fmt.Errorf("device %s advertises no hardware-delegated sanitize capability", args[0])
	}

	h, err := device.Open(args[0], device.ProtocolFromTransport(string(desc.Transport)))
	if err != nil {
		return err
	}
	defer h.Close()

	fmt.Printf("issuing hardware-delegated sanitize against %s; this cannot be cancelled once firmware accepts it\n", args[0])
	if err := h.SanitizeBlockErase(); err != nil {
		return err
	}
	return h.WaitSanitizeComplete(2*time.Second, func(percent float64) {
		logger.Info("sanitize in progress", zap.String("device", args[0]), zap.Float64("percent", percent))
	})
}

func runCheckpointStatus(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	checkpoints, err := checkpoint.Open(cfg.Checkpoint.DBPath)
	if err != nil {
		return err
	}
	defer checkpoints.Close()

	records, err := checkpoints.List()
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Printf("%s\t%s\t%s\tpass %d/%d\t%.1f%%\n", r.DevicePath, r.Algorithm, r.ID, r.CurrentPass, r.TotalPasses, r.CompletionPercentage())
	}
	return nil
}

func runCheckpointClear(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	checkpoints, err := checkpoint.Open(cfg.Checkpoint.DBPath)
	if err != nil {
		return err
	}
	defer checkpoints.Close()

	desc, err := drive.Probe(args[0])
	if err != nil {
		return err
	}

	records, err := checkpoints.List()
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.DriveFingerprint == desc.Fingerprint {
			if err := checkpoints.Delete(r.DriveFingerprint, r.Algorithm); err != nil {
				return err
			}
		}
	}
	return nil
}

func reportResult(result orchestrator.Result) error {
	if result.Certificate != nil {
		fmt.Printf("certificate %s issued for device, confidence %.2f\n", result.Certificate.CertificateUUID, result.Certificate.Verification.Confidence)
		return nil
	}
	if result.Diagnostic != "" {
		fmt.Fprintf(os.Stderr, "diagnostic: %s\n", result.Diagnostic)
	}
	return result.Err
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, wipeerr.ErrDeviceUnavailable), errors.Is(err, wipeerr.ErrFatalBusError):
		return exitHardwareError
	case errors.Is(err, wipeerr.ErrVerificationFailed), errors.Is(err, wipeerr.ErrVerificationUnreliable), errors.Is(err, wipeerr.ErrRecoveryOracleFoundData):
		return exitVerificationFailed
	case errors.Is(err, wipeerr.ErrInterrupted):
		return exitInterruptedResumable
	case errors.Is(err, wipeerr.ErrEntropyFailure), errors.Is(err, wipeerr.ErrFrozen):
		return exitFatal
	default:
		return exitUserError
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
	os.Exit(exitSuccess)
}
