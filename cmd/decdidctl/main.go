// decdidctl is the command-line demo harness for the decdid biometric-DID
// core: it synthesizes or reads finger captures, drives Enroll/Verify, and
// persists MetadataEnvelopes through the external SQLite helper store.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"decdid/internal/config"
	"decdid/internal/devicebind"
	"decdid/internal/didderive"
	"decdid/internal/logging"
	"decdid/internal/orchestrator"
	"decdid/internal/schemavalidation"
	"decdid/internal/store"
	"decdid/internal/watcher"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	Commit    = "unknown"
)

var (
	configPath  = flag.String("config", "", "path to config file")
	noColor     = flag.Bool("no-color", false, "disable colored output")
	showVersion = flag.Bool("version", false, "show version information")
	quiet       = flag.Bool("q", false, "suppress banner")
)

type colors struct {
	Reset, Bold, Dim, Red, Green, Yellow, Cyan string
}

var c colors

func initColors() {
	if *noColor || os.Getenv("NO_COLOR") != "" || !isTerminal() {
		c = colors{}
		return
	}
	c = colors{
		Reset: "\033[0m", Bold: "\033[1m", Dim: "\033[2m",
		Red: "\033[31m", Green: "\033[32m", Yellow: "\033[33m", Cyan: "\033[36m",
	}
}

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

const banner = `
%s          ╔╦╗╔═╗╔═╗╔╦╗╦╔╦╗%s
%s           ║║║╣ ║   ║║║ ║║%s
%s          ═╩╝╚═╝╚═╝═╩╝╩═╩╝%s%sctl%s
`

func printBanner() {
	fmt.Fprintf(os.Stderr, banner, c.Cyan+c.Bold, c.Reset, c.Cyan+c.Bold, c.Reset, c.Cyan+c.Bold, c.Reset, c.Dim, c.Reset)
}

func printVersion() {
	fmt.Printf("%sdecdidctl%s %s%s%s\n", c.Bold, c.Reset, c.Cyan, Version, c.Reset)
	fmt.Printf("  %sBuild%s    %s\n", c.Dim, c.Reset, BuildTime)
	fmt.Printf("  %sCommit%s   %s\n", c.Dim, c.Reset, Commit)
	fmt.Printf("  %sPlatform%s %s/%s\n", c.Dim, c.Reset, runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  %sGo%s       %s\n", c.Dim, c.Reset, runtime.Version())
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%s ERROR %s %s\n", c.Bold, c.Red, c.Reset, msg)
}

func usage() {
	fmt.Fprintf(os.Stderr, `%sUSAGE%s
    decdidctl [options] <command> [arguments]

%sCOMMANDS%s
    %senroll%s   <captures.json>          Enroll a finger set and print the DID + envelope
    %sverify%s   <captures.json> <envelope.json|did>  Verify a finger set against an envelope file or a stored DID
    %srevoke%s   <did>                    Mark a stored identity as revoked
    %sstatus%s                            Show store and device-binding status
    %swatch%s                             Run the demo daemon over configured watch paths
    %shelp%s
    %sversion%s

%sOPTIONS%s
    -config <path>   Path to config file (default: ~/.decdid/config.toml)
    -no-color        Disable colored output
    -q               Suppress banner

`,
		c.Bold, c.Reset, c.Bold, c.Reset,
		c.Cyan, c.Reset, c.Cyan, c.Reset, c.Cyan, c.Reset, c.Cyan, c.Reset,
		c.Cyan, c.Reset, c.Cyan, c.Reset, c.Cyan, c.Reset,
		c.Bold, c.Reset,
	)
}

func main() {
	flag.Parse()
	initColors()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		if !*quiet {
			printBanner()
		}
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	if !*quiet && cmd != "help" && cmd != "version" {
		printBanner()
	}

	switch cmd {
	case "enroll":
		if flag.NArg() < 2 {
			printError("Usage: decdidctl enroll <captures.json>")
			os.Exit(1)
		}
		cmdEnroll(flag.Arg(1))
	case "verify":
		if flag.NArg() < 3 {
			printError("Usage: decdidctl verify <captures.json> <envelope.json>")
			os.Exit(1)
		}
		cmdVerify(flag.Arg(1), flag.Arg(2))
	case "revoke":
		if flag.NArg() < 2 {
			printError("Usage: decdidctl revoke <did>")
			os.Exit(1)
		}
		cmdRevoke(flag.Arg(1))
	case "status":
		cmdStatus()
	case "watch":
		cmdWatch()
	case "help":
		usage()
	case "version":
		printVersion()
	default:
		printError(fmt.Sprintf("Unknown command: %s", cmd))
		usage()
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(*configPath)
	if err != nil {
		printError(fmt.Sprintf("loading config: %v", err))
		os.Exit(1)
	}
	return cfg
}

func newLogger(cfg *config.Config) *logging.Logger {
	lcfg := logging.DefaultConfig()
	if cfg.LogFormat == "json" {
		lcfg.Format = logging.FormatJSON
	}
	if cfg.LogPath != "" {
		lcfg.Output = "both"
		lcfg.FilePath = cfg.LogPath
	}
	log, err := logging.New(lcfg)
	if err != nil {
		printError(fmt.Sprintf("opening logger: %v", err))
		os.Exit(1)
	}
	return log
}

// enrollRequest is the on-disk shape cmdEnroll/cmdVerify read: a JSON
// object holding the enrollment context and a "fingers" array of captures.
type enrollRequest struct {
	Method      string                  `json:"method"`
	Network     string                  `json:"network"`
	Controllers []string                `json:"controllers"`
	Threshold   *orchestrator.ThresholdParams `json:"threshold,omitempty"`
	Fingers     []fingerCaptureJSON     `json:"fingers"`
}

func cmdEnroll(path string) {
	cfg := loadConfig()
	log := newLogger(cfg)
	defer log.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		printError(fmt.Sprintf("reading %s: %v", path, err))
		os.Exit(1)
	}

	var req enrollRequest
	if err := json.Unmarshal(data, &req); err != nil {
		printError(fmt.Sprintf("parsing request: %v", err))
		os.Exit(1)
	}
	if req.Method == "" {
		req.Method = cfg.Method
	}
	if req.Network == "" {
		req.Network = cfg.Network
	}

	fingers := toFingerCaptures(req.Fingers)
	ctx := orchestrator.EnrollContext{
		Method:      req.Method,
		Network:     req.Network,
		Controllers: req.Controllers,
		Now:         time.Now().UTC().Format(time.RFC3339),
		Threshold:   req.Threshold,
	}

	out, err := orchestrator.Enroll(fingers, ctx)
	if err != nil {
		log.Error("enroll failed", "error", err)
		printError(fmt.Sprintf("enroll: %v", err))
		os.Exit(1)
	}
	if out.SingleFingerWarning {
		log.Warn("single-finger enrollment has reduced entropy", "did", out.DID)
	}

	if err := persistEnvelope(cfg, out); err != nil {
		log.Error("persisting envelope failed", "error", err)
		printError(fmt.Sprintf("persist: %v", err))
		os.Exit(1)
	}

	log.Info("enrolled identity", "did", out.DID, "fingers", len(fingers))
	fmt.Printf("%sDID%s %s\n", c.Bold, c.Reset, out.DID)
}

func persistEnvelope(cfg *config.Config, out *orchestrator.EnrollOutput) error {
	s, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer s.Close()

	provider, err := devicebind.Detect(cfg.RequireTPM, cfg.StorePath+".wrapkey")
	if err != nil {
		return fmt.Errorf("device binding: %w", err)
	}
	defer provider.Close()
	s.SetProvider(provider)

	return s.PutIdentity(out.Envelope, out.Envelope.Biometric.HelperData)
}

func cmdVerify(capturesPath, envelopeRef string) {
	cfg := loadConfig()
	log := newLogger(cfg)
	defer log.Close()

	captureData, err := os.ReadFile(capturesPath)
	if err != nil {
		printError(fmt.Sprintf("reading %s: %v", capturesPath, err))
		os.Exit(1)
	}
	var req enrollRequest
	if err := json.Unmarshal(captureData, &req); err != nil {
		printError(fmt.Sprintf("parsing captures: %v", err))
		os.Exit(1)
	}

	env, err := loadEnvelopeForVerify(cfg, envelopeRef)
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}

	result, err := orchestrator.Verify(toFingerCaptures(req.Fingers), env)
	if err != nil {
		log.Error("verify failed", "error", err)
		printError(fmt.Sprintf("verify: %v", err))
		os.Exit(1)
	}

	printVerifyResult(result)
}

// loadEnvelopeForVerify resolves envelopeRef either as a DID -- looked up in
// the local store, whose GetEnvelope already unseals a device-bound sealed
// envelope through the detected Provider -- or, otherwise, as a path to an
// envelope JSON file, which is schema-validated since it crosses a trust
// boundary decdidctl does not otherwise control.
func loadEnvelopeForVerify(cfg *config.Config, envelopeRef string) (*didderive.MetadataEnvelope, error) {
	if strings.HasPrefix(envelopeRef, "did:") {
		s, err := store.Open(cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		defer s.Close()

		provider, err := devicebind.Detect(cfg.RequireTPM, cfg.StorePath+".wrapkey")
		if err != nil {
			return nil, fmt.Errorf("device binding: %w", err)
		}
		defer provider.Close()
		s.SetProvider(provider)

		env, err := s.GetEnvelope(envelopeRef)
		if err != nil {
			return nil, fmt.Errorf("loading stored envelope: %w", err)
		}
		return env, nil
	}

	envData, err := os.ReadFile(envelopeRef)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", envelopeRef, err)
	}

	v, err := schemavalidation.New()
	if err != nil {
		return nil, fmt.Errorf("loading schemas: %w", err)
	}
	if err := v.ValidateEnvelope(envData); err != nil {
		return nil, fmt.Errorf("envelope failed schema validation: %w", err)
	}

	env, err := parseEnvelope(envData)
	if err != nil {
		return nil, fmt.Errorf("parsing envelope: %w", err)
	}
	return env, nil
}

func printVerifyResult(result *orchestrator.VerifyResult) {
	switch result.Status {
	case orchestrator.VerifySuccess:
		fmt.Printf("%sMATCH%s %s\n", c.Green, c.Reset, result.DID)
	case orchestrator.VerifyRevoked:
		fmt.Printf("%sREVOKED%s as of %s\n", c.Yellow, c.Reset, result.RevokedAt)
	case orchestrator.VerifyInsufficientMatches:
		fmt.Printf("%sINSUFFICIENT%s matched %d of %d required\n", c.Red, c.Reset, result.Matched, result.Required)
	case orchestrator.VerifyIdentityMismatch:
		fmt.Printf("%sMISMATCH%s\n", c.Red, c.Reset)
	}
}

func cmdRevoke(did string) {
	cfg := loadConfig()
	s, err := store.Open(cfg.StorePath)
	if err != nil {
		printError(fmt.Sprintf("opening store: %v", err))
		os.Exit(1)
	}
	defer s.Close()

	if err := s.Revoke(did, time.Now().UTC().Format(time.RFC3339)); err != nil {
		printError(fmt.Sprintf("revoke: %v", err))
		os.Exit(1)
	}
	fmt.Printf("%sRevoked%s %s\n", c.Green, c.Reset, did)
}

func cmdStatus() {
	cfg := loadConfig()
	fmt.Printf("%sStore%s       %s\n", c.Dim, c.Reset, cfg.StorePath)

	provider, err := devicebind.Detect(cfg.RequireTPM, cfg.StorePath+".wrapkey")
	if err != nil {
		fmt.Printf("%sDevice bind%s %sunavailable%s (%v)\n", c.Dim, c.Reset, c.Red, c.Reset, err)
		return
	}
	defer provider.Close()

	// Round-trip a probe value through Wrap/Unwrap rather than trusting
	// Available() alone -- a provider can report itself present while its
	// Wrap/Unwrap path is actually broken (e.g. a stale or unreadable
	// software key file).
	const probe = "decdidctl-device-bind-selftest"
	sealed, err := provider.Wrap([]byte(probe))
	if err == nil {
		var opened []byte
		opened, err = provider.Unwrap(sealed)
		if err == nil && string(opened) != probe {
			err = fmt.Errorf("unwrap returned mismatched plaintext")
		}
	}
	if err != nil {
		fmt.Printf("%sDevice bind%s available=%v %sself-test failed%s (%v)\n", c.Dim, c.Reset, provider.Available(), c.Red, c.Reset, err)
		return
	}
	fmt.Printf("%sDevice bind%s available=%v self-test ok\n", c.Dim, c.Reset, provider.Available())
}

func cmdWatch() {
	cfg := loadConfig()
	log := newLogger(cfg)
	defer log.Close()

	if len(cfg.WatchPaths) == 0 {
		printError("no watch_paths configured")
		os.Exit(1)
	}

	w, err := watcher.New(cfg.WatchPaths, time.Duration(cfg.DebounceSeconds)*time.Second)
	if err != nil {
		printError(fmt.Sprintf("starting watcher: %v", err))
		os.Exit(1)
	}
	if err := w.Start(); err != nil {
		printError(fmt.Sprintf("watching paths: %v", err))
		os.Exit(1)
	}
	defer w.Stop()

	log.Info("watching for enrollment requests", "paths", cfg.WatchPaths)
	for {
		select {
		case ev := <-w.Events():
			log.Info("picked up stabilized request file", "path", ev.Path, "size", ev.Size)
		case err := <-w.Errors():
			log.Error("watch error", "error", err)
		}
	}
}
