package cli

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"enprot/internal/config"
	"enprot/internal/etree"
	"enprot/internal/log"
	"enprot/internal/policy"
)

// errShowedUsage marks a failed run whose per-file errors have already
// been printed by the Reporter, so Execute should not print it again.
var errShowedUsage = errors.New("usage shown")

// job is one input/output pair queued by the flag walk below. Mirrors the
// reference driver's push-then-possibly-mutate-in-place handling of -o: a
// bare positional argument pushes a job with a derived output path, and a
// following -o replaces the most recently pushed job's output path rather
// than starting a new job.
type job struct {
	in  string
	out string
}

// runRoot implements enprot's single command. Flag parsing is manual
// (DisableFlagParsing on rootCmd) because -o's target is "the previous
// positional argument", which only a position-preserving walk over argv
// can express — pflag's flag/positional split loses that ordering.
func runRoot(cmd *cobra.Command, args []string) error {
	cfgPath := ""
	logLevel := ""
	logFile := ""
	casDir := ""
	leftSep, rightSep := "", ""
	maxDepth := -1
	prefix := ""
	quiet, verbose := false, false
	help, showVersion := false, false

	store := map[string]bool{}
	fetch := map[string]bool{}
	encrypt := map[string]bool{}
	decrypt := map[string]bool{}
	passwords := map[string]string{}

	pbkdfAlg := ""
	pbkdfMsec := -1
	pbkdfSaltLen := -1
	pbkdfSalt := ""
	pbkdfParams := map[string]int{}
	pbkdfDisableCache := false

	cipherAlg := ""
	cipherIV := ""

	policyName := ""
	fips := false

	var jobs []job

	takeValue := func(i *int, flag string) (string, error) {
		*i++
		if *i >= len(args) {
			return "", fmt.Errorf("%s requires a value", flag)
		}
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-h" || a == "--help":
			help = true
		case a == "--version":
			showVersion = true
		case a == "-v":
			verbose = true
		case a == "-q":
			quiet = true
		case a == "--fips":
			fips = true
		case a == "--pbkdf-disable-cache":
			pbkdfDisableCache = true
		case a == "--config":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			cfgPath = v
		case a == "--log-level":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			logLevel = v
		case a == "--log-file":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			logFile = v
		case a == "-c":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			casDir = v
		case a == "-l":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			leftSep = v
		case a == "-r":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			rightSep = v
		case a == "--max-depth":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("--max-depth: %w", err)
			}
			maxDepth = n
		case a == "-p":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			prefix = v
		case a == "-o":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				return fmt.Errorf("-o given with no preceding input file")
			}
			jobs[len(jobs)-1].out = v
		case a == "--encrypt" || a == "--decrypt" || a == "--store" || a == "--fetch" || a == "--encrypt-store":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			for _, w := range splitCSV(v) {
				switch a {
				case "--encrypt":
					encrypt[w] = true
				case "--decrypt":
					decrypt[w] = true
				case "--store":
					store[w] = true
				case "--fetch":
					fetch[w] = true
				case "--encrypt-store":
					encrypt[w] = true
					store[w] = true
				}
			}
		case a == "-k":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			for _, pair := range splitCSV(v) {
				kw, pw, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("-k: malformed WORD=PASSWORD pair: %q", pair)
				}
				passwords[kw] = pw
			}
		case a == "--pbkdf":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			pbkdfAlg = v
		case a == "--pbkdf-msec":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("--pbkdf-msec: %w", err)
			}
			pbkdfMsec = n
		case a == "--pbkdf-salt-len":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("--pbkdf-salt-len: %w", err)
			}
			pbkdfSaltLen = n
		case a == "--pbkdf-salt":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			pbkdfSalt = v
		case a == "--pbkdf-params":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			for _, pair := range splitCSV(v) {
				kk, vv, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("--pbkdf-params: malformed k=v pair: %q", pair)
				}
				n, err := strconv.Atoi(vv)
				if err != nil {
					return fmt.Errorf("--pbkdf-params: %w", err)
				}
				pbkdfParams[kk] = n
			}
		case a == "--cipher":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			cipherAlg = v
		case a == "--cipher-iv":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			cipherIV = v
		case a == "--policy" || a == "--defaults":
			v, err := takeValue(&i, a)
			if err != nil {
				return err
			}
			policyName = v
		case strings.HasPrefix(a, "-") && a != "-":
			return fmt.Errorf("unknown flag: %s", a)
		default:
			out := a
			if prefix != "" {
				out = filepath.Join(filepath.Dir(a), prefix+filepath.Base(a))
			}
			jobs = append(jobs, job{in: a, out: out})
		}
	}

	if help {
		return cmd.Help()
	}
	if showVersion {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
		return nil
	}
	if len(jobs) == 0 {
		return cmd.Help()
	}

	if fips {
		policyName = "nist"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	switch {
	case logLevel != "":
		// --log-level given explicitly: takes precedence over -v.
	case verbose:
		logLevel = "debug"
	default:
		logLevel = cfg.LogLevel
	}
	if err := applyLogLevel(logLevel, logFile); err != nil {
		return fmt.Errorf("--log-file: %w", err)
	}

	casDirExplicit := casDir != ""
	if casDir == "" {
		casDir = defaultCASDir(cfg.CASDir)
	}
	if casDirExplicit {
		if fi, err := os.Stat(casDir); err != nil || !fi.IsDir() {
			return fmt.Errorf("CAS directory %q does not exist", casDir)
		}
	}

	ops := etree.NewParseOps(casDir)
	cfg.ApplyTo(ops)
	if leftSep != "" {
		ops.LeftSep = leftSep
	}
	if rightSep != "" {
		ops.RightSep = rightSep
	}
	if maxDepth >= 0 {
		ops.MaxDepth = maxDepth
	}
	ops.Store, ops.Fetch, ops.Encrypt, ops.Decrypt = store, fetch, encrypt, decrypt
	ops.Passwords = passwords
	ops.Verbose = verbose

	// Only override the policy that config.ApplyTo already seeded when the
	// CLI gave one explicitly (--policy/--defaults/--fips); otherwise the
	// config file's policy setting would always be stomped by the zero
	// value of policyName resolving to the default policy.
	if policyName != "" {
		pol, err := policy.Named(policyName)
		if err != nil {
			return err
		}
		ops.Policy = pol
	}

	if pbkdfAlg != "" {
		ops.PBKDF.Alg = pbkdfAlg
	}
	if pbkdfMsec >= 0 {
		ops.PBKDF.Msec = &pbkdfMsec
		ops.PBKDF.Params = nil
	}
	if len(pbkdfParams) > 0 {
		ops.PBKDF.Params = pbkdfParams
		ops.PBKDF.Msec = nil
	}
	if pbkdfSaltLen >= 0 {
		ops.PBKDF.SaltLen = pbkdfSaltLen
	}
	if pbkdfSalt != "" {
		salt, err := hex.DecodeString(pbkdfSalt)
		if err != nil {
			return fmt.Errorf("--pbkdf-salt: %w", err)
		}
		ops.PBKDF.Salt = salt
	}
	if pbkdfDisableCache {
		ops.Cache = nil
	}
	if cipherAlg != "" {
		ops.Cipher.Alg = cipherAlg
	}
	if cipherIV != "" {
		iv, err := hex.DecodeString(cipherIV)
		if err != nil {
			return fmt.Errorf("--cipher-iv: %w", err)
		}
		ops.Cipher.IV = iv
	}

	ops.Prompt = newPrompter(passwords)

	reporter := NewReporter(quiet)
	var failed bool
	for _, j := range jobs {
		if err := runOne(j, ops, reporter); err != nil {
			reporter.PrintError("%s: %v", j.in, err)
			failed = true
			continue
		}
		reporter.PrintSuccess("%s -> %s", j.in, j.out)
	}
	if failed {
		return errShowedUsage
	}
	return nil
}

// runOne parses, transforms and writes a single input/output pair.
func runOne(j job, ops *etree.ParseOps, reporter *Reporter) error {
	f, err := os.Open(j.in)
	if err != nil {
		return err
	}
	defer f.Close()

	reporter.Status("reading %s", j.in)
	ops.FName = j.in
	tree, err := etree.Parse(f, ops)
	if err != nil {
		return err
	}

	reporter.Status("transforming %s", j.in)
	out, err := etree.Transform(tree, ops)
	if err != nil {
		return err
	}

	text := etree.Write(out, ops)
	return os.WriteFile(j.out, []byte(text), 0o600)
}

// splitCSV splits a comma-separated flag value, dropping empty fields
// so a trailing comma or accidental double comma doesn't add a blank
// keyword.
func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// defaultCASDir mirrors the reference driver's fallback: use "cas" if
// that directory already exists in the working directory, else fall
// back to the configured default.
func defaultCASDir(configured string) string {
	if fi, err := os.Stat("cas"); err == nil && fi.IsDir() {
		return "cas"
	}
	return configured
}

func levelFromName(level string) log.Level {
	switch level {
	case "debug":
		return log.LevelDebug
	case "info":
		return log.LevelInfo
	case "warn":
		return log.LevelWarn
	default:
		return log.LevelError
	}
}

// applyLogLevel wires the CLI's --log-level/--log-file flags into the
// log package's own setup helpers rather than constructing a logger by
// hand: --log-file routes everything to a file at the requested level via
// EnableFileLogging, debug level without a file uses the convenience
// EnableDebugLogging, and everything else falls back to a stderr logger.
func applyLogLevel(level, file string) error {
	if file != "" {
		return log.EnableFileLogging(file, levelFromName(level))
	}
	if level == "debug" {
		log.EnableDebugLogging()
		return nil
	}
	log.SetLogger(log.NewSimpleLogger(os.Stderr, levelFromName(level)))
	return nil
}
