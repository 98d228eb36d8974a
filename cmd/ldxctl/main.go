package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
	flag "github.com/spf13/pflag"

	"example.com/ldxsync/internal/catalog"
	"example.com/ldxsync/internal/common"
	"example.com/ldxsync/internal/config"
	"example.com/ldxsync/internal/patch"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// errUsage marks errors that should be followed by the usage text.
var errUsage = errors.New("usage")

type command func(out io.Writer, args []string) error

var commands = map[string]command{
	"inspect":  inspectCmd,
	"params":   paramsCmd,
	"patch":    patchCmd,
	"merge":    mergeCmd,
	"restore":  restoreCmd,
	"report":   reportCmd,
	"link":     linkCmd,
	"discover": discoverCmd,
	"queue":    queueCmd,
	"mappings": mappingsCmd,
	"catalog":  catalogCmd,
}

func main() {
	os.Exit(run(os.Stdout, os.Stderr, os.Args[1:]))
}

func run(out, errOut io.Writer, args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		usage(out)
		return 0
	}
	if args[0] == "version" || args[0] == "--version" {
		fmt.Fprintf(out, "ldxctl %s (built %s)\n", version, buildDate)
		return 0
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(errOut, "unknown command %q\n\n", args[0])
		usage(errOut)
		return 2
	}
	if err := cmd(out, args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		pterm.Error.WithWriter(errOut).Println(err)
		if errors.Is(err, errUsage) {
			usage(errOut)
			return 2
		}
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `ldxctl %s (built %s) <command> [options]

Commands:
  inspect  <file.ld|file.ldx> [--json]
  params   <file.ldx> [--json] [--no-details] [--no-math]
  patch    <file.ldx> --name <parameter> --value <value> [--comment <text>] [--verify diagnostic|strict]
  merge    --template <file.ldx> (--set name=value ... | --params <records.json>) [--strategy parameters_override|ldx_override|merge] --out <file.ldx>
  restore  <file.ldx> [--audit <file.audit.jsonl>]
  report   <file.ldx> --out <sheet.pdf> [--lang en|tr] [--json <sheet.json>]
  link     <file.ld> [--car <id>] [--session <id>] [--track <name>] [--driver <name>] [--date YYYY-MM-DD] [--generate]
  discover [--root <dir>] [--link <dir>] [--car <id>]
  queue    <add|list|apply> [...]
  mappings <list|set|remove> [...]
  catalog  [--subteam <name>]

Every command accepts --config <ldxsync.yaml>.
`, version, buildDate)
}

// newFlagSet returns a flag set carrying the shared --config flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfgPath := fs.StringP("config", "c", "", "configuration file")
	return fs, cfgPath
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs.SetOutput(os.Stdout)
			fs.PrintDefaults()
			return err
		}
		return fmt.Errorf("%s: %v: %w", fs.Name(), err, errUsage)
	}
	return nil
}

func loadConfig(path string) (config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// positional returns the single positional argument fs expects.
func positional(fs *flag.FlagSet, what string) (string, error) {
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%s: expected %s: %w", fs.Name(), what, errUsage)
	}
	return fs.Arg(0), nil
}

// newPatcher builds a patcher from cfg. The catalog is optional; a missing
// catalog file leaves documentation parameters title-cased.
func newPatcher(cfg config.Config, verify string) (*patch.Patcher, error) {
	opts := patch.Options{RequireCatalogEntry: cfg.Patch.RequireCatalogEntry}
	policy := cfg.Patch.Verify
	if verify != "" {
		policy = verify
	}
	v, err := patch.ParseVerifyPolicy(policy)
	if err != nil {
		return nil, err
	}
	opts.Verify = v
	if common.FileExists(cfg.CatalogPath) {
		cat, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		opts.Catalog = cat
	}
	if cfg.Patch.AuditLog != "" {
		opts.AuditLog = common.NewPatchLog(cfg.Patch.AuditLog)
	}
	return patch.New(opts), nil
}

func renderTable(out io.Writer, header []string, rows [][]string) error {
	data := append(pterm.TableData{header}, rows...)
	return pterm.DefaultTable.WithHasHeader().WithWriter(out).WithData(data).Render()
}
