package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"example.com/ldxsync/internal/catalog"
	"example.com/ldxsync/internal/channels"
	"example.com/ldxsync/internal/common"
	"example.com/ldxsync/internal/discovery"
	"example.com/ldxsync/internal/ldx"
	"example.com/ldxsync/internal/session"
)

func linkCmd(out io.Writer, args []string) error {
	fs, cfgPath := newFlagSet("link")
	car := fs.String("car", "", "car id (inferred from the path when empty)")
	sessionID := fs.String("session", "", "session name")
	track := fs.String("track", "", "track name")
	driver := fs.String("driver", "", "driver name")
	date := fs.String("date", "", "session date (YYYY-MM-DD)")
	generate := fs.Bool("generate", false, "write a companion LDX file")
	if err := parse(fs, args); err != nil {
		return err
	}
	path, err := positional(fs, "an LD file")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	mappings, err := channels.Open(cfg.ChannelsDir)
	if err != nil {
		return err
	}
	scfg := cfg.SessionConfig()
	if fs.Changed("generate") {
		scfg.AutoGenerateLDX = *generate
	}
	carID := *car
	if carID == "" {
		carID = discovery.InferCar(path)
	}
	sc, err := session.NewLinker(scfg, mappings, nil).Link(session.LinkRequest{
		LDPath:    path,
		CarID:     carID,
		SessionID: *sessionID,
		TrackID:   *track,
		Driver:    *driver,
		Date:      *date,
	})
	if err != nil {
		return err
	}
	rows := [][]string{
		{"Car", sc.CarID},
		{"Session", sc.SessionName},
		{"Track", sc.TrackID},
		{"Driver", sc.Driver},
		{"Date", sc.Date},
		{"Channels", strconv.Itoa(len(sc.Channels))},
		{"LD file", sc.LDFilePath},
	}
	if sc.LDXFilePath != "" {
		rows = append(rows, []string{"LDX file", sc.LDXFilePath})
	}
	return renderTable(out, []string{"FIELD", "VALUE"}, rows)
}

func discoverCmd(out io.Writer, args []string) error {
	fs, cfgPath := newFlagSet("discover")
	root := fs.String("root", "", "override the NAS base path")
	linkDir := fs.String("link", "", "link every LD file in this directory instead of scanning")
	car := fs.String("car", "", "car id for --link (inferred when empty)")
	if err := parse(fs, args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	if *linkDir != "" {
		mappings, err := channels.Open(cfg.ChannelsDir)
		if err != nil {
			return err
		}
		sessions, err := session.NewLinker(cfg.SessionConfig(), mappings, nil).DiscoverAndLink(*linkDir, *car)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintf(out, "no LD files linked in %s\n", *linkDir)
			return nil
		}
		rows := make([][]string, 0, len(sessions))
		for _, sc := range sessions {
			rows = append(rows, []string{sc.CarID, sc.SessionName, sc.Date, sc.TrackID, sc.LDXFilePath})
		}
		return renderTable(out, []string{"CAR", "SESSION", "DATE", "TRACK", "LDX"}, rows)
	}

	dcfg := cfg.DiscoveryConfig()
	if *root != "" {
		dcfg.NASBasePath = *root
	}
	res := discovery.New(dcfg, nil).Scan(true)
	if res.Status == discovery.StatusError {
		return ldx.IOError("%s", res.Message)
	}
	rows := make([][]string, 0, len(res.LDFiles)+len(res.LDXFiles))
	add := func(kind string, files []discovery.File) {
		for _, f := range files {
			managed := ""
			if f.Managed {
				managed = "yes"
			}
			rows = append(rows, []string{kind, f.Name, common.FormatBytes(f.Size), f.SuggestedCar, f.SuggestedSession, managed})
		}
	}
	add("ld", res.LDFiles)
	add("ldx", res.LDXFiles)
	fmt.Fprintf(out, "%s (root %s)\n", res.Message, res.Root)
	if len(rows) == 0 {
		return nil
	}
	return renderTable(out, []string{"TYPE", "FILE", "SIZE", "CAR", "SESSION", "MANAGED"}, rows)
}

func mappingsCmd(out io.Writer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("mappings: expected list, set or remove: %w", errUsage)
	}
	sub, args := args[0], args[1:]
	fs, cfgPath := newFlagSet("mappings " + sub)
	var (
		vendor, units, source, scaling, math, desc *string
		disabled                                   *bool
	)
	if sub == "set" {
		vendor = fs.String("vendor", "", "vendor channel name")
		units = fs.String("units", "", "units")
		source = fs.String("source", "", "CAN, derived, calculated, analog or digital")
		scaling = fs.String("scaling", "", "scaling factor")
		math = fs.String("math", "", "math expression")
		desc = fs.String("description", "", "description")
		disabled = fs.Bool("disabled", false, "store the mapping disabled")
	}
	if err := parse(fs, args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	st, err := channels.Open(cfg.ChannelsDir)
	if err != nil {
		return err
	}

	switch sub {
	case "list":
		cars := st.CarIDs()
		if fs.NArg() == 1 {
			cars = []string{fs.Arg(0)}
		}
		var rows [][]string
		for _, car := range cars {
			for _, m := range st.Mappings(car) {
				rows = append(rows, []string{car, m.InternalName, m.VendorName, m.Units, string(m.Source), strconv.FormatBool(m.Enabled)})
			}
		}
		if len(rows) == 0 {
			fmt.Fprintln(out, "no channel mappings")
			return nil
		}
		return renderTable(out, []string{"CAR", "INTERNAL", "VENDOR", "UNITS", "SOURCE", "ENABLED"}, rows)
	case "set":
		if fs.NArg() != 2 {
			return fmt.Errorf("mappings set: expected <car> <internal name>: %w", errUsage)
		}
		src, ok := ldx.ParseSource(*source)
		if !ok {
			return ldx.ValidationError("unknown channel source %q", *source)
		}
		m := channels.ChannelConfig{
			InternalName: fs.Arg(1),
			VendorName:   *vendor,
			Units:        *units,
			Source:       src,
			Scaling:      *scaling,
			Math:         *math,
			Enabled:      !*disabled,
			Description:  *desc,
		}
		if m.VendorName == "" {
			m.VendorName = m.InternalName
		}
		if err := st.AddMapping(fs.Arg(0), m); err != nil {
			return err
		}
		fmt.Fprintf(out, "mapped %s -> %s for %s\n", m.InternalName, m.VendorName, fs.Arg(0))
		return nil
	case "remove":
		if fs.NArg() != 2 {
			return fmt.Errorf("mappings remove: expected <car> <internal name>: %w", errUsage)
		}
		removed, err := st.RemoveMapping(fs.Arg(0), fs.Arg(1))
		if err != nil {
			return err
		}
		if !removed {
			return ldx.NotFoundError("no mapping %s for %s", fs.Arg(1), fs.Arg(0))
		}
		fmt.Fprintf(out, "removed %s for %s\n", fs.Arg(1), fs.Arg(0))
		return nil
	}
	return fmt.Errorf("mappings: unknown subcommand %q: %w", sub, errUsage)
}

func catalogCmd(out io.Writer, args []string) error {
	fs, cfgPath := newFlagSet("catalog")
	subteam := fs.String("subteam", "", "only list this subteam")
	if err := parse(fs, args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	cat, err := catalog.EnsureLoaded(cfg.CatalogPath)
	if err != nil {
		return err
	}
	if *subteam == "" {
		groups := cat.BySubteam()
		teams := make([]string, 0, len(groups))
		for team := range groups {
			teams = append(teams, team)
		}
		sort.Strings(teams)
		for _, team := range teams {
			fmt.Fprintf(out, "%s: %s\n", team, strings.Join(groups[team], ", "))
		}
	}
	var rows [][]string
	for _, e := range cat.Entries() {
		if *subteam != "" && !strings.EqualFold(e.Subteam, *subteam) {
			continue
		}
		rows = append(rows, []string{e.Name, e.DisplayName, e.Subteam, e.Unit, e.DefaultValue, e.MinValue, e.MaxValue})
	}
	if len(rows) == 0 {
		return ldx.NotFoundError("no catalog entries for subteam %q", *subteam)
	}
	return renderTable(out, []string{"NAME", "DISPLAY", "SUBTEAM", "UNIT", "DEFAULT", "MIN", "MAX"}, rows)
}
