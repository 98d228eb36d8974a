package main

import (
	"context"
	"fmt"
	"io"
	"os/user"

	"example.com/ldxsync/internal/common"
	"example.com/ldxsync/internal/queue"
	"example.com/ldxsync/internal/store"
)

func queueCmd(out io.Writer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("queue: expected add, list or apply: %w", errUsage)
	}
	switch args[0] {
	case "add":
		return queueAdd(out, args[1:])
	case "list":
		return queueList(out, args[1:])
	case "apply":
		return queueApply(out, args[1:])
	default:
		return fmt.Errorf("queue: unknown subcommand %q: %w", args[0], errUsage)
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "ldxctl"
}

func queueAdd(out io.Writer, args []string) error {
	fs, cfgPath := newFlagSet("queue add")
	name := fs.StringP("name", "n", "", "parameter name")
	value := fs.StringP("value", "v", "", "new value")
	subteam := fs.String("subteam", "", "owning subteam")
	car := fs.String("car", "", "restrict the change to one car")
	by := fs.String("by", currentUser(), "submitter")
	comment := fs.String("comment", "", "comment")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *name == "" || !fs.Changed("value") {
		return fmt.Errorf("queue add: --name and --value are required: %w", errUsage)
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()
	change, err := st.Enqueue(context.Background(), store.QueueRequest{
		ParameterName: *name,
		Subteam:       *subteam,
		NewValue:      *value,
		SubmittedBy:   *by,
		Comment:       *comment,
		CarID:         *car,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "queued %s: %s = %s (current %q)\n", change.FormID, change.ParameterName, change.NewValue, change.CurrentValue)
	return nil
}

func queueList(out io.Writer, args []string) error {
	fs, cfgPath := newFlagSet("queue list")
	status := fs.String("status", store.StatusPending, "status filter, empty for all")
	car := fs.String("car", "", "car filter")
	if err := parse(fs, args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()
	changes, err := st.Queue(context.Background(), *status, *car)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		fmt.Fprintln(out, "queue is empty")
		return nil
	}
	rows := make([][]string, 0, len(changes))
	for _, c := range changes {
		rows = append(rows, []string{
			common.ShortHash(c.FormID), c.ParameterName, c.NewValue, c.CarID,
			c.SubmittedBy, c.SubmittedAt.Format("2006-01-02 15:04"), c.Status, c.LastError,
		})
	}
	return renderTable(out, []string{"FORM", "PARAMETER", "VALUE", "CAR", "BY", "SUBMITTED", "STATUS", "ERROR"}, rows)
}

func queueApply(out io.Writer, args []string) error {
	fs, cfgPath := newFlagSet("queue apply")
	car := fs.String("car", "", "car the file belongs to")
	verify := fs.String("verify", "", "verification policy: diagnostic or strict")
	if err := parse(fs, args); err != nil {
		return err
	}
	path, err := positional(fs, "an LDX file")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()
	metrics := common.NewMetrics()
	p, err := newPatcher(cfg, *verify)
	if err != nil {
		return err
	}
	rec := queue.NewReconciler(st, p, queue.NewLocker(), metrics)
	res, err := rec.Apply(context.Background(), path, *car)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, res.Message)
	if len(res.Applied) > 0 {
		rows := make([][]string, 0, len(res.Applied))
		for _, a := range res.Applied {
			rows = append(rows, []string{a.Name, a.Value, string(a.Kind), a.SubmittedBy})
		}
		if err := renderTable(out, []string{"APPLIED", "VALUE", "KIND", "BY"}, rows); err != nil {
			return err
		}
	}
	if len(res.Failed) > 0 {
		rows := make([][]string, 0, len(res.Failed))
		for _, f := range res.Failed {
			rows = append(rows, []string{f.ParameterName, f.Error})
		}
		if err := renderTable(out, []string{"FAILED", "ERROR"}, rows); err != nil {
			return err
		}
		return fmt.Errorf("%d queued change(s) failed and remain pending", len(res.Failed))
	}
	return nil
}
