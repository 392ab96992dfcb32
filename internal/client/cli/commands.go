package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/NadirInab/datavis-sub001/internal/client/client"
	"github.com/NadirInab/datavis-sub001/internal/client/gate"
	"github.com/NadirInab/datavis-sub001/internal/client/policy"
	"github.com/NadirInab/datavis-sub001/internal/client/services"
	"github.com/NadirInab/datavis-sub001/internal/client/syncer"
	"github.com/NadirInab/datavis-sub001/internal/common"
	"github.com/dustin/go-humanize"
)

const defaultShareTTL = 15 * time.Minute

var (
	errUsage       = errors.New("missing argument")
	errNotPositive = errors.New("must be positive")
)

func size(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func (a *App) printDenial(d gate.Decision) {
	fmt.Fprintf(a.out, "Denied: %s\n", d.Message)
	if d.Detail != "" {
		fmt.Fprintf(a.out, "  %s\n", d.Detail)
	}
	if d.RetryAfter > 0 {
		fmt.Fprintf(a.out, "  try again in %s\n", d.RetryAfter.Round(time.Second))
	}
	if u := d.Upgrade; u != nil {
		if u.Action == "signup" {
			fmt.Fprintf(a.out, "  sign up for the %s tier to lift this limit\n", u.Suggested)
		} else {
			fmt.Fprintf(a.out, "  upgrade to the %s tier to lift this limit\n", u.Suggested)
		}
	}
}

func (a *App) Login(ctx context.Context, args []string) error {
	var token string
	if len(args) > 0 {
		token = args[0]
	} else {
		t, err := GetToken(a.out)
		if err != nil {
			fmt.Fprintln(a.out, "Error reading token:", err)
			return err
		}
		token = t
	}

	p, err := a.svc.SignIn(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			fmt.Fprintln(a.out, "Login failed: the token has expired")
		} else {
			fmt.Fprintln(a.out, "Login failed:", err)
		}
		return err
	}
	fmt.Fprintf(a.out, "Signed in as %s (%s tier)\n", p.ID, p.Tier)
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	a.svc.SignOut(ctx)
	fmt.Fprintln(a.out, "Signed out, continuing as visitor")
	return nil
}

func (a *App) Whoami(ctx context.Context) error {
	w := a.svc.Whoami(ctx)
	fmt.Fprintf(a.out, "identity: %s (%s, %s tier)\n", w.Principal.ID, w.Principal.Kind, w.Principal.Tier)
	fmt.Fprintf(a.out, "device:   %s since %s\n", w.Device.ID, w.Device.CreatedAt.Format(time.RFC3339))
	switch {
	case a.remote == nil:
		fmt.Fprintln(a.out, "remote:   none")
	case w.Online:
		fmt.Fprintln(a.out, "remote:   online")
	default:
		fmt.Fprintln(a.out, "remote:   offline")
	}
	return nil
}

// Upload stores the file at args[0]. args[1], when present, overrides the
// format taken from the file extension.
func (a *App) Upload(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintln(a.out, "Error reading file:", err)
		return err
	}
	req := services.UploadRequest{Name: filepath.Base(args[0]), Data: data}
	if len(args) > 1 {
		req.Format = args[1]
	}
	return a.store(ctx, req)
}

// Paste stores text typed at the prompt under the name args[0].
func (a *App) Paste(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	text, err := GetMultiline(a.reader, "Paste file contents", a.out)
	if err != nil {
		return err
	}
	if text == "" {
		fmt.Fprintln(a.out, "Nothing to store")
		return nil
	}
	req := services.UploadRequest{Name: args[0], Data: []byte(text)}
	if len(args) > 1 {
		req.Format = args[1]
	}
	return a.store(ctx, req)
}

func (a *App) store(ctx context.Context, req services.UploadRequest) error {
	res, err := a.svc.Upload(ctx, a.principal(), req)
	if err != nil {
		if errors.Is(err, common.ErrQuotaExceededOnWrite) {
			fmt.Fprintln(a.out, "Upload failed: local storage is full even after eviction")
		} else {
			fmt.Fprintln(a.out, "Upload failed:", err)
		}
		return err
	}
	if !res.Decision.Allowed {
		a.printDenial(res.Decision)
		return res.Decision.Err()
	}

	r := res.Record
	fmt.Fprintf(a.out, "Stored %s as %s (%s, %s)\n", r.Name, r.ID, r.Format, size(r.Size))
	if res.Reduced {
		fmt.Fprintf(a.out, "  payload reduced from %s to fit\n", size(r.OriginalSize))
	}
	for _, id := range res.Evicted {
		fmt.Fprintf(a.out, "  evicted %s to make room\n", id)
	}
	if res.Decision.RemainingFiles == policy.Unlimited {
		fmt.Fprintf(a.out, "  %s left\n", size(res.Decision.RemainingBytes))
	} else {
		fmt.Fprintf(a.out, "  %d files and %s left\n", res.Decision.RemainingFiles, size(res.Decision.RemainingBytes))
	}
	return nil
}

func (a *App) List(ctx context.Context) error {
	items, err := a.svc.List(ctx, a.principal())
	if err != nil {
		fmt.Fprintln(a.out, "Error listing files:", err)
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(a.out, "No files stored")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tFORMAT\tSIZE\tLAST USED")
	for _, it := range items {
		name := it.Name
		if it.Reduced {
			name += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", it.ID, name, it.Format, size(it.Size), humanize.Time(it.LastAccess))
	}
	return tw.Flush()
}

func (a *App) Show(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	rec, err := a.svc.Get(ctx, a.principal(), args[0])
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			fmt.Fprintln(a.out, "No such file:", args[0])
		} else {
			fmt.Fprintln(a.out, "Error reading file:", err)
		}
		return err
	}

	fmt.Fprintf(a.out, "%s (%s, %s)\n", rec.Name, rec.Format, size(rec.Size))
	fmt.Fprintf(a.out, "created %s, last used %s\n", rec.CreatedAt.Format(time.RFC3339), humanize.Time(rec.LastAccess))
	if rec.Reduced {
		fmt.Fprintf(a.out, "reduced from %s\n", size(rec.OriginalSize))
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, rec.Payload, "", "  "); err != nil {
		buf.Reset()
		buf.Write(rec.Payload)
	}
	fmt.Fprintln(a.out, buf.String())
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	if err := a.svc.Delete(ctx, a.principal(), args[0]); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			fmt.Fprintln(a.out, "No such file:", args[0])
		} else {
			fmt.Fprintln(a.out, "Delete failed:", err)
		}
		return err
	}
	fmt.Fprintln(a.out, "Deleted", args[0])
	return nil
}

func (a *App) Stats(ctx context.Context) error {
	s, err := a.svc.Stats(ctx, a.principal())
	if err != nil {
		fmt.Fprintln(a.out, "Error reading stats:", err)
		return err
	}
	l := s.Limits

	files := "unlimited"
	if !l.UnlimitedFiles() {
		files = strconv.Itoa(l.MaxFiles)
	}
	fmt.Fprintf(a.out, "tier:    %s\n", s.Principal.Tier)
	fmt.Fprintf(a.out, "files:   %d / %s\n", s.Files, files)
	fmt.Fprintf(a.out, "storage: %s / %s (max %s per file)\n", size(s.Bytes), size(l.MaxBytes), size(l.MaxFileSize))
	if l.MaxUploadsPerWindow > 0 && l.Window > 0 {
		recent := s.Usage.UploadsSince(time.Now().Add(-l.Window))
		fmt.Fprintf(a.out, "uploads: %d / %d per %s\n", recent, l.MaxUploadsPerWindow, l.Window)
	}
	fmt.Fprintf(a.out, "total:   %d uploads, %s\n", s.Usage.TotalUploads, size(s.Usage.TotalBytes))
	if !s.Usage.LastUpload.IsZero() {
		fmt.Fprintf(a.out, "last:    %s\n", humanize.Time(s.Usage.LastUpload))
	}
	fmt.Fprintf(a.out, "pending: %d\n", s.Pending)
	return nil
}

func (a *App) Feature(_ context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	d := a.svc.CheckFeature(a.principal(), args[0])
	if !d.Allowed {
		a.printDenial(d)
		return d.Err()
	}
	fmt.Fprintf(a.out, "Feature %s is available\n", args[0])
	return nil
}

// Share prints a time-limited download link for args[0]. args[1] is an
// optional lifetime such as 1h.
func (a *App) Share(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	ttl := defaultShareTTL
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err == nil && d <= 0 {
			err = errNotPositive
		}
		if err != nil {
			fmt.Fprintln(a.out, "Invalid lifetime:", args[1])
			return fmt.Errorf("parse ttl %q: %w", args[1], err)
		}
		ttl = d
	}

	p := a.principal()
	if d := a.svc.CheckFeature(p, policy.FeatureAPISync); !d.Allowed {
		a.printDenial(d)
		return d.Err()
	}

	link, err := a.svc.ShareLink(ctx, p, args[0], ttl)
	switch {
	case errors.Is(err, services.ErrShareUnsupported):
		fmt.Fprintln(a.out, "The configured remote cannot create share links")
		return err
	case errors.Is(err, common.ErrorNotFound):
		fmt.Fprintln(a.out, "No such file:", args[0])
		return err
	case err != nil:
		fmt.Fprintln(a.out, "Share failed:", err)
		return err
	}
	fmt.Fprintf(a.out, "%s\n(valid for %s)\n", link, ttl)
	return nil
}

func (a *App) Sync(ctx context.Context) error {
	res, err := a.svc.Sync(ctx, a.principal())
	switch {
	case errors.Is(err, syncer.ErrNoRemote):
		fmt.Fprintln(a.out, "No remote configured, files stay local")
		return err
	case errors.Is(err, syncer.ErrDrainInProgress):
		fmt.Fprintln(a.out, "A sync is already running")
		return err
	case errors.Is(err, client.ErrUnavailable):
		fmt.Fprintf(a.out, "Remote unavailable, %d operations remain queued\n", res.Remaining)
		return err
	case err != nil:
		fmt.Fprintln(a.out, "Sync failed:", err)
		return err
	}
	fmt.Fprintf(a.out, "Applied %d, skipped %d, requeued %d, dead %d, remaining %d\n",
		res.Applied, res.Skipped, res.Requeued, res.Dead, res.Remaining)
	return nil
}

func (a *App) Pending(ctx context.Context) error {
	tasks, err := a.svc.Pending(ctx, a.principal())
	if err != nil {
		fmt.Fprintln(a.out, "Error reading queue:", err)
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(a.out, "Nothing pending")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tOP\tKEY\tATTEMPTS\tQUEUED\tLAST ERROR")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			t.Seq, t.Operation, t.IdempotencyKey, t.Attempts, humanize.Time(t.EnqueuedAt), t.LastError)
	}
	return tw.Flush()
}

// Cleanup expires usage ledgers idle for args[0] days, or for the configured
// retention when no argument is given.
func (a *App) Cleanup(ctx context.Context, args []string) error {
	days := a.config.RetentionDays
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err == nil && n <= 0 {
			err = errNotPositive
		}
		if err != nil {
			fmt.Fprintln(a.out, "Invalid number of days:", args[0])
			return fmt.Errorf("parse days %q: %w", args[0], err)
		}
		days = n
	}
	n, err := a.svc.Cleanup(ctx, days)
	if err != nil {
		fmt.Fprintln(a.out, "Cleanup failed:", err)
		return err
	}
	fmt.Fprintf(a.out, "Removed %d idle usage ledgers\n", n)
	return nil
}
