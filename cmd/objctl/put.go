package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	objfs "github.com/sgl-project/objclient/pkg/afero"
	"github.com/sgl-project/objclient/pkg/storage"
	"github.com/sgl-project/objclient/pkg/upload"
)

// defaultResumableThreshold is the file size from which put switches to a
// resumable session.
const defaultResumableThreshold = 8 << 20

type putOptions struct {
	resumable   bool
	threshold   int64
	chunkSize   int64
	contentType string
	sessionURL  string
	noProgress  bool
	custom      map[string]string
}

func (c *cli) putCommand() *cobra.Command {
	var o putOptions
	cmd := &cobra.Command{
		Use:   "put <local>... <path>",
		Short: "Upload local files",
		Long: "Upload local files. Patterns in <local> are expanded. With several sources, or when <path> ends in a slash, " +
			"each file is stored below <path> under its base name.\n\n" +
			"Files from --resumable-threshold up, or every file with --resumable, go through a resumable session. " +
			"Interrupting such an upload prints the session URL; pass it back with --session-url to continue.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.chunkSize < 0 {
				return fmt.Errorf("--chunk-size must not be negative, got %d", o.chunkSize)
			}
			return c.run(cmd, func(ctx context.Context, d deps) error {
				target := args[len(args)-1]
				dest, err := d.Client.Location(target)
				if err != nil {
					return err
				}

				var sources []string
				for _, pattern := range args[:len(args)-1] {
					matches, err := objfs.Glob(d.Fs, pattern)
					if err != nil {
						return err
					}
					sources = append(sources, matches...)
				}
				into := len(sources) > 1 || strings.HasSuffix(target, "/") || dest.IsRoot()
				if o.sessionURL != "" && len(sources) > 1 {
					return errors.New("--session-url needs exactly one source file")
				}

				for _, src := range sources {
					loc := dest
					if into {
						loc = dest.Child(filepath.Base(src))
					}
					if err := o.putFile(ctx, cmd, d, src, loc); err != nil {
						return fmt.Errorf("%s: %w", src, err)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&o.resumable, "resumable", "r", false, "always use a resumable session")
	cmd.Flags().Int64Var(&o.threshold, "resumable-threshold", defaultResumableThreshold, "file size from which a resumable session is used")
	cmd.Flags().Int64Var(&o.chunkSize, "chunk-size", 0, "resumable chunk size in bytes; 0 uses the configured size")
	cmd.Flags().StringVar(&o.contentType, "content-type", "", "Content-Type of the stored objects")
	cmd.Flags().StringVar(&o.sessionURL, "session-url", "", "continue an interrupted resumable upload")
	cmd.Flags().StringToStringVar(&o.custom, "meta", nil, "custom metadata as key=value pairs")
	cmd.Flags().BoolVar(&o.noProgress, "no-progress", false, "never render upload progress")
	return cmd
}

func (o *putOptions) putFile(ctx context.Context, cmd *cobra.Command, d deps, path string, loc storage.Location) error {
	f, size, err := objfs.OpenSized(d.Fs, path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var opts []storage.UploadOption
	if o.contentType != "" {
		opts = append(opts, storage.WithContentType(o.contentType))
	}
	if len(o.custom) > 0 {
		opts = append(opts, storage.WithCustomMetadata(o.custom))
	}
	if !o.noProgress {
		if reporter := progressReporter(cmd.ErrOrStderr(), filepath.Base(path)); reporter != nil {
			opts = append(opts, storage.WithUploadProgress(reporter))
		}
	}

	log := d.Logger.WithField("file", path).WithField("object", loc.String())
	if !o.resumable && o.sessionURL == "" && size < o.threshold {
		data, err := io.ReadAll(f)
		if err != nil {
			return err
		}
		if _, err := d.Client.Upload(ctx, loc, data, opts...); err != nil {
			return err
		}
		log.Debugf("uploaded %d bytes in one request", size)
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%d bytes)\n", path, loc, size)
		return nil
	}

	if o.chunkSize > 0 {
		opts = append(opts, storage.WithChunkSize(o.chunkSize))
	}
	if o.sessionURL != "" {
		opts = append(opts, storage.WithSessionURL(o.sessionURL))
	}
	task, err := d.Client.NewUpload(loc, upload.FromSizedReader(f, size), opts...)
	if err != nil {
		return err
	}
	log = log.WithField("task", task.ID())
	if err := task.Start(ctx); err != nil {
		return err
	}
	if _, err := task.Wait(context.Background()); err != nil {
		snap := task.Snapshot()
		if snap.State == upload.StateCanceled && snap.SessionURL != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "upload of %s interrupted after %d of %d bytes; continue with --session-url %s\n",
				path, snap.BytesTransferred, size, snap.SessionURL)
		}
		return err
	}
	log.Debugf("uploaded %d bytes through a resumable session", size)
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%d bytes)\n", path, loc, size)
	return nil
}

// progressReporter renders a single updating line on w, or returns nil when w
// is not a terminal.
func progressReporter(w io.Writer, name string) storage.ProgressReporter {
	fd, ok := w.(interface{ Fd() uintptr })
	if !ok || !term.IsTerminal(int(fd.Fd())) {
		return nil
	}
	return storage.NewProgressTracker(func(p storage.Progress) {
		fmt.Fprint(w, "\r\033[K", formatProgress(name, p))
		if p.Finished {
			fmt.Fprintln(w)
		}
	})
}

func formatProgress(name string, p storage.Progress) string {
	switch {
	case p.Error != nil:
		return fmt.Sprintf("%s: failed after %s", name, humanize.IBytes(uint64(p.ProcessedBytes)))
	case p.Finished:
		return fmt.Sprintf("%s: %s in %s", name, humanize.IBytes(uint64(p.ProcessedBytes)), p.ElapsedTime.Round(100*time.Millisecond))
	case p.TotalBytes > 0:
		return fmt.Sprintf("%s: %s / %s (%.0f%%) %s/s, %s left", name,
			humanize.IBytes(uint64(p.ProcessedBytes)), humanize.IBytes(uint64(p.TotalBytes)),
			float64(p.ProcessedBytes)*100/float64(p.TotalBytes),
			humanize.IBytes(uint64(p.AverageSpeed)), p.EstimatedTime.Round(time.Second))
	default:
		return fmt.Sprintf("%s: %s %s/s", name, humanize.IBytes(uint64(p.ProcessedBytes)), humanize.IBytes(uint64(p.AverageSpeed)))
	}
}
