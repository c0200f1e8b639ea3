package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	objfs "github.com/sgl-project/objclient/pkg/afero"
	"github.com/sgl-project/objclient/pkg/storage"
)

func (c *cli) lsCommand() *cobra.Command {
	var (
		all        bool
		maxResults int
		pageToken  string
	)
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List the objects and prefixes directly below a path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, d deps) error {
				var path string
				if len(args) == 1 {
					path = args[0]
				}
				loc, err := d.Client.Location(path)
				if err != nil {
					return err
				}

				var res *storage.ListResult
				if all {
					res, err = d.Client.ListAll(ctx, loc)
				} else {
					res, err = d.Client.List(ctx, loc, storage.WithMaxResults(maxResults), storage.WithPageToken(pageToken))
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				for _, p := range res.Prefixes {
					fmt.Fprintf(out, "%s/\n", p)
				}
				for _, item := range res.Items {
					fmt.Fprintln(out, item)
				}
				if res.NextPageToken != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "more results: --page-token %s\n", res.NextPageToken)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "follow page tokens until the listing is complete")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "page size, at most 1000; 0 lets the service decide")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "continue a previous listing")
	return cmd
}

func (c *cli) statCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Print the metadata of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, d deps) error {
				loc, err := d.Client.Location(args[0])
				if err != nil {
					return err
				}
				m, err := d.Client.GetMetadata(ctx, loc)
				if err != nil {
					return err
				}
				return printMetadata(cmd, loc, m)
			})
		},
	}
}

func printMetadata(cmd *cobra.Command, loc storage.Location, m *storage.Metadata) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	row := func(key, value string) {
		if value != "" {
			fmt.Fprintf(w, "%s:\t%s\n", key, value)
		}
	}
	row("Location", loc.String())
	row("Size", fmt.Sprint(m.Size))
	row("Content-Type", m.ContentType)
	row("Cache-Control", m.CacheControl)
	row("Content-Disposition", m.ContentDisposition)
	row("Content-Encoding", m.ContentEncoding)
	row("Content-Language", m.ContentLanguage)
	row("MD5", m.MD5Hash)
	row("Generation", m.Generation)
	row("Metageneration", m.Metageneration)
	if !m.TimeCreated.IsZero() {
		row("Created", m.TimeCreated.Format(time.RFC3339))
	}
	if !m.Updated.IsZero() {
		row("Updated", m.Updated.Format(time.RFC3339))
	}
	for _, k := range slices.Sorted(maps.Keys(m.CustomMetadata)) {
		row("Metadata "+k, m.CustomMetadata[k])
	}
	return w.Flush()
}

func (c *cli) urlCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "url <path>",
		Short: "Print a download URL for an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, d deps) error {
				loc, err := d.Client.Location(args[0])
				if err != nil {
					return err
				}
				u, err := d.Client.GetDownloadURL(ctx, loc)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), u)
				return nil
			})
		},
	}
}

func (c *cli) rmCommand() *cobra.Command {
	var parallel int
	cmd := &cobra.Command{
		Use:   "rm <path>...",
		Short: "Delete objects",
		Long:  "Delete objects. Every path is attempted; the failures are reported together.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if parallel < 1 {
				return fmt.Errorf("--parallel must be at least 1, got %d", parallel)
			}
			return c.run(cmd, func(ctx context.Context, d deps) error {
				locs := make([]storage.Location, 0, len(args))
				for _, arg := range args {
					loc, err := d.Client.Location(arg)
					if err != nil {
						return err
					}
					locs = append(locs, loc)
				}

				var (
					mu     sync.Mutex
					result *multierror.Error
					g      errgroup.Group
				)
				g.SetLimit(parallel)
				for _, loc := range locs {
					g.Go(func() error {
						err := d.Client.Delete(ctx, loc)
						mu.Lock()
						defer mu.Unlock()
						if err != nil {
							result = multierror.Append(result, fmt.Errorf("%s: %w", loc, err))
							return nil
						}
						fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", loc)
						return nil
					})
				}
				_ = g.Wait()
				return result.ErrorOrNil()
			})
		},
	}
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "number of concurrent deletions")
	return cmd
}

func (c *cli) catCommand() *cobra.Command {
	var maxBytes int64
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Write an object's content to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, d deps) error {
				loc, err := d.Client.Location(args[0])
				if err != nil {
					return err
				}
				data, err := d.Client.GetBytes(ctx, loc, storage.WithMaxDownloadSize(maxBytes))
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}
	cmd.Flags().Int64Var(&maxBytes, "max-bytes", 0, "fetch at most this many bytes; 0 fetches everything")
	return cmd
}

func (c *cli) getCommand() *cobra.Command {
	var maxBytes int64
	cmd := &cobra.Command{
		Use:   "get <path> <local>",
		Short: "Download an object to a local file",
		Long:  "Download an object to a local file. When <local> is a directory the object's name is kept.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, d deps) error {
				loc, err := d.Client.Location(args[0])
				if err != nil {
					return err
				}
				if loc.IsRoot() {
					return errors.New("cannot download a bucket root")
				}
				dest := args[1]
				if isDir, _ := afero.IsDir(d.Fs, dest); isDir || strings.HasSuffix(dest, "/") {
					dest = filepath.Join(dest, loc.Name())
				}

				data, err := d.Client.GetBytes(ctx, loc, storage.WithMaxDownloadSize(maxBytes))
				if err != nil {
					return err
				}
				n, err := objfs.AtomicWrite(d.Fs, dest, bytes.NewReader(data), 0o644)
				if err != nil {
					return fmt.Errorf("failed to write %s: %w", dest, err)
				}
				d.Logger.WithField("object", loc.String()).WithField("file", dest).Debugf("downloaded %d bytes", n)
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%d bytes)\n", loc, dest, n)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&maxBytes, "max-bytes", 0, "fetch at most this many bytes; 0 fetches everything")
	return cmd
}

func (c *cli) setMetaCommand() *cobra.Command {
	var (
		contentType        string
		cacheControl       string
		contentDisposition string
		contentEncoding    string
		contentLanguage    string
		custom             map[string]string
	)
	cmd := &cobra.Command{
		Use:   "setmeta <path>",
		Short: "Update the settable metadata of an object",
		Long:  "Update the settable metadata of an object. Only the flags given are changed; an empty value clears the field.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var m storage.SettableMetadata
			changed := false
			set := func(flag string, dst **string, value string) {
				if cmd.Flags().Changed(flag) {
					*dst = storage.String(value)
					changed = true
				}
			}
			set("content-type", &m.ContentType, contentType)
			set("cache-control", &m.CacheControl, cacheControl)
			set("content-disposition", &m.ContentDisposition, contentDisposition)
			set("content-encoding", &m.ContentEncoding, contentEncoding)
			set("content-language", &m.ContentLanguage, contentLanguage)
			if cmd.Flags().Changed("meta") {
				m.CustomMetadata = custom
				changed = true
			}
			if !changed {
				return errors.New("nothing to update")
			}

			return c.run(cmd, func(ctx context.Context, d deps) error {
				loc, err := d.Client.Location(args[0])
				if err != nil {
					return err
				}
				updated, err := d.Client.UpdateMetadata(ctx, loc, m)
				if err != nil {
					return err
				}
				return printMetadata(cmd, loc, updated)
			})
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content-Type")
	cmd.Flags().StringVar(&cacheControl, "cache-control", "", "Cache-Control")
	cmd.Flags().StringVar(&contentDisposition, "content-disposition", "", "Content-Disposition")
	cmd.Flags().StringVar(&contentEncoding, "content-encoding", "", "Content-Encoding")
	cmd.Flags().StringVar(&contentLanguage, "content-language", "", "Content-Language")
	cmd.Flags().StringToStringVar(&custom, "meta", nil, "custom metadata as key=value pairs")
	return cmd
}
