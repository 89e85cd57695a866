package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ClippyCDN/clippy/internal/config"
	"github.com/ClippyCDN/clippy/internal/logging"
	"github.com/ClippyCDN/clippy/internal/storage"
)

func newStorageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Operate on stored objects directly",
		Long: `Operate on stored objects through the same backend the server uses.

The backend comes from the server configuration unless --backend is given,
in which case --backend-config holds its JSON settings, for example:

  clippy storage cat u1/abc.png --backend local --backend-config '{"root_path":"/srv/clippy"}'
  clippy storage cat u1/abc.png --backend minio --backend-config '{"endpoint":"localhost:9000","bucket":"clippy"}'`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			level := "warn"
			if verbose {
				level = "debug"
			}
			return logging.Init(logging.Config{Level: level, Format: "console", OutputPath: "stderr"})
		},
	}
	cmd.PersistentFlags().String("backend", "", "backend type: local, s3 or minio")
	cmd.PersistentFlags().String("backend-config", "{}", "backend settings as JSON")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "log storage operations")

	cmd.AddCommand(
		newPutCmd(),
		newCatCmd(),
		newRmCmd(),
		newMvCmd(),
		newStatCmd(),
	)
	return cmd
}

// openStorage returns the backend selected by flags, or the configured one.
func openStorage(cmd *cobra.Command) (*storage.Storage, error) {
	ctx := cmd.Context()
	backend, _ := cmd.Flags().GetString("backend")
	if backend != "" {
		raw, _ := cmd.Flags().GetString("backend-config")
		d, err := storage.NewDriverFromJSON(ctx, backend, json.RawMessage(raw))
		if err != nil {
			return nil, err
		}
		return storage.NewStorage(d), nil
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	return storage.New(ctx, cfg.Storage())
}

// withStorage opens the backend, runs fn and closes the backend.
func withStorage(cmd *cobra.Command, fn func(ctx context.Context, s *storage.Storage) error) error {
	s, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(cmd.Context(), s)
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <file|->",
		Short: "Upload a local file, or stdin when the file is -",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, src := args[0], args[1]
			return withStorage(cmd, func(ctx context.Context, s *storage.Storage) error {
				if src == "-" {
					data, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("read stdin: %w", err)
					}
					if !s.Save(ctx, key, data) {
						return fmt.Errorf("save %s failed", key)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "stored %s (%d bytes)\n", key, len(data))
					return nil
				}

				f, err := os.Open(src)
				if err != nil {
					return err
				}
				defer f.Close()
				info, err := f.Stat()
				if err != nil {
					return err
				}
				if !s.SaveStream(ctx, key, f, info.Size()) {
					return fmt.Errorf("save %s failed", key)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s (%d bytes)\n", key, info.Size())
				return nil
			})
		},
	}
}

func newCatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat <key>",
		Short: "Write an object, or a byte range of it, to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			rangeFlag, _ := cmd.Flags().GetString("range")
			return withStorage(cmd, func(ctx context.Context, s *storage.Storage) error {
				var rc io.ReadCloser
				if rangeFlag != "" {
					start, end, err := parseByteRange(rangeFlag)
					if err != nil {
						return err
					}
					rc = s.GetRangeStream(ctx, key, start, end)
				} else {
					rc = s.GetStream(ctx, key)
				}
				if rc == nil {
					return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
				}
				defer rc.Close()
				_, err := io.Copy(cmd.OutOrStdout(), rc)
				return err
			})
		},
	}
	cmd.Flags().String("range", "", "inclusive byte range start-end")
	return cmd
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key>...",
		Short: "Delete objects; missing keys are not an error",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(ctx context.Context, s *storage.Storage) error {
				var errs []error
				for _, key := range args {
					if !s.Delete(ctx, key) {
						errs = append(errs, fmt.Errorf("delete %s failed", key))
					}
				}
				return errors.Join(errs...)
			})
		},
	}
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <old-key> <new-key>",
		Short: "Rename an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(ctx context.Context, s *storage.Storage) error {
				if !s.Rename(ctx, args[0], args[1]) {
					return fmt.Errorf("rename %s -> %s failed", args[0], args[1])
				}
				return nil
			})
		},
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <key>",
		Short: "Print the size of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(ctx context.Context, s *storage.Storage) error {
				size, ok := s.Size(ctx, args[0])
				if !ok {
					return fmt.Errorf("%s: %w", args[0], storage.ErrNotFound)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", args[0], size, s.Type())
				return nil
			})
		},
	}
}

// parseByteRange parses "start-end" with both bounds inclusive.
func parseByteRange(v string) (int64, int64, error) {
	startStr, endStr, ok := strings.Cut(v, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid range %q: want start-end", v)
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start %q: %w", startStr, err)
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range end %q: %w", endStr, err)
	}
	if start < 0 || end < start {
		return 0, 0, fmt.Errorf("invalid range %q", v)
	}
	return start, end, nil
}
