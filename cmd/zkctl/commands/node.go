package commands

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lbrennan-zk/zkcore/internal/zk"
)

func createCmd() *cobra.Command {
	var (
		ephemeral bool
		sequence  bool
		fromStdin bool
	)

	cmd := &cobra.Command{
		Use:   "create <path> [data]",
		Short: "Create a znode",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			data, err := resolveData(args, fromStdin)
			if err != nil {
				return err
			}

			sess, err := openSession()
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			var flags zk.Flag
			if ephemeral {
				flags |= zk.FlagEphemeral
			}
			if sequence {
				flags |= zk.FlagSequence
			}

			created, err := sess.Create(args[0], data, zk.WorldACL(zk.PermAll), flags)
			if err != nil {
				return fmt.Errorf("create %q: %w", args[0], err)
			}

			fmt.Println(created)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&ephemeral, "ephemeral", "e", false, "create an ephemeral node")
	cmd.Flags().BoolVarP(&sequence, "sequence", "s", false, "append a sequential suffix")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read node data from stdin")

	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print a znode's data",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			res, err := sess.Get(args[0], nil)
			if err != nil {
				return fmt.Errorf("get %q: %w", args[0], err)
			}

			os.Stdout.Write(res.Data) //nolint:errcheck // best-effort CLI output
			fmt.Println()
			return nil
		},
	}
}

func setCmd() *cobra.Command {
	var (
		version   int32
		fromStdin bool
	)

	cmd := &cobra.Command{
		Use:   "set <path> [data]",
		Short: "Replace a znode's data",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			data, err := resolveData(args, fromStdin)
			if err != nil {
				return err
			}

			sess, err := openSession()
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			st, err := sess.Set(args[0], data, version)
			if err != nil {
				return fmt.Errorf("set %q: %w", args[0], err)
			}

			return printStat(st, outputFormat)
		},
	}

	cmd.Flags().Int32VarP(&version, "version", "v", -1, "expected current version (-1 for unconditional)")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read node data from stdin")

	return cmd
}

func deleteCmd() *cobra.Command {
	var version int32

	cmd := &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete a znode",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			if err := sess.Delete(args[0], version); err != nil {
				return fmt.Errorf("delete %q: %w", args[0], err)
			}

			fmt.Printf("%s deleted\n", args[0])
			return nil
		},
	}

	cmd.Flags().Int32VarP(&version, "version", "v", -1, "expected current version (-1 for unconditional)")
	return cmd
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "List a znode's children",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			res, err := sess.Children(args[0], nil)
			if err != nil {
				return fmt.Errorf("list children of %q: %w", args[0], err)
			}

			return printChildren(res.Children, outputFormat)
		},
	}
}

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Print a znode's Stat metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			exists, st, err := sess.Exists(args[0], nil)
			if err != nil {
				return fmt.Errorf("stat %q: %w", args[0], err)
			}
			if !exists {
				return fmt.Errorf("stat %q: %w", args[0], zk.ErrNoNode)
			}

			return printStat(st, outputFormat)
		},
	}
}

func addAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-auth <scheme> <credential>",
		Short: "Register an authentication credential with the session",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			if err := sess.AddAuth(args[0], []byte(args[1])); err != nil {
				return fmt.Errorf("add-auth %q: %w", args[0], err)
			}

			fmt.Println("credential registered")
			return nil
		},
	}
}

// resolveData extracts the node payload from the positional args, stdin
// (if requested), or an empty node body. A literal argument starting
// with "base64:" is decoded, letting binary payloads pass through shell
// quoting unscathed.
func resolveData(args []string, fromStdin bool) ([]byte, error) {
	if fromStdin {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	if len(args) < 2 {
		return nil, nil
	}
	const b64Prefix = "base64:"
	if len(args[1]) > len(b64Prefix) && args[1][:len(b64Prefix)] == b64Prefix {
		data, err := base64.StdEncoding.DecodeString(args[1][len(b64Prefix):])
		if err != nil {
			return nil, fmt.Errorf("decode base64 data: %w", err)
		}
		return data, nil
	}
	return []byte(args[1]), nil
}
