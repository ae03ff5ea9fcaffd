package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"handoverphotos/internal/integrity"
)

func newHashCommand() *cobra.Command {
	hashCmd := &cobra.Command{
		Use:         "hash <file>...",
		Short:       "Print the SHA-256 integrity hash of local files",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, path := range args {
				digest, size, err := hashFile(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s  %s  (%s)\n", digest, path, humanize.Bytes(uint64(size)))
			}
			return nil
		},
	}
	hashCmd.AddCommand(&cobra.Command{
		Use:   "verify <file> <hash>",
		Short: "Check a file against an expected integrity hash",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			expected := strings.ToLower(strings.TrimSpace(args[1]))
			if !integrity.ValidHash(expected) {
				return fmt.Errorf("%q is not a %d character hex digest", args[1], integrity.HashLength)
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			if !integrity.Verify(data, expected) {
				return fmt.Errorf("%s: hash mismatch (got %s)", args[0], integrity.Digest(data))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", args[0])
			return nil
		},
	})
	return hashCmd
}

func hashFile(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()
	digest, size, err := integrity.DigestReader(file)
	if err != nil {
		return "", 0, fmt.Errorf("%s: %w", path, err)
	}
	return digest, size, nil
}
