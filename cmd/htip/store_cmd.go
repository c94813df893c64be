package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	dxstore "github.com/najmus-sakib-hossain/dx-www-runtime/store"
)

var (
	storeManifestPath string
	storeArtifactID   string
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect and manage the version/delta store",
}

var storePutCmd = &cobra.Command{
	Use:   "put <bytes-file>",
	Short: "Hash and record a new version, printing its hash",
	Args:  cobra.ExactArgs(1),
	RunE:  runStorePut,
}

var storeDiffCmd = &cobra.Command{
	Use:   "diff <base-file> <target-file>",
	Short: "Produce a patch turning base into target, written to stdout as DXP1 bytes",
	Args:  cobra.ExactArgs(2),
	RunE:  runStoreDiff,
}

var storeApplyCmd = &cobra.Command{
	Use:   "apply <base-file> <patch-file>",
	Short: "Apply a DXP1 patch to base, writing the reconstructed target to stdout",
	Args:  cobra.ExactArgs(2),
	RunE:  runStoreApply,
}

func init() {
	storeCmd.PersistentFlags().StringVar(&storeManifestPath, "manifest", "htip-store.yaml", "manifest file path")
	storeCmd.PersistentFlags().StringVar(&storeArtifactID, "artifact", "default", "artifact id within the manifest")
	storeCmd.AddCommand(storePutCmd, storeDiffCmd, storeApplyCmd)
}

func runStorePut(cmd *cobra.Command, args []string) error {
	data, err := readFile(args[0])
	if err != nil {
		return err
	}
	// The manifest only records hash/timestamp metadata, not bytes (see
	// store/manifest.go), so a fresh Store cannot be rehydrated from a
	// prior run's manifest alone; each `store put` invocation records one
	// version against an otherwise-empty ring buffer.
	s := dxstore.New(dxstore.DefaultCapacity, log)
	hash := s.Put(data)

	m := &dxstore.Manifest{}
	s.Snapshot(storeArtifactID, m)
	if err := dxstore.SaveManifest(storeManifestPath, m); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", hash)
	return nil
}

func runStoreDiff(cmd *cobra.Command, args []string) error {
	base, err := readFile(args[0])
	if err != nil {
		return err
	}
	target, err := readFile(args[1])
	if err != nil {
		return err
	}
	patch := dxstore.MakePatch(base, target)
	_, err = cmd.OutOrStdout().Write(dxstore.Encode(patch))
	return err
}

func runStoreApply(cmd *cobra.Command, args []string) error {
	base, err := readFile(args[0])
	if err != nil {
		return err
	}
	raw, err := readFile(args[1])
	if err != nil {
		return err
	}
	patch, err := dxstore.Decode(raw)
	if err != nil {
		return fmt.Errorf("htip: decode patch: %w", err)
	}
	target, err := dxstore.ApplyPatch(base, patch)
	if err != nil {
		return fmt.Errorf("htip: apply patch: %w", err)
	}
	_, err = os.Stdout.Write(target)
	return err
}
