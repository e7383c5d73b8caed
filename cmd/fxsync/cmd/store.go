package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	boltstore "github.com/jmcleod/fxsync/storage/bbolt"
	"github.com/jmcleod/fxsync/synccrypto"
)

// openStore opens the --db repository and a client for --keys. The returned
// func releases both.
func openStore(cmd *cobra.Command) (*synccrypto.RecordStore, func(), error) {
	client, err := loadClient(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	repo, err := boltstore.NewRepositoryFromFile(dbPath, nil)
	if err != nil {
		client.Destroy()
		return nil, nil, fmt.Errorf("failed to open record storage: %w", err)
	}
	closeFn := func() {
		if err := repo.Close(); err != nil {
			logger.Warn("closing record storage", slog.Any("error", err))
		}
		client.Destroy()
	}
	return synccrypto.NewRecordStore(client, repo), closeFn, nil
}

func requireCollection() error {
	if collection == "" {
		return errors.New("--collection is required")
	}
	return nil
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Keep Sync records encrypted in a local database",
	Long: `Commands for a local bbolt database of Sync records. Records are
encrypted with the collection's bulk key before they are written and are
verified before they are decrypted on the way out.`,
}

var storePutCmd = &cobra.Command{
	Use:   "put <id> [file]",
	Short: "Encrypt a JSON record and store it",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCollection(); err != nil {
			return err
		}
		data, err := readInput(cmd, args[1:])
		if err != nil {
			return err
		}
		v, err := decodeClearRecord(data)
		if err != nil {
			return err
		}
		s, closeFn, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		if err := s.Put(cmd.Context(), collection, args[0], v); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %s/%s\n", collection, args[0])
		return nil
	},
}

var storeGetRaw bool

var storeGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print a stored record, decrypted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCollection(); err != nil {
			return err
		}
		s, closeFn, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if storeGetRaw {
			bso, err := s.GetObject(cmd.Context(), collection, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), bso)
		}
		var v any
		if err := s.Get(cmd.Context(), collection, args[0], &v); err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), v)
	},
}

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List record IDs, or collections when --collection is empty",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closeFn, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		var names []string
		if collection == "" {
			names, err = s.Collections(cmd.Context())
		} else {
			names, err = s.List(cmd.Context(), collection)
		}
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

var storeImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import a JSON array of BSOs fetched from a Sync server",
	Long: `Imports BSOs as returned by a Sync storage server. Every BSO must verify
and decrypt under the collection's key before any of them is written.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCollection(); err != nil {
			return err
		}
		data, err := readInput(cmd, args)
		if err != nil {
			return err
		}
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("input is not a JSON array: %w", err)
		}
		bsos := make([]*synccrypto.BasicObject, 0, len(raw))
		for i, r := range raw {
			bso, err := synccrypto.ParseBasicObject(r)
			if err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			bsos = append(bsos, bso)
		}

		s, closeFn, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		if err := s.Import(cmd.Context(), collection, bsos); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d record(s) into %s\n", len(bsos), collection)
		return nil
	},
}

var storeDeleteAll bool

var storeDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a record, or the whole collection with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCollection(); err != nil {
			return err
		}
		if storeDeleteAll == (len(args) == 1) {
			return errors.New("give either an id or --all")
		}
		s, closeFn, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if storeDeleteAll {
			if err := s.DeleteCollection(cmd.Context(), collection); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted collection %s\n", collection)
			return nil
		}
		if err := s.Delete(cmd.Context(), collection, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s/%s\n", collection, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storePutCmd, storeGetCmd, storeListCmd, storeImportCmd, storeDeleteCmd)
	storeGetCmd.Flags().BoolVar(&storeGetRaw, "raw", false, "print the stored BSO without decrypting it")
	storeDeleteCmd.Flags().BoolVar(&storeDeleteAll, "all", false, "delete every record in the collection")
}
