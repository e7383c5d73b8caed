package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/fxsync/synccrypto"
)

// readInput returns the contents of args[0], or of stdin when no file or
// "-" is given.
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("cannot read file: %w", err)
	}
	return data, nil
}

// parseRecordInput accepts either a BSO, whose payload holds the record, or
// a bare encrypted record.
func parseRecordInput(data []byte) (*synccrypto.EncryptedRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err == nil {
		if _, ok := fields["payload"]; ok {
			bso, err := synccrypto.ParseBasicObject(data)
			if err != nil {
				return nil, err
			}
			return bso.Record()
		}
	}
	return synccrypto.ParseEncryptedRecord(data)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func decodeClearRecord(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("input is not JSON: %w", err)
	}
	return v, nil
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt [file]",
	Short: "Verify and decrypt a record or BSO",
	Long: `Reads an encrypted record ({"ciphertext","IV","hmac"}) or a BSO whose
payload holds one, verifies its HMAC and prints the decrypted JSON.
Reads stdin when no file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, args)
		if err != nil {
			return err
		}
		rec, err := parseRecordInput(data)
		if err != nil {
			return err
		}
		client, err := loadClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Destroy()

		v, err := client.Decrypt(cmd.Context(), rec, synccrypto.WithCollection(collection))
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), v)
	},
}

var encryptID string

var encryptCmd = &cobra.Command{
	Use:   "encrypt [file]",
	Short: "Encrypt a JSON record",
	Long: `Encrypts a JSON document with the bulk key of --collection and prints
the encrypted record. With --id the record is wrapped in a BSO.
Reads stdin when no file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, args)
		if err != nil {
			return err
		}
		v, err := decodeClearRecord(data)
		if err != nil {
			return err
		}
		client, err := loadClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Destroy()

		rec, err := client.Encrypt(cmd.Context(), v, synccrypto.WithCollection(collection))
		if err != nil {
			return err
		}
		if encryptID == "" {
			return writeJSON(cmd.OutOrStdout(), rec)
		}
		bso, err := synccrypto.NewBasicObject(encryptID, rec)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), bso)
	},
}

func init() {
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(encryptCmd)
	encryptCmd.Flags().StringVar(&encryptID, "id", "", "wrap the record in a BSO with this id")
}
