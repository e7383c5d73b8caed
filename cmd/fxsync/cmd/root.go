package cmd

import (
	"log/slog"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// kbEnv names the environment variable consulted when --kb is not given.
const kbEnv = "FXSYNC_KB"

var (
	keysFile   string
	kbHex      string
	collection string
	dbPath     string
	verbose    bool

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
)

var rootCmd = &cobra.Command{
	Use:   "fxsync",
	Short: "fxsync encrypts and decrypts Firefox Sync records",
	Long: `A client for the Firefox Sync record encryption protocol.

fxsync derives the main sync key from an account's kB, unwraps the
crypto/keys bundle, and uses the resulting bulk keys to verify, decrypt
and encrypt Sync records. Records can be kept encrypted in a local bbolt
database with the store commands.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		memguard.SafeExit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVar(&keysFile, "keys", "", `JSON file holding {"kB": ..., "cryptoKeys": {...}}`)
	rootCmd.PersistentFlags().StringVar(&kbHex, "kb", "", "hex encoded account key kB (default $"+kbEnv+")")
	rootCmd.PersistentFlags().StringVarP(&collection, "collection", "c", "", "collection whose bulk key is used")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "fxsync.db", "bbolt database used by the store commands")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
}
