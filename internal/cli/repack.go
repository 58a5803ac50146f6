package cli

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/ralt/debrepack/internal/archive"
	"github.com/ralt/debrepack/internal/models"
	"github.com/ralt/debrepack/internal/pkgset"
	"github.com/ralt/debrepack/internal/repack"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// envPrefix namespaces the environment variables overriding flags,
// e.g. DEBREPACK_MERGE_DIR for --merge-dir
const envPrefix = "DEBREPACK"

// NewRepackCmd creates the repack command
func NewRepackCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "repack <bomin> <bomout>",
		Short: "Repack packages and rewrite the SBOM",
		Long: `Reads the SBOM <bomin>, repacks the artifacts found in the download
directory for every package it describes and writes the annotated SBOM
to <bomout>. Use - for stdin or stdout.

With --partial, a package subset is read from stdin, one purl or
"<name> <version> <arch>" record per line, and only those packages are
repacked.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			if err := loadConfig(v, cmd, configFile); err != nil {
				return err
			}

			config, err := validateConfig(v, args)
			if err != nil {
				return err
			}

			var subset pkgset.Set
			if config.Partial {
				if subset, err = readSubset(os.Stdin); err != nil {
					return err
				}
			}

			logrus.Info("Starting repack...")
			logrus.Debugf("Configuration: %+v", *config)

			result, err := repack.Run(cmd.Context(), config, subset)
			if err != nil {
				return err
			}

			logrus.Infof("Repacked %d packages (%d skipped), annotated %d, pruned %d nodes",
				result.Repacked, result.Skipped, result.Annotated, result.Pruned)
			if result.Signature != "" {
				logrus.Infof("Signature: %s", result.Signature)
			}
			return nil
		},
	}

	// Input/Output flags
	cmd.Flags().String("dldir", "downloads", "Download directory holding the package artifacts")
	cmd.Flags().String("outdir", "packed", "Output directory for repacked archives")
	cmd.Flags().String("merge-dir", "merged", "Cache directory for merged source archives")

	// Archive flags
	cmd.Flags().String("format", "standard-bom", "Archive layout format")
	cmd.Flags().String("compress", "gzip", "Compression for merged source archives (none, gzip, xz, zstd)")
	cmd.Flags().Bool("apply-patches", false, "Apply Debian patches to merged source archives")
	cmd.Flags().Bool("copy", false, "Copy artifacts instead of symlinking them")
	cmd.Flags().String("mtime", "", "Fixed mtime for archive entries (RFC 3339, YYYY-MM-DD or @epoch)")
	cmd.Flags().StringSlice("checksums", []string{string(models.SHA256)}, "Checksum algorithms to record")

	// Filtering flags
	cmd.Flags().Bool("sources", false, "Only process source packages")
	cmd.Flags().Bool("binaries", false, "Only process binary packages")
	cmd.Flags().Bool("partial", false, "Only repack the packages listed on stdin")

	// Output document flags
	cmd.Flags().Bool("validate", false, "Validate the SBOM before writing it")
	cmd.Flags().String("sign-key", "", "Path to GPG private key signing the output SBOM")
	cmd.Flags().String("sign-passphrase", "", "GPG key passphrase")

	cmd.Flags().IntP("jobs", "j", runtime.NumCPU(), "Number of parallel repack workers")

	return cmd
}

// loadConfig layers flags, DEBREPACK_* environment variables and the
// optional config file into v
func loadConfig(v *viper.Viper, cmd *cobra.Command, configFile string) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return models.NewError(models.ErrInvalidConfig, "", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		return nil
	}
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return models.NewError(models.ErrInvalidConfig, "", fmt.Errorf("failed to read config %s: %w", configFile, err))
	}
	logrus.Debugf("Using config file: %s", v.ConfigFileUsed())
	return nil
}

func validateConfig(v *viper.Viper, args []string) (*models.RepackConfig, error) {
	if len(args) != 2 {
		return nil, invalidConfig("expected <bomin> and <bomout>")
	}

	config := &models.RepackConfig{
		BomIn:          args[0],
		BomOut:         args[1],
		DlDir:          v.GetString("dldir"),
		OutDir:         v.GetString("outdir"),
		MergeDir:       v.GetString("merge-dir"),
		Format:         v.GetString("format"),
		Compress:       v.GetString("compress"),
		ApplyPatches:   v.GetBool("apply-patches"),
		Copy:           v.GetBool("copy"),
		Sources:        v.GetBool("sources"),
		Binaries:       v.GetBool("binaries"),
		Partial:        v.GetBool("partial"),
		Validate:       v.GetBool("validate"),
		SignKey:        v.GetString("sign-key"),
		SignPassphrase: v.GetString("sign-passphrase"),
		Jobs:           v.GetInt("jobs"),
	}

	if config.BomIn == "" || config.BomOut == "" {
		return nil, invalidConfig("bomin and bomout must not be empty")
	}
	if config.DlDir == "" {
		return nil, invalidConfig("dldir is required")
	}
	if config.OutDir == "" {
		return nil, invalidConfig("outdir is required")
	}
	if config.MergeDir == "" {
		return nil, invalidConfig("merge-dir is required")
	}
	if config.Jobs < 1 {
		return nil, invalidConfig("jobs must be at least 1, got %d", config.Jobs)
	}
	if config.Partial && config.BomIn == "-" {
		return nil, invalidConfig("bomin cannot be read from stdin in partial mode")
	}

	for _, name := range v.GetStringSlice("checksums") {
		alg, err := models.ParseAlgorithm(name)
		if err != nil {
			return nil, models.NewError(models.ErrInvalidConfig, "", err)
		}
		config.Checksums = append(config.Checksums, alg)
	}
	if len(config.Checksums) == 0 {
		config.Checksums = []models.Algorithm{models.SHA256}
	}

	// Fall back to SOURCE_DATE_EPOCH for reproducible builds
	mtime := v.GetString("mtime")
	if mtime == "" {
		if epoch := os.Getenv("SOURCE_DATE_EPOCH"); epoch != "" {
			mtime = "@" + epoch
		}
	}
	if mtime != "" {
		t, err := archive.ParseMtime(mtime)
		if err != nil {
			return nil, models.NewError(models.ErrInvalidConfig, "", err)
		}
		config.Mtime = &t
	}

	return config, nil
}

// readSubset resolves the package subset piped on in
func readSubset(in *os.File) (pkgset.Set, error) {
	if isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd()) {
		return nil, invalidConfig("partial mode reads the package subset from stdin, but stdin is a terminal")
	}
	subset, err := pkgset.NewStreamResolver(in).Resolve()
	if err != nil {
		return nil, err
	}
	logrus.Infof("Read %d packages from stdin", subset.Len())
	return subset, nil
}

func invalidConfig(format string, args ...any) error {
	return models.NewError(models.ErrInvalidConfig, "", fmt.Errorf(format, args...))
}
