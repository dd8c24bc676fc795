package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seregonwar/shadpkg"
)

var (
	workers  int
	showKeys bool
)

func init() {
	extractCmd.Flags().AddFlagSet(&commonFlags)
	extractCmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel extraction workers (default: number of CPUs, capped at 8)")
	extractCmd.Flags().BoolVar(&showKeys, "show-keys", false, "log the derived key chain")
	rootCmd.AddCommand(extractCmd)
}

var extractCmd = &cobra.Command{
	Use:   "extract <pkg-file> <output-dir>",
	Short: "Extract a PKG into a directory tree",
	Long:  "Extract a PKG: sce_sys metadata entries first, then the decrypted PFS filesystem tree",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		setupLogger()
		defer zap.S().Sync()

		pkg, err := shadpkg.Open(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to open PKG: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Extracting %s (%s)\n", pkg.TitleID(), pkg.Header.ContentIDString())
		if flags := pkg.Header.FlagNames(); flags != "" {
			fmt.Printf("Flags: %s\n", flags)
		}

		if err := pkg.Extract(afero.NewOsFs(), args[1], workers); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to extract PKG: %v\n", err)
			os.Exit(1)
		}

		if showKeys {
			logKeys(pkg.Keys())
		}
		fmt.Println("Done.")
	},
}

func logKeys(keys *shadpkg.KeySession) {
	if keys == nil {
		return
	}
	zap.S().Infof("DK3:      %s", shadpkg.Hex(keys.DK3[:]))
	zap.S().Infof("IVKey:    %s", shadpkg.Hex(keys.IVKey[:]))
	zap.S().Infof("ImageKey: %s", shadpkg.Hex(keys.ImageKey[:]))
	zap.S().Infof("EKPFS:    %s", shadpkg.Hex(keys.EKPFS[:]))
	zap.S().Infof("DataKey:  %s", shadpkg.Hex(keys.DataKey[:]))
	zap.S().Infof("TweakKey: %s", shadpkg.Hex(keys.TweakKey[:]))
}
