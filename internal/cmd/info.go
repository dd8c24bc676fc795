package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seregonwar/shadpkg"
)

func init() {
	infoCmd.Flags().AddFlagSet(&commonFlags)
	rootCmd.AddCommand(infoCmd)
}

var infoCmd = &cobra.Command{
	Use:   "info <pkg-file>",
	Short: "Show PKG header facts and the entry table",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setupLogger()
		defer zap.S().Sync()

		pkg, err := shadpkg.Open(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to open PKG: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Content ID: %s\n", pkg.Header.ContentIDString())
		fmt.Printf("Title ID:   %s\n", pkg.TitleID())
		if flags := pkg.Header.FlagNames(); flags != "" {
			fmt.Printf("Flags:      %s\n", flags)
		}
		fmt.Printf("PKG size:   %d\n", pkg.Header.Size)
		fmt.Printf("PFS image:  %#x (%d bytes)\n", pkg.Header.PFSImageOffset, pkg.Header.PFSImageSize)

		for _, key := range []string{"TITLE", "APP_VER", "CATEGORY"} {
			if value, ok := pkg.SFO[key]; ok {
				fmt.Printf("%-11s %s\n", key+":", value)
			}
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ID", "Name", "Offset", "Size"})
		for _, entry := range pkg.Entries {
			name := entry.Name()
			if name == "" {
				name = "-"
			}
			t.AppendRow(table.Row{shadpkg.Hex32(entry.ID), name,
				fmt.Sprintf("%#x", entry.Offset), entry.Size})
		}
		t.Render()
	},
}
