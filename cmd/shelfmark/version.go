package main

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/shelfmark/shelfmark/internal/outfmt"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the shelfmark version",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := struct {
			Version string `json:"version" yaml:"version"`
			Go      string `json:"go" yaml:"go"`
			OS      string `json:"os" yaml:"os"`
			Arch    string `json:"arch" yaml:"arch"`
		}{version, runtime.Version(), runtime.GOOS, runtime.GOARCH}
		return outfmt.Write(cmd.Context(), appUI.Stdout(), info, func(w io.Writer) error {
			fmt.Fprintf(w, "shelfmark %s (%s %s/%s)\n", info.Version, info.Go, info.OS, info.Arch)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
