// Command imageinfo exposes the image metadata helpers on the command line.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"visionapi/internal/imagemeta"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "imageinfo",
		Short:         "Inspect and copy image files",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)
	root.AddCommand(newInspectCmd(), newExifCmd(), newSaveCmd())
	return root
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <path>",
		Short: "Print metadata and size of an image as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := imagemeta.ProcessImage(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), record)
		},
	}
}

func newExifCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exif <path>",
		Short: "Print embedded EXIF tags as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), imagemeta.ExtractEXIF(args[0]))
		},
	}
}

func newSaveCmd() *cobra.Command {
	var (
		dir  string
		name string
	)
	cmd := &cobra.Command{
		Use:   "save <src>",
		Short: "Copy a file into a directory under the given name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := imagemeta.LoadImage(args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(args[0])
			}
			path, err := imagemeta.SaveImage(data, name, dir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", imagemeta.DefaultDir, "destination directory")
	cmd.Flags().StringVar(&name, "name", "", "destination file name (default: source base name)")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
