package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/appbase/pkg"
	"github.com/ngld/appbase/pkg/bundle"
	"github.com/ngld/appbase/pkg/manifest"
)

var packCmd = &cobra.Command{
	Use:   "pack bundle_name",
	Short: "Packs the built images into a compressed bundle",
	Long: `Reads the manifest of the last build and packs the image of every successfully built application
together with its base address into a single archive.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := activeConfig

		codecName, err := cmd.Flags().GetString("codec")
		if err != nil {
			return err
		}

		codec, err := bundle.ParseCodec(codecName)
		if err != nil {
			return err
		}

		m, err := manifest.Read(cfg.Resolve(cfg.Manifest))
		if err != nil {
			return err
		}

		built := m.Built()
		if len(built) == 0 {
			return eris.New("The manifest lists no successful builds, nothing to pack")
		}

		writer, err := bundle.NewWriter(args[0], codec)
		if err != nil {
			return err
		}

		artifacts := cfg.Resolve(cfg.Artifacts)
		bar := getProgressBar(cmd, len(built), "packing")
		for _, entry := range built {
			bar.Describe(entry.Name)
			err = packImage(writer, filepath.Join(artifacts, entry.Name), entry)
			if err != nil {
				writer.Close()
				os.Remove(args[0])
				return err
			}
			_ = bar.Add(1)
		}
		_ = bar.Finish()

		err = writer.Close()
		if err != nil {
			return err
		}

		pkg.Log(ctx).Info().
			Str("path", args[0]).
			Msgf("Packed %d images with %s", len(built), codec)
		return nil
	},
}

var unpackCmd = &cobra.Command{
	Use:   "unpack bundle_name [destination]",
	Short: "Extracts the images of a bundle",
	Long:  `Without a destination, only the contents of the bundle are listed.`,
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reader, err := bundle.Open(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		entries := reader.Entries()
		if len(args) < 2 {
			out := cmd.OutOrStdout()
			for _, entry := range entries {
				fmt.Fprintf(out, "%s\t%s\t%d\n", entry.Base, entry.Name, entry.DecSize)
			}
			return nil
		}

		dest := args[1]
		err = os.MkdirAll(dest, 0770)
		if err != nil {
			return eris.Wrapf(err, "Failed to create %s", dest)
		}

		for _, entry := range entries {
			err = unpackImage(reader, entry.Name, filepath.Join(dest, entry.Name))
			if err != nil {
				return err
			}
			pkg.Log(ctx).Debug().Str("app", entry.Name).Str("base", entry.Base.String()).Msg("Extracted")
		}

		pkg.Log(ctx).Info().Str("path", dest).Msgf("Extracted %d images", len(entries))
		return nil
	},
}

func init() {
	packCmd.Flags().String("codec", "brotli", "compression to use (brotli or xz)")

	rootCmd.AddCommand(packCmd)
	rootCmd.AddCommand(unpackCmd)
}

func packImage(writer *bundle.Writer, path string, entry manifest.Entry) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "Failed to open image %s", path)
	}
	defer f.Close()

	err = writer.Add(entry.Name, entry.Base, f)
	if err != nil {
		return eris.Wrapf(err, "Failed to pack image %s", path)
	}

	return nil
}

func unpackImage(reader *bundle.Reader, name, dest string) error {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return eris.Errorf("refusing to extract %q outside of the destination", name)
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", dest)
	}

	err = reader.Extract(name, f)
	if err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
