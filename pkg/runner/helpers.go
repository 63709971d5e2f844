package runner

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
	"mvdan.cc/sh/v3/interp"
)

type helperFunc func(hc interp.HandlerContext, args []string) error

// helpers replace the external mkdir, rm, mv and cp commands. They behave the same on every platform, including
// Windows where the coreutils are usually missing.
var helpers = map[string]helperFunc{
	"mkdir": mkdirHelper,
	"rm":    rmHelper,
	"mv":    mvHelper,
	"cp":    cpHelper,
}

func helperMiddleware(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) > 0 {
			if helper, ok := helpers[args[0]]; ok {
				hc := interp.HandlerCtx(ctx)
				err := helper(hc, args[1:])
				if err != nil {
					fmt.Fprintf(hc.Stderr, "%s: %s\n", args[0], err)
					return interp.NewExitStatus(1)
				}
				return nil
			}
		}

		return next(ctx, args)
	}
}

func helperFlags(hc interp.HandlerContext, name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.SetOutput(hc.Stderr)
	return flags
}

func resolve(hc interp.HandlerContext, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(hc.Dir, path)
}

func mkdirHelper(hc interp.HandlerContext, args []string) error {
	flags := helperFlags(hc, "mkdir")
	makeParents := flags.BoolP("parents", "p", false, "create parent directories as needed")
	err := flags.Parse(args)
	if err != nil {
		return err
	}

	for _, item := range flags.Args() {
		if *makeParents {
			err = os.MkdirAll(resolve(hc, item), 0770)
		} else {
			err = os.Mkdir(resolve(hc, item), 0770)
		}

		if err != nil {
			return eris.Wrapf(err, "Failed to create %s", item)
		}
	}

	return nil
}

func rmHelper(hc interp.HandlerContext, args []string) error {
	flags := helperFlags(hc, "rm")
	recursive := flags.BoolP("recursive", "r", false, "recursively delete directories")
	force := flags.BoolP("force", "f", false, "ignore missing files")
	err := flags.Parse(args)
	if err != nil {
		return err
	}

	items := flags.Args()
	for _, item := range items {
		info, err := os.Stat(resolve(hc, item))
		if err != nil {
			if *force && eris.Is(err, os.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "Could not stat %s", item)
		}

		if info.IsDir() && !*recursive {
			return eris.Errorf("%s is a directory but -r wasn't passed", item)
		}
	}

	for _, item := range items {
		err := os.RemoveAll(resolve(hc, item))
		if err != nil {
			return eris.Wrapf(err, "Could not delete %s", item)
		}
	}

	return nil
}

// destination handles the "last argument is the target" convention shared by mv and cp.
func destination(hc interp.HandlerContext, args []string) ([]string, string, bool, error) {
	if len(args) < 2 {
		return nil, "", false, eris.New("Not enough parameters")
	}

	dest := resolve(hc, filepath.Clean(args[len(args)-1]))
	info, err := os.Stat(dest)
	if err != nil && !eris.Is(err, os.ErrNotExist) {
		return nil, "", false, eris.Wrapf(err, "Failed to retrieve info about destination %s", dest)
	}

	isDir := err == nil && info.IsDir()
	if len(args) > 2 && !isDir {
		return nil, "", false, eris.Errorf("Can't use multiple items with %s because it is not a directory", dest)
	}

	return args[:len(args)-1], dest, isDir, nil
}

func mvHelper(hc interp.HandlerContext, args []string) error {
	items, dest, isDir, err := destination(hc, args)
	if err != nil {
		return err
	}

	for _, item := range items {
		itemDest := dest
		if isDir {
			itemDest = filepath.Join(dest, filepath.Base(item))
		}

		err = os.Rename(resolve(hc, item), itemDest)
		if err != nil {
			return eris.Wrapf(err, "Failed to move %s to %s", item, itemDest)
		}
	}

	return nil
}

func cpHelper(hc interp.HandlerContext, args []string) error {
	flags := helperFlags(hc, "cp")
	recursive := flags.BoolP("recursive", "r", false, "copy directories recursively")
	err := flags.Parse(args)
	if err != nil {
		return err
	}

	items, dest, isDir, err := destination(hc, flags.Args())
	if err != nil {
		return err
	}

	for _, item := range items {
		itemDest := dest
		if isDir {
			itemDest = filepath.Join(dest, filepath.Base(item))
		}

		src := resolve(hc, item)
		info, err := os.Stat(src)
		if err != nil {
			return eris.Wrapf(err, "Could not stat %s", item)
		}

		if info.IsDir() {
			if !*recursive {
				return eris.Errorf("%s is a directory but -r wasn't passed", item)
			}
			err = copyTree(src, itemDest)
		} else {
			err = copyFile(src, itemDest, info.Mode())
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		target := filepath.Join(dest, rel)
		if entry.IsDir() {
			return os.MkdirAll(target, 0770)
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dest string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "Failed to open %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", dest)
	}

	_, err = io.Copy(out, in)
	if err != nil {
		out.Close()
		return eris.Wrapf(err, "Failed to copy %s to %s", src, dest)
	}

	return out.Close()
}
