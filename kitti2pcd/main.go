package main

import (
	goflag "flag"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"kitti2pcd/pkg/convert"
)

type app struct {
	cmd *cobra.Command
	cfg struct {
		strict  bool
		ext     string
		archive bool
	}
	helpShown bool
}

func newApp(stdout, stderr io.Writer) *app {
	a := &app{}
	a.cmd = &cobra.Command{
		Use:   "kitti2pcd <source> <destination>",
		Short: "Convert KITTI LiDAR binary files to ASCII PCD format",
		Long: `Convert KITTI LiDAR binary files to ASCII PCD format.

If source is a file, destination is the output .pcd file.
If source is a directory, every file in it is converted into
destination/<name>.pcd, creating destination if needed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return a.convert(args[0], args[1])
		},
	}
	a.cmd.SetOut(stdout)
	a.cmd.SetErr(stderr)

	flags := a.cmd.PersistentFlags()
	flags.BoolVar(&a.cfg.strict, "strict", false, "fail on inputs whose size is not a multiple of 16 bytes")
	flags.StringVar(&a.cfg.ext, "ext", "", "only convert directory entries with this extension, e.g. .bin")
	flags.BoolVar(&a.cfg.archive, "archive", false, "treat a .zip source as an archive of KITTI files")

	// Help always exits with status 1, as the original tool does.
	help := a.cmd.HelpFunc()
	a.cmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		a.helpShown = true
		help(cmd, args)
	})

	a.cmd.AddCommand(&cobra.Command{
		Use:   "inspect <file>...",
		Short: "Print point count and bounds of KITTI or PCD files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return a.inspect(args)
		},
	})
	return a
}

func (a *app) converter() *convert.Converter {
	return convert.New(convert.Options{
		Strict:  a.cfg.strict,
		Ext:     a.cfg.ext,
		Archive: a.cfg.archive,
	}, a.cmd.OutOrStdout())
}

func (a *app) convert(source, dest string) error {
	report, err := a.converter().Run(source, dest)
	if err != nil {
		return err
	}
	if err := report.Err(); err != nil {
		return err
	}
	glog.V(1).Infof("converted %d files", len(report.Outputs))
	return nil
}

func (a *app) inspect(paths []string) error {
	c := a.converter()
	var failed int
	for _, p := range paths {
		s, err := c.Inspect(p)
		if err != nil {
			glog.Errorf("*** Error: %v", err)
			failed++
			continue
		}
		fmt.Fprintln(a.cmd.OutOrStdout(), s)
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", convert.ErrBatchFailed, failed, len(paths))
	}
	return nil
}

func run(a *app, args []string) int {
	if args == nil {
		// cobra falls back to os.Args on nil.
		args = []string{}
	}
	a.cmd.SetArgs(args)
	if err := a.cmd.Execute(); err != nil {
		return 1
	}
	if a.helpShown {
		return 1
	}
	return 0
}

func main() {
	a := newApp(os.Stdout, os.Stderr)
	a.cmd.PersistentFlags().AddGoFlagSet(goflag.CommandLine)
	// glog reads the Go flag set; user values arrive through pflag.
	_ = goflag.CommandLine.Parse(nil)
	_ = goflag.Set("logtostderr", "true")

	code := run(a, os.Args[1:])
	glog.Flush()
	os.Exit(code)
}
