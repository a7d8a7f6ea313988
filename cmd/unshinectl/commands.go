package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"UnShiney/server/internal/architecture"
	"UnShiney/server/internal/dataset"
	"UnShiney/server/internal/imageref"
	"UnShiney/server/internal/training"
)

// NewRootCommand builds the unshinectl command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "unshinectl",
		Short:         "Offline tools for UnShiney datasets and models",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		PairCommand(),
		ImportCommand(),
		SimulateCommand(),
		PresetsCommand(),
	)
	return root
}

// PairCommand shows how a directory of images would be paired on bulk upload.
func PairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pair [dir]",
		Short: "Print the (original, clean) pairs a bulk upload of dir would form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := readDir(args[0])
			if err != nil {
				return err
			}
			printPairs(cmd.OutOrStdout(), files)
			return nil
		},
	}
}

// ImportCommand bulk-imports a directory into a dataset snapshot file.
func ImportCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "import [dir]",
		Short: "Pair the images in dir and write them as a dataset snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := readDir(args[0])
			if err != nil {
				return err
			}
			return importDir(cmd.OutOrStdout(), files, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", dataset.ExportFileName, "snapshot file to write")
	return cmd
}

// SimulateCommand runs the loss simulation in the terminal.
func SimulateCommand() *cobra.Command {
	var (
		epochs   int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a simulated training session with a progress bar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := simulate(cmd.ErrOrStderr(), epochs, interval)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "final loss %.4f, validation loss %.4f after %d epochs\n",
				run.TrainingLoss, run.ValidationLoss, run.CurrentEpoch)
			return nil
		},
	}
	cmd.Flags().IntVar(&epochs, "epochs", 10, "number of epochs")
	cmd.Flags().DurationVar(&interval, "interval", training.DefaultInterval, "time per epoch")
	return cmd
}

// PresetsCommand lists the layer stack of every architecture preset.
func PresetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the architecture presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printPresets(cmd.OutOrStdout())
		},
	}
}

func readDir(dir string) ([]imageref.File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", dir)
	}
	files := make([]imageref.File, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", e.Name())
		}
		files = append(files, imageref.File{Name: e.Name(), Data: data})
	}
	return files, nil
}

func printPairs(w io.Writer, files []imageref.File) {
	pairs := dataset.PairFiles(files)
	for i, p := range pairs {
		fmt.Fprintf(w, "%3d  %s -> %s\n", i+1, p[0].Name, p[1].Name)
	}
	if len(files)%2 == 1 {
		fmt.Fprintf(w, "one file left unpaired\n")
	}
	fmt.Fprintf(w, "%d files, %d pairs\n", len(files), len(pairs))
}

func importDir(w io.Writer, files []imageref.File, output string) error {
	store := dataset.NewStore(nil)
	added, importErr := dataset.NewImporter(store).ImportBatch(files)
	for _, err := range multierr.Errors(importErr) {
		fmt.Fprintf(w, "skipped: %v\n", err)
	}
	if len(added) == 0 {
		return errors.New("no pairs imported")
	}

	data, err := store.Serialize()
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		return errors.Wrapf(err, "write %s", output)
	}

	var in uint64
	for _, f := range files {
		in += uint64(len(f.Data))
	}
	fmt.Fprintf(w, "%d pairs from %s of images written to %s (%s)\n",
		len(added), humanize.Bytes(in), output, humanize.Bytes(uint64(len(data))))
	return nil
}

// barSink draws simulator progress on a terminal progress bar.
type barSink struct {
	w    io.Writer
	bar  *progressbar.ProgressBar
	done chan training.Run
}

func (s *barSink) Begin(total int) {
	s.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(s.w),
		progressbar.OptionSetDescription("training"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("epochs"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
}

func (s *barSink) Record(sample training.Sample) {
	s.bar.Describe(fmt.Sprintf("loss %.4f val %.4f", sample.TrainingLoss, sample.ValidationLoss))
	_ = s.bar.Add(1)
}

func (s *barSink) Finish(run training.Run) {
	_ = s.bar.Finish()
	fmt.Fprintln(s.w)
	s.done <- run
}

func simulate(w io.Writer, epochs int, interval time.Duration) (training.Run, error) {
	sink := &barSink{w: w, done: make(chan training.Run, 1)}
	sim := training.NewSimulator(training.TickerScheduler{}, sink, training.WithInterval(interval))
	if err := sim.Start(epochs); err != nil {
		return training.Run{}, err
	}
	return <-sink.done, nil
}

func printPresets(w io.Writer) error {
	for _, p := range architecture.Presets {
		layers, err := architecture.PresetLayers(p)
		if err != nil {
			return err
		}
		editor := architecture.NewEditor(nil)
		if err := editor.Replace(layers); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\n", p)
		for i, line := range editor.Summary() {
			fmt.Fprintf(w, "  %d. %s\n", i+1, line)
		}
	}
	return nil
}
