// Command audiocore is a thin CLI front end over pkg/audiocore, useful for
// exercising the library from a shell or a CI job without embedding it in a
// larger program.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jota2rz/audiocore/pkg/audiocore"
)

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = usage
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "info":
		err = runInfo(rest)
	case "convert":
		err = runConvert(rest)
	case "trim":
		err = runTrim(rest)
	case "splice":
		err = runSplice(rest)
	case "waveform":
		err = runWaveform(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: audiocore <command> [flags]

commands:
  info     -in <path>
  convert  -in <path> -out <path> [-format m4a|copy] [-bitrate kbps] [-rate hz]
  trim     -in <path> -out <path> -start ms -end ms [-format m4a|copy] [-bitrate kbps] [-rate hz]
  splice   -out <path> [-format m4a|copy] [-bitrate kbps] [-rate hz] <in1> <in2> ...
  waveform -in <path> [-samples-per-second n]`)
}

// waitForSignal cancels op when SIGINT/SIGTERM arrives, mirroring the
// graceful-shutdown pattern the rest of this module's ambient stack uses for
// long-running background work.
func waitForSignal[T any](op *audiocore.Operation[T]) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		slog.Warn("cancellation requested")
		op.Cancel()
		stop()
	}()
}

func printProgress(tag string) func(audiocore.Progress) {
	return func(p audiocore.Progress) {
		slog.Debug("progress", "tag", tag, "value", p.Value)
	}
}

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	in := fs.String("in", "", "input file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("info: -in is required")
	}
	info := audiocore.GetAudioInfo(*in)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func parseOpts(fs *flag.FlagSet) (*string, *int, *int) {
	format := fs.String("format", "m4a", "output format: m4a|copy")
	bitrate := fs.Int("bitrate", 128, "bitrate in kbps (m4a only)")
	rate := fs.Int("rate", 44100, "sample rate in Hz (m4a only)")
	return format, bitrate, rate
}

func convertOptsFrom(format string, bitrate, rate int) (audiocore.ConvertOptions, error) {
	var f audiocore.OutputFormat
	switch strings.ToLower(format) {
	case "m4a":
		f = audiocore.FormatM4A
	case "copy":
		f = audiocore.FormatCopy
	default:
		return audiocore.ConvertOptions{}, fmt.Errorf("unknown -format %q", format)
	}
	return audiocore.ConvertOptions{Format: f, BitRateKbps: bitrate, SampleRateHz: rate}, nil
}

func runConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	in := fs.String("in", "", "input file path")
	out := fs.String("out", "", "output file path")
	format, bitrate, rate := parseOpts(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts, err := convertOptsFrom(*format, *bitrate, *rate)
	if err != nil {
		return err
	}
	op := audiocore.ConvertAudio(*in, *out, opts)
	waitForSignal(op)
	op = audiocore.WithProgressFunc(op, printProgress("convert"))
	result, err := op.Wait()
	if err != nil {
		return err
	}
	return printResult(result)
}

func runTrim(args []string) error {
	fs := flag.NewFlagSet("trim", flag.ExitOnError)
	in := fs.String("in", "", "input file path")
	out := fs.String("out", "", "output file path")
	start := fs.Int64("start", 0, "start offset in milliseconds")
	end := fs.Int64("end", 0, "end offset in milliseconds")
	format, bitrate, rate := parseOpts(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts, err := convertOptsFrom(*format, *bitrate, *rate)
	if err != nil {
		return err
	}
	op := audiocore.TrimAudio(*in, *out, *start, *end, opts)
	waitForSignal(op)
	op = audiocore.WithProgressFunc(op, printProgress("trim"))
	result, err := op.Wait()
	if err != nil {
		return err
	}
	return printResult(result)
}

func runSplice(args []string) error {
	fs := flag.NewFlagSet("splice", flag.ExitOnError)
	out := fs.String("out", "", "output file path")
	format, bitrate, rate := parseOpts(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	inputs := fs.Args()
	if len(inputs) == 0 {
		return fmt.Errorf("splice: at least one input file is required")
	}
	opts, err := convertOptsFrom(*format, *bitrate, *rate)
	if err != nil {
		return err
	}
	op := audiocore.SpliceAudio(inputs, *out, opts)
	waitForSignal(op)
	op = audiocore.WithProgressFunc(op, printProgress("splice"))
	result, err := op.Wait()
	if err != nil {
		return err
	}
	return printResult(result)
}

func runWaveform(args []string) error {
	fs := flag.NewFlagSet("waveform", flag.ExitOnError)
	in := fs.String("in", "", "input file path")
	samplesPerSecond := fs.Int("samples-per-second", 10, "waveform buckets per second")
	if err := fs.Parse(args); err != nil {
		return err
	}
	op := audiocore.ExtractWaveform(*in, *samplesPerSecond)
	waitForSignal(op)
	op = audiocore.WithProgressFunc(op, printProgress("waveform"))
	env, err := op.Wait()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

func printResult(r audiocore.ConversionResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
