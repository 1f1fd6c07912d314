// Command gilbertd scrambles and restores images along a gilbert curve,
// either over a file or directory, as a gRPC server, or as a client of one.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	imageencrypt "github.com/zhulinyv/anr-plugin-image-encrypt"
	"github.com/zhulinyv/anr-plugin-image-encrypt/internal/batch"
	"github.com/zhulinyv/anr-plugin-image-encrypt/internal/codec"
	"github.com/zhulinyv/anr-plugin-image-encrypt/internal/curvefile"
	"github.com/zhulinyv/anr-plugin-image-encrypt/internal/rpc"
)

var (
	location    string
	ep          string // execution pattern (client, server, stand_alone, curve)
	filename    string
	curveOut    string
	curveWidth  int
	curveHeight int
	workers     int
	quality     int
	previewSize int
	maxPixels   int
	decrypt     *bool
	verbose     *bool
	ssdf        *bool
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if term.IsTerminal(int(os.Stdout.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	flag.StringVar(&location, "listen", ":50051", "server address to listen on or client target")
	flag.StringVar(&filename, "f", "", "image file or directory of images")
	flag.StringVar(&curveOut, "curve-out", "", "write the curve for -width x -height to this file (.gz, .zst)")
	flag.IntVar(&curveWidth, "width", 0, "curve width for -curve-out")
	flag.IntVar(&curveHeight, "height", 0, "curve height for -curve-out")
	flag.IntVar(&workers, "workers", batch.DefaultWorkers(), "images processed in parallel")
	flag.IntVar(&quality, "quality", codec.DefaultQuality, "JPEG output quality")
	flag.IntVar(&previewSize, "preview", 0, "write a thumbnail of each output with this longest side")
	flag.IntVar(&maxPixels, "max-pixels", rpc.DefaultMaxPixels, "largest image the server accepts")

	server := flag.Bool("S", false, "Server")
	client := flag.Bool("C", false, "Client")
	help := flag.Bool("h", false, "help")
	decrypt = flag.Bool("d", false, "decrypt instead of encrypt")
	ssdf = flag.Bool("ssdeep", false, "log ssdeep digests of outputs")
	verbose = flag.Bool("v", false, "verbose")

	debug := flag.Bool("debug", false, "sets log level to debug")
	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}

	switch {
	case *server:
		ep = "server"
	case *client:
		ep = "client"
	case curveOut != "":
		ep = "curve"
	default:
		ep = "stand_alone"
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Debug().Msgf("ep: %s", ep)
}

func direction() imageencrypt.Direction {
	if *decrypt {
		return imageencrypt.Inverse
	}
	return imageencrypt.Forward
}

func main() {
	var err error
	switch ep {
	case "server":
		err = serve()
	case "client":
		err = client()
	case "curve":
		err = exportCurve()
	case "stand_alone":
		err = standAlone()
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Msg(ep)
	}
}

func serve() error {
	lis, err := net.Listen("tcp", location)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s := rpc.NewServer(rpc.ServerOptions{
		MaxPixels: maxPixels,
		Quality:   quality,
		Verbose:   *verbose,
	}).GRPCServer()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		s.GracefulStop()
	}()

	log.Info().Msgf("server listening at %v", lis.Addr())
	return s.Serve(lis)
}

func client() error {
	if filename == "" {
		return fmt.Errorf("client mode needs -f")
	}
	target := location
	if strings.HasPrefix(target, ":") {
		target = "localhost" + target
	}
	c, err := rpc.NewClient(target)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer c.Close()

	ctx := context.Background()
	if *verbose {
		caps, err := c.Capabilities(ctx)
		if err != nil {
			return fmt.Errorf("failed to get capabilities: %w", err)
		}
		log.Info().Interface("capabilities", caps.AsMap()).Msg("capabilities received")
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	dir := direction()
	out, err := c.Transform(ctx, data, dir)
	if err != nil {
		return err
	}
	output := batch.OutputPath(filename, dir)
	if err := os.WriteFile(output, out, 0o644); err != nil {
		return err
	}
	log.Info().Str("output", output).Msgf("%s done", dir)
	return nil
}

func exportCurve() error {
	curve, err := imageencrypt.Generate(curveWidth, curveHeight)
	if err != nil {
		return err
	}
	if err := curvefile.Save(curveOut, curve, curvefile.CompressionFor(curveOut)); err != nil {
		return err
	}
	log.Info().
		Str("file", curveOut).
		Int("points", curve.Len()).
		Int("offset", imageencrypt.Offset(curveWidth, curveHeight)).
		Msg("curve written")
	return nil
}

func standAlone() error {
	single := ""
	dirPath := filename
	if info, err := os.Stat(filename); err == nil && !info.IsDir() {
		single, dirPath = filename, ""
	}
	paths, err := batch.Collect(dirPath, single)
	if err != nil {
		return err
	}

	var stop atomic.Bool
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	go func() {
		if _, ok := <-sig; ok {
			log.Warn().Msg("stop requested, finishing images in flight")
			stop.Store(true)
		}
	}()

	runner := batch.NewRunner(batch.Config{
		Workers:     workers,
		Quality:     quality,
		PreviewSize: previewSize,
		FuzzyHash:   *ssdf,
		Stop:        &stop,
		Notifier:    batch.NotifierFunc(finished),
	})
	runner.Run(context.Background(), paths, direction())
	return nil
}

func finished(s batch.Summary) {
	for _, res := range s.Results {
		if res.Err != nil {
			continue
		}
		if res.Fuzzy != "" {
			fmt.Printf("%s %s\n", res.Output, res.Fuzzy)
		}
		if res.Preview != nil {
			path := strings.TrimSuffix(res.Output, filepath.Ext(res.Output)) + "_preview.png"
			if err := codec.Encode(path, res.Preview, codec.Metadata{}, codec.Options{}); err != nil {
				log.Error().Err(err).Str("path", path).Msg("preview not written")
			}
		}
	}
	log.Info().
		Str("run", s.RunID).
		Bool("cancelled", s.Cancelled).
		Int("outputs", len(s.Outputs())).
		Msg("all done")
}
