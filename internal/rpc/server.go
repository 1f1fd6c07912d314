package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	imageencrypt "github.com/zhulinyv/anr-plugin-image-encrypt"
	"github.com/zhulinyv/anr-plugin-image-encrypt/internal/codec"
)

// DefaultMaxPixels caps the image size a server accepts.
const DefaultMaxPixels = 1 << 26

// ServerOptions configures a Server.
type ServerOptions struct {
	MaxPixels int
	Quality   int
	// Verbose logs every request with its duration.
	Verbose bool
	Cache   *imageencrypt.CurveCache
	Logger  *zerolog.Logger
}

// Server implements ScramblerServer.
type Server struct {
	opts  ServerOptions
	cache *imageencrypt.CurveCache
	log   zerolog.Logger
}

var _ ScramblerServer = (*Server)(nil)

// NewServer returns a Server for opts.
func NewServer(opts ServerOptions) *Server {
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	s := &Server{opts: opts, cache: opts.Cache, log: log.Logger}
	if s.cache == nil {
		s.cache = imageencrypt.NewCurveCache(0)
	}
	if opts.Logger != nil {
		s.log = *opts.Logger
	}
	return s
}

// GRPCServer builds a grpc.Server with s registered.
func (s *Server) GRPCServer(extra ...grpc.ServerOption) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.MaxSendMsgSize(MaxMessageSize),
	}
	if s.opts.Verbose {
		opts = append(opts, grpc.UnaryInterceptor(s.logInterceptor))
	}
	gs := grpc.NewServer(append(opts, extra...)...)
	RegisterScramblerServer(gs, s)
	return gs
}

func (s *Server) logInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	h, err := handler(ctx, req)
	s.log.Info().
		Str("method", info.FullMethod).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("request")
	return h, err
}

// Encrypt scrambles an encoded image.
func (s *Server) Encrypt(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return s.transform(in.GetValue(), imageencrypt.Forward)
}

// Decrypt restores an encoded image scrambled by Encrypt.
func (s *Server) Decrypt(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return s.transform(in.GetValue(), imageencrypt.Inverse)
}

// Capabilities reports what the server accepts.
func (s *Server) Capabilities(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"service":    ServiceName,
		"curve":      "gilbert",
		"max_pixels": float64(s.opts.MaxPixels),
		"decode":     []interface{}{"jpeg", "png", "gif", "bmp", "webp"},
		"encode":     []interface{}{"jpeg", "png", "bmp"},
	})
}

func (s *Server) transform(data []byte, dir imageencrypt.Direction) (*wrapperspb.BytesValue, error) {
	if len(data) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty image")
	}
	cfg, _, err := codec.DecodeConfigBytes(data)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode: %v", err)
	}
	// Checked on the header so oversized images are never decoded.
	if int64(cfg.Width)*int64(cfg.Height) > int64(s.opts.MaxPixels) {
		return nil, status.Errorf(codes.InvalidArgument, "image %dx%d exceeds %d pixels",
			cfg.Width, cfg.Height, s.opts.MaxPixels)
	}

	img, err := codec.DecodeBytes(data)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode: %v", err)
	}
	b := img.Pixels.Bounds()

	curve, err := s.cache.Get(b.Dx(), b.Dy())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := imageencrypt.PermuteWithCurve(img.Pixels, curve, dir)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	encoded, err := codec.EncodeBytes(out, codec.FormatByName(img.Format), img.Meta, codec.Options{Quality: s.opts.Quality})
	if errors.Is(err, codec.ErrMetadata) {
		s.log.Warn().Err(err).Msg("metadata not restored")
	} else if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}

	s.log.Debug().
		Str("direction", dir.String()).
		Str("format", img.Format).
		Int("width", b.Dx()).
		Int("height", b.Dy()).
		Msg("transformed")
	return wrapperspb.Bytes(encoded), nil
}
