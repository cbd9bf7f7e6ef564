// Package grpcserver exposes classification over gRPC. Messages are
// google.protobuf.Struct values so the service needs no generated code.
package grpcserver

import (
	"context"
	"encoding/base64"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/petclassify/internal/auth"
	"github.com/example/petclassify/internal/features"
	"github.com/example/petclassify/internal/logging"
	"github.com/example/petclassify/internal/usecase"
)

const (
	ServiceName    = "petclassify.v1.Classifier"
	ClassifyMethod = "/" + ServiceName + "/Classify"

	// DefaultMaxUploadBytes applies when NewGRPCServer gets no upload limit.
	DefaultMaxUploadBytes = 10 << 20

	// messageSlack covers the Struct framing around image_data.
	messageSlack = 64 << 10
)

// Classifier is the use case surface the gRPC service depends on.
type Classifier interface {
	ClassifyImage(ctx context.Context, userID string, imageBytes []byte) (string, *usecase.Result, error)
}

// ClassifierServer is the server API for the Classifier service.
type ClassifierServer interface {
	Classify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the Classifier service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClassifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Classify",
			Handler:    classifyHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "petclassify/v1/classifier.proto",
}

func classifyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServer).Classify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ClassifyMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClassifierServer).Classify(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Server implements ClassifierServer on top of the classification use case.
type Server struct {
	uc             Classifier
	logger         *zap.Logger
	maxUploadBytes int64
}

// New returns a Server backed by uc that rejects images larger than
// maxUploadBytes. A non-positive limit selects DefaultMaxUploadBytes.
func New(uc Classifier, maxUploadBytes int64, logger *zap.Logger) *Server {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{uc: uc, logger: logger.Named("grpc_server"), maxUploadBytes: maxUploadBytes}
}

// MaxRecvMsgSize is the receive limit that admits a base64 image of
// maxUploadBytes plus framing.
func MaxRecvMsgSize(maxUploadBytes int64) int {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return int((maxUploadBytes+2)/3*4 + messageSlack)
}

// NewGRPCServer builds a grpc.Server with the classifier and health services
// registered. Health checks bypass authentication.
func NewGRPCServer(uc Classifier, validator *auth.Validator, maxUploadBytes int64, logger *zap.Logger) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(MaxRecvMsgSize(maxUploadBytes)),
		grpc.ChainUnaryInterceptor(
			auth.UnaryServerInterceptor(validator, "/grpc.health.v1.Health/Check"),
		),
	)
	srv.RegisterService(&ServiceDesc, New(uc, maxUploadBytes, logger))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return srv, healthServer
}

// Classify decodes {image_data: base64} and returns the classification.
func (s *Server) Classify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()

	userID, ok := auth.GetUserID(ctx)
	if !ok {
		userID = fields["user_id"].GetStringValue()
	}
	if userID == "" {
		return nil, status.Error(codes.Unauthenticated, "user is required")
	}

	encoded := fields["image_data"].GetStringValue()
	if encoded == "" {
		return nil, status.Error(codes.InvalidArgument, "image_data is required")
	}
	imageBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "image_data must be base64")
	}
	if int64(len(imageBytes)) > s.maxUploadBytes {
		return nil, status.Errorf(codes.ResourceExhausted, "image exceeds upload limit of %d bytes", s.maxUploadBytes)
	}

	requestID, result, err := s.uc.ClassifyImage(ctx, userID, imageBytes)
	if err != nil {
		op, _ := logging.OperationOf(err)
		s.logger.Warn("classification failed", zap.Error(err), zap.String("operation", op), zap.String("user_id", userID))
		switch {
		case features.IsDecodeError(err):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		case errors.Is(err, context.Canceled):
			return nil, status.Error(codes.Canceled, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			return nil, status.Error(codes.DeadlineExceeded, err.Error())
		default:
			return nil, status.Error(codes.Internal, err.Error())
		}
	}

	return structpb.NewStruct(map[string]interface{}{
		"request_id":         requestID,
		"prediction":         string(result.Classification.Prediction),
		"confidence":         result.Classification.Confidence,
		"processing_time_ms": result.Classification.ProcessingTimeMs,
		"fallback":           result.Fallback,
	})
}
