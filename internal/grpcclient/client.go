package grpcclient

import (
	"context"
	"encoding/base64"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/petclassify/internal/auth"
	"github.com/example/petclassify/internal/classifier"
	"github.com/example/petclassify/internal/grpcserver"
	"github.com/example/petclassify/internal/imageprocessor"
	"github.com/example/petclassify/internal/logging"
)

// DialClassifier returns a ready-to-use gRPC client for a classifier host.
// Extra options are appended to the defaults (insecure transport, blocking dial).
func DialClassifier(ctx context.Context, addr, token string, logger *zap.Logger, opts ...grpc.DialOption) (imageprocessor.Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_classifier", "", err)
		logger.Error("failed to dial classifier", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewClient(conn, token, logger), conn, nil
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface, token string, logger *zap.Logger) imageprocessor.Client {
	return &grpcClassifier{conn: conn, token: token, logger: logger}
}

type grpcClassifier struct {
	conn   grpc.ClientConnInterface
	token  string
	logger *zap.Logger
}

func (g *grpcClassifier) Classify(ctx context.Context, imageBytes []byte) (*imageprocessor.Result, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"image_data": base64.StdEncoding.EncodeToString(imageBytes),
	})
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.classify", "", err)
	}

	resp := new(structpb.Struct)
	if err := g.conn.Invoke(auth.BearerCredentials(ctx, g.token), grpcserver.ClassifyMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.classify", "", err)
		g.logger.Error("classifier call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	fields := resp.GetFields()
	return &imageprocessor.Result{
		RequestID:        fields["request_id"].GetStringValue(),
		Prediction:       classifier.Label(fields["prediction"].GetStringValue()),
		Confidence:       fields["confidence"].GetNumberValue(),
		ProcessingTimeMs: fields["processing_time_ms"].GetNumberValue(),
		Fallback:         fields["fallback"].GetBoolValue(),
	}, nil
}
