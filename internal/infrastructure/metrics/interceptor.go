package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor returns a gRPC interceptor that records metrics for each request.
// Failed requests are logged with their status code; logger may be nil.
func UnaryServerInterceptor(collector *Collector, exporter *PrometheusExporter, logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		method := info.FullMethod

		collector.RecordRequest(method)
		if exporter != nil {
			exporter.RecordRequest(method)
		}

		resp, err := handler(ctx, req)

		elapsed := time.Since(start)
		collector.RecordDuration(method, elapsed.Seconds())
		if exporter != nil {
			exporter.RecordDuration(method, elapsed.Seconds())
		}

		if err != nil {
			code := status.Code(err)
			collector.RecordError(method)
			if exporter != nil {
				exporter.RecordError(method, code.String())
			}
			if logger != nil {
				logger.Warn().
					Str("method", method).
					Str("code", code.String()).
					Dur("elapsed", elapsed).
					Err(err).
					Msg("request failed")
			}
		}

		return resp, err
	}
}
