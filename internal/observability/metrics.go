package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sessioncore/token-lifecycle-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "token-lifecycle-service"

type AppMetrics struct {
	tokenIssueCounter    metric.Int64Counter
	tokenRotationCounter metric.Int64Counter
	reuseDetectedCounter metric.Int64Counter
	revocationCounter    metric.Int64Counter
	sweepDeletedCounter  metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)
	issueCounter, err := meter.Int64Counter("token.issue.attempts")
	if err != nil {
		return nil, err
	}
	rotationCounter, err := meter.Int64Counter("token.rotation.attempts")
	if err != nil {
		return nil, err
	}
	reuseCounter, err := meter.Int64Counter("token.reuse.detections")
	if err != nil {
		return nil, err
	}
	revocationCounter, err := meter.Int64Counter("token.revocations")
	if err != nil {
		return nil, err
	}
	sweepCounter, err := meter.Int64Counter("token.sweep.deleted")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		tokenIssueCounter:    issueCounter,
		tokenRotationCounter: rotationCounter,
		reuseDetectedCounter: reuseCounter,
		revocationCounter:    revocationCounter,
		sweepDeletedCounter:  sweepCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func RecordTokenIssue(status string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.tokenIssueCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordTokenRotation(status string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.tokenRotationCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordReuseDetection(familySize int64) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.reuseDetectedCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.Int64("family_size", familySize)))
}

func RecordRevocation(scope string, count int64) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.revocationCounter.Add(context.Background(), count, metric.WithAttributes(attribute.String("scope", scope)))
}

func RecordSweep(deleted int64) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.sweepDeletedCounter.Add(context.Background(), deleted)
}

var (
	repoOpOnce    sync.Once
	repoOpCounter metric.Int64Counter

	tokenValidationOnce    sync.Once
	tokenValidationCounter metric.Int64Counter

	rateLimitOnce    sync.Once
	rateLimitCounter metric.Int64Counter

	csrfRejectOnce    sync.Once
	csrfRejectCounter metric.Int64Counter
)

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	repoOpOnce.Do(func() {
		counter, err := otel.Meter(meterName).Int64Counter("repository.operations")
		if err == nil {
			repoOpCounter = counter
		}
	})
	if repoOpCounter == nil {
		return
	}
	repoOpCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordRateLimitDecision(ctx context.Context, scope, decision, keyType string) {
	rateLimitOnce.Do(func() {
		counter, err := otel.Meter(meterName).Int64Counter("rate_limit.decisions")
		if err == nil {
			rateLimitCounter = counter
		}
	})
	if rateLimitCounter == nil {
		return
	}
	rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
		attribute.String("key_type", keyType),
	))
}

func RecordCSRFRejection(ctx context.Context, pathGroup string) {
	csrfRejectOnce.Do(func() {
		counter, err := otel.Meter(meterName).Int64Counter("csrf.rejections")
		if err == nil {
			csrfRejectCounter = counter
		}
	})
	if csrfRejectCounter == nil {
		return
	}
	csrfRejectCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("path_group", pathGroup)))
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	tokenValidationOnce.Do(func() {
		counter, err := otel.Meter(meterName).Int64Counter("access_token.validations")
		if err == nil {
			tokenValidationCounter = counter
		}
	})
	if tokenValidationCounter == nil {
		return
	}
	tokenValidationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}
