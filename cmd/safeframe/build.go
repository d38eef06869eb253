package main

import (
	"fmt"

	"github.com/awnumar/memguard"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/chatabc/open-safe-frame/internal/auth"
	"github.com/chatabc/open-safe-frame/internal/backend"
	"github.com/chatabc/open-safe-frame/internal/config"
	"github.com/chatabc/open-safe-frame/internal/constraint"
	"github.com/chatabc/open-safe-frame/internal/engine"
	"github.com/chatabc/open-safe-frame/internal/engine/advisor"
	"github.com/chatabc/open-safe-frame/internal/engine/consequence"
	"github.com/chatabc/open-safe-frame/internal/engine/intent"
	"github.com/chatabc/open-safe-frame/internal/engine/values"
)

// pipeline is the assessment stack built from the backend config.
type pipeline struct {
	analyzer    backend.Analyzer // nil = rules only
	coordinator *engine.Coordinator
	extractor   constraint.Extractor
	cleanup     []func()
}

func (p *pipeline) Close() {
	for i := len(p.cleanup) - 1; i >= 0; i-- {
		p.cleanup[i]()
	}
}

// buildPipeline wires the configured analysis backend behind the guarded wrapper
// and assembles the coordinator around it. observe may be nil.
func buildPipeline(cfg *config.Config, observe backend.Observer, logger *zap.Logger) (*pipeline, error) {
	p := &pipeline{}

	inner, err := newAnalyzer(cfg.Backend, logger, p)
	if err != nil {
		p.Close()
		return nil, err
	}

	if inner != nil {
		var cache backend.ResultCache
		if cfg.Backend.CacheTTL > 0 {
			if cfg.Backend.CacheDir != "" {
				bc, err := backend.OpenBadgerCache(cfg.Backend.CacheDir, cfg.Backend.CacheTTL)
				if err != nil {
					p.Close()
					return nil, err
				}
				p.cleanup = append(p.cleanup, func() { _ = bc.Close() })
				cache = bc
			} else {
				cache = backend.NewMemoryCache(cfg.Backend.CacheTTL)
			}
		}
		p.analyzer = backend.NewGuarded(inner, backend.GuardedConfig{
			Cache:         cache,
			Timeout:       cfg.Backend.Timeout,
			RatePerSecond: cfg.Backend.RatePerSecond,
			Burst:         cfg.Backend.Burst,
			Observer:      observe,
			Logger:        logger.Named("backend"),
		})
	}

	window := cfg.Backend.HistoryWindow
	ccfg := engine.CoordinatorConfig{
		Intent:    intent.NewInterpreter(p.analyzer, window, logger),
		Predictor: consequence.NewPredictor(nil, p.analyzer, window, logger),
		Values:    values.NewEvaluator(),
		Timeout:   cfg.AssessTimeout,
		Logger:    logger,
	}
	if p.analyzer != nil {
		ccfg.Advisor = advisor.New(p.analyzer, window, logger)
		p.extractor = p.analyzer
	} else {
		p.extractor = backend.NewRuleAnalyzer()
	}
	p.coordinator = engine.NewCoordinator(ccfg)
	return p, nil
}

func newAnalyzer(bc config.BackendConfig, logger *zap.Logger, p *pipeline) (backend.Analyzer, error) {
	switch bc.Provider {
	case config.ProviderOpenAI:
		return backend.NewLLMAnalyzer(backend.NewOpenAICompleter(backend.OpenAIConfig{
			APIKey:  bc.APIKey,
			BaseURL: bc.BaseURL,
			Model:   bc.Model,
		}), logger), nil
	case config.ProviderAnthropic:
		c, err := backend.NewAnthropicCompleter(bc.APIKey, bc.Model, bc.BaseURL)
		if err != nil {
			return nil, err
		}
		return backend.NewLLMAnalyzer(c, logger), nil
	case config.ProviderOllama:
		c, err := backend.NewOllamaCompleter(bc.Model, bc.BaseURL)
		if err != nil {
			return nil, err
		}
		return backend.NewLLMAnalyzer(c, logger), nil
	case config.ProviderGRPC:
		conn, err := grpc.NewClient(bc.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("dial analysis backend %s: %w", bc.Address, err)
		}
		p.cleanup = append(p.cleanup, func() { _ = conn.Close() })
		return backend.NewGRPCAnalyzer(conn), nil
	case config.ProviderNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown backend provider %q", bc.Provider)
	}
}

// loadSecret returns nil when no override secret is configured. The plaintext
// form is moved into a locked buffer, hashed and wiped.
func loadSecret(cfg *config.Config) (*auth.OverrideSecret, error) {
	if cfg.OverrideSecretHash != "" {
		return auth.NewOverrideSecret(cfg.OverrideSecretHash)
	}
	if cfg.OverrideSecret == "" {
		return nil, nil
	}
	buf := memguard.NewBufferFromBytes([]byte(cfg.OverrideSecret))
	cfg.OverrideSecret = ""
	return auth.SecretFromPlaintext(buf)
}

// mustBuildLogger builds a JSON logger writing to out ("stdout" or "stderr").
func mustBuildLogger(level, out string) *zap.Logger {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{out},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
