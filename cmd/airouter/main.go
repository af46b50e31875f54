// Command airouter is an operational smoke tool for the routing core.
// It runs one completion, stream, or image generation against the
// configured providers and prints the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Luneo19/luneo-platform-sub016/app"
	"github.com/Luneo19/luneo-platform-sub016/config"
	"github.com/Luneo19/luneo-platform-sub016/internal/observability"
	"github.com/Luneo19/luneo-platform-sub016/services/generation"
	"github.com/Luneo19/luneo-platform-sub016/services/providers"
)

func main() {
	var (
		model     = flag.String("model", "gpt-4o-mini", "model identifier")
		promptArg = flag.String("prompt", "Say hello in one sentence.", "prompt text")
		provider  = flag.String("provider", "", "force a specific provider")
		stream    = flag.Bool("stream", false, "stream the completion")
		image     = flag.Bool("image", false, "generate an image instead of text")
		size      = flag.String("size", "1024x1024", "image size as WIDTHxHEIGHT")
		quality   = flag.String("quality", "standard", "image quality tier")
		stage     = flag.String("stage", generation.StageFinal, "generation stage")
		tenant    = flag.String("tenant", "smoke-test", "tenant identifier")
	)
	flag.Parse()

	if err := run(*model, *promptArg, *provider, *size, *quality, *stage, *tenant, *stream, *image); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(model, promptText, provider, size, quality, stage, tenant string, stream, image bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Environment)
	if err != nil {
		return err
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close(ctx)

	if image {
		return runImage(ctx, deps, promptText, model, size, quality, stage, tenant)
	}

	req := &providers.CompletionRequest{
		Model: model,
		Messages: []providers.Message{
			{Role: providers.RoleUser, Content: promptText},
		},
		Provider:  provider,
		RequestID: uuid.NewString(),
		Metadata:  map[string]string{"tenant": tenant},
	}

	if stream {
		return runStream(ctx, deps, req)
	}
	return runComplete(ctx, deps, req)
}

func runComplete(ctx context.Context, deps *app.Dependencies, req *providers.CompletionRequest) error {
	result, err := deps.Router.Complete(ctx, req)
	if err != nil {
		return err
	}

	fmt.Println(result.Content)
	deps.Logger.Info("completion finished",
		zap.String("provider", result.Provider),
		zap.String("model", result.Model),
		zap.Int("tokens_in", result.TokensIn),
		zap.Int("tokens_out", result.TokensOut),
		zap.Float64("cost_usd", result.CostUSD),
		zap.Duration("latency", result.Latency))
	return nil
}

func runStream(ctx context.Context, deps *app.Dependencies, req *providers.CompletionRequest) error {
	events, err := deps.Router.Stream(ctx, req)
	if err != nil {
		return err
	}

	for ev := range events {
		switch ev.Type {
		case providers.StreamDelta:
			fmt.Print(ev.Delta)
		case providers.StreamDone:
			fmt.Println()
			deps.Logger.Info("stream finished",
				zap.String("provider", ev.Provider),
				zap.Int("tokens_in", ev.TokensIn),
				zap.Int("tokens_out", ev.TokensOut),
				zap.Float64("cost_usd", ev.CostUSD),
				zap.Duration("latency", ev.Latency))
		case providers.StreamError:
			fmt.Println()
			return fmt.Errorf("stream failed: %s", ev.Error)
		}
	}
	return ctx.Err()
}

func runImage(ctx context.Context, deps *app.Dependencies, promptText, model, size, quality, stage, tenant string) error {
	result, err := deps.Orchestrator.GenerateImage(ctx, tenant,
		&providers.GenerationOptions{
			Prompt:  promptText,
			Model:   model,
			Size:    size,
			Quality: quality,
		},
		generation.Strategy{Stage: stage})
	if err != nil {
		return err
	}

	for _, img := range result.Images {
		fmt.Println(img.URL)
	}
	deps.Logger.Info("image generation finished",
		zap.String("provider", result.Provider),
		zap.String("model", result.Model),
		zap.Int("images", len(result.Images)),
		zap.Int("cost_cents", result.CostCents),
		zap.Duration("duration", result.Duration))
	return nil
}
