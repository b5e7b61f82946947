// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/kodiak/services/llm"
)

// timeoutSuffix is appended to partial answers cut off by a streaming
// timeout. Clients see an honest partial instead of an opaque failure.
const timeoutSuffix = "\n\n[Response interrupted due to timeout]"

// generateBlocking invokes the generator once under the overall timeout.
// A timeout with no text propagates as a TimeoutError.
func (p *Pipeline) generateBlocking(ctx context.Context, messages []llm.Message) (string, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.generateBlocking")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.config.GenerateTimeout)
	defer cancel()

	answer, err := p.generator.Chat(ctx, messages, llm.GenerationParams{})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", newTimeoutError("generate", "", err)
		}
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// generateStreaming invokes the generator in streaming mode.
//
// # Description
//
// Three timeout layers apply: the overall generate timeout, a first-chunk
// timeout, and a per-chunk gap timeout. When a timeout fires after text
// has been produced, the partial text is returned with an explicit
// interruption suffix and the stream stops; a timeout with zero text
// propagates as a TimeoutError. A caller cancellation (client hung up)
// returns the partial text as-is, without the suffix, alongside the
// cancellation error. The onChunk callback forwards each chunk to the
// transport; its error aborts generation (client gone).
func (p *Pipeline) generateStreaming(ctx context.Context, messages []llm.Message, onChunk func(string) error) (string, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.generateStreaming")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.config.GenerateTimeout)
	defer cancel()

	// The chunk-gap timer signals a timeout by canceling the stream
	// context, so timerFired is what separates a genuine timeout from a
	// caller cancellation once ChatStream returns context.Canceled.
	var timerFired atomic.Bool
	var (
		mu     sync.Mutex
		full   strings.Builder
		gotAny bool
		timer  = time.AfterFunc(p.config.FirstChunkTimeout, func() {
			timerFired.Store(true)
			cancel()
		})
		sendErr error
	)
	defer timer.Stop()

	err := p.generator.ChatStream(ctx, messages, llm.GenerationParams{}, func(chunk string) error {
		mu.Lock()
		defer mu.Unlock()
		gotAny = true
		timer.Reset(p.config.ChunkTimeout)
		full.WriteString(chunk)
		if err := onChunk(chunk); err != nil {
			sendErr = err
			return err
		}
		return nil
	})

	mu.Lock()
	defer mu.Unlock()
	text := strings.TrimSpace(full.String())
	span.SetAttributes(attribute.Int("generate.chars", len(text)))

	if sendErr != nil {
		// Client went away mid-stream; the partial is still usable for
		// persistence.
		return text, sendErr
	}
	if err != nil {
		timedOut := timerFired.Load() ||
			errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
		if timedOut {
			if gotAny {
				span.SetAttributes(attribute.Bool("generate.partial", true))
				return text + timeoutSuffix, nil
			}
			return "", newTimeoutError("generate", "", err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			// The caller canceled; the partial is honest text, not a
			// model stall, so no interruption suffix.
			return text, err
		}
		return "", err
	}
	return text, nil
}
