package svg2tgs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

const (
	batchStatusInitial = "⏳ Please wait..."

	itemFailedConversion = "Conversion failed. Please try again."
	itemFailedProcessing = "Processing error occurred."

	noneConvertedMessage = "❌ No files were successfully converted."
)

func pluralSuffix(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func batchStartMessage(total int) string {
	return fmt.Sprintf("🔄 Processing %d file%s...", total, pluralSuffix(total))
}

func batchProgressMessage(current int, total int) string {
	return fmt.Sprintf(
		"🔄 Processing %d/%d file%s...",
		current, total, pluralSuffix(total),
	)
}

func batchCompletionMessage(converted int, total int) string {
	switch {
	case converted == 0:
		return noneConvertedMessage
	case converted == total:
		return fmt.Sprintf(
			"✅ Done! Successfully converted %d/%d file%s.",
			converted, total, pluralSuffix(total),
		)
	default:
		return fmt.Sprintf(
			"⚠️ Partially completed: %d/%d file%s converted.",
			converted, total, pluralSuffix(total),
		)
	}
}

func itemFailureMessage(filename string, reason string) string {
	return fmt.Sprintf("❌ **%s**: %s", filename, reason)
}

// tgsFileName swaps the submitted file's extension for .tgs
func tgsFileName(svgName string) string {
	if idx := strings.LastIndex(svgName, "."); idx > 0 {
		return svgName[:idx] + ".tgs"
	}
	return svgName + ".tgs"
}

// BatchProcessor runs flushed batches: it downloads, validates,
// converts and delivers each item in submission order, reporting
// progress by editing a single status message. One item failing never
// stops the rest of the batch.
type BatchProcessor struct {
	db             DBI
	messenger      Messenger
	validator      SVGValidator
	converter      *ConverterChain
	convertTimeout time.Duration
	logger         *slog.Logger
}

func NewBatchProcessor(
	db DBI,
	messenger Messenger,
	validator SVGValidator,
	converter *ConverterChain,
	convertTimeout time.Duration,
	logger *slog.Logger,
) *BatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if convertTimeout <= 0 {
		convertTimeout = DefaultConvertTimeout
	}
	return &BatchProcessor{
		db:             db,
		messenger:      messenger,
		validator:      validator,
		converter:      converter,
		convertTimeout: convertTimeout,
		logger:         logger.With(loggerNameKey, "batch"),
	}
}

// Process handles one batch from start to finish. It always writes
// exactly one ConversionLog row, whatever the outcome.
//
// A flushed batch runs to completion: cancellation of the caller's
// context stops new batches from being flushed, not ones already
// accepted, so the user's submissions are never silently dropped.
// Shutdown waits for in-flight batches instead of canceling them.
func (p *BatchProcessor) Process(ctx context.Context, batch Batch) {
	log := p.logger.With(batchLogAttrs(batch)...)
	ctx = WithLogger(context.WithoutCancel(ctx), log)

	total := len(batch.Items)
	if total == 0 {
		return
	}
	log.InfoContext(ctx, "processing batch")
	started := time.Now()

	converted := 0
	defer func() {
		record := &ConversionLog{
			BatchID:        batch.ID,
			UserID:         batch.UserID,
			ChatID:         batch.ChatID,
			FilesRequested: total,
			FilesConverted: converted,
		}
		if _, err := p.db.Create(ctx, record); err != nil {
			log.ErrorContext(ctx, "error recording conversion log", tint.Err(err))
		}
		log.InfoContext(
			ctx,
			"batch finished",
			"converted", converted,
			"requested", total,
			"elapsed", time.Since(started),
		)
	}()

	statusID, err := p.messenger.SendMessage(ctx, batch.ChatID, batchStatusInitial)
	if err != nil {
		// Without a status message there's nothing to edit, but the
		// conversions themselves can still proceed.
		log.WarnContext(ctx, "error sending status message", tint.Err(err))
		statusID = 0
	}

	p.editStatus(ctx, batch.ChatID, statusID, batchStartMessage(total))

	for i, item := range batch.Items {
		if p.processItem(ctx, batch.ChatID, item) {
			converted++
		}
		p.editStatus(
			ctx,
			batch.ChatID,
			statusID,
			batchProgressMessage(i+1, total),
		)
	}

	p.editStatus(
		ctx,
		batch.ChatID,
		statusID,
		batchCompletionMessage(converted, total),
	)
}

// processItem converts a single submission, reporting its failure to
// the user if anything goes wrong. Returns true if a sticker was
// delivered.
func (p *BatchProcessor) processItem(
	ctx context.Context,
	chatID int64,
	item BatchItem,
) bool {
	log, ok := ContextLogger(ctx)
	if !ok || log == nil {
		log = p.logger
	}
	log = log.With("file_name", item.FileName, "file_size", item.FileSize)

	content, err := p.messenger.DownloadFile(ctx, item.FileID)
	if err != nil {
		log.ErrorContext(ctx, "error downloading file", tint.Err(err))
		p.sendItemFailure(ctx, chatID, item.FileName, itemFailedProcessing)
		return false
	}

	if err = p.validator.Validate(content); err != nil {
		log.InfoContext(ctx, "file failed validation", tint.Err(err))
		p.sendItemFailure(
			ctx,
			chatID,
			item.FileName,
			err.Error()+"\nUse /help for dimension requirements.",
		)
		return false
	}

	convertCtx, cancel := context.WithTimeout(ctx, p.convertTimeout)
	tgs, err := p.converter.Convert(convertCtx, content)
	cancel()
	if err != nil {
		log.ErrorContext(ctx, "conversion failed", tint.Err(err))
		p.sendItemFailure(ctx, chatID, item.FileName, itemFailedConversion)
		return false
	}

	if err = p.messenger.SendDocument(
		ctx,
		chatID,
		tgsFileName(item.FileName),
		tgs,
	); err != nil {
		log.ErrorContext(ctx, "error sending sticker", tint.Err(err))
		p.sendItemFailure(ctx, chatID, item.FileName, itemFailedProcessing)
		return false
	}

	log.InfoContext(ctx, "converted file", "tgs_size", len(tgs))
	return true
}

func (p *BatchProcessor) sendItemFailure(
	ctx context.Context,
	chatID int64,
	filename string,
	reason string,
) {
	if _, err := p.messenger.SendMessage(
		ctx,
		chatID,
		itemFailureMessage(filename, reason),
	); err != nil {
		if log, ok := ContextLogger(ctx); ok && log != nil {
			log.WarnContext(ctx, "error sending failure message", tint.Err(err))
		}
	}
}

// editStatus updates the batch status message, tolerating failures
// (Telegram rejects edits with identical text, among other things).
func (p *BatchProcessor) editStatus(
	ctx context.Context,
	chatID int64,
	messageID int,
	text string,
) {
	if messageID == 0 {
		return
	}
	if err := p.messenger.EditMessage(ctx, chatID, messageID, text); err != nil {
		if log, ok := ContextLogger(ctx); ok && log != nil {
			log.DebugContext(ctx, "error editing status message", tint.Err(err))
		}
	}
}
