// Package svg2tgs implements a Telegram bot that converts user-submitted
// SVG files into TGS animated stickers.
//
// Users send 512×512 SVG documents to the bot; submissions arriving in a
// burst are coalesced into a single batch per user, validated, converted
// and returned as .tgs files, with live progress reported by editing a
// single status message.
//
// Key components of the package include:
//
//   - Bot: The main struct that encapsulates the bot's core functionality.
//   - Telegram: Handles the Telegram connection and message delivery.
//   - Coalescer: Merges bursty per-user submissions into batches using a
//     quiescence window.
//   - BatchProcessor: Validates and converts each item of a flushed batch,
//     reporting per-item and aggregate results.
//   - SVGValidator: Checks dimensional conformance of submitted files.
//   - ConverterChain: Ordered conversion strategies (external
//     lottie_convert.py, then an in-process raster fallback).
//   - Database: Handles data persistence (users, conversion activity).
//
// The bot supports the commands /start and /help for all users, plus the
// admin-only commands /ban, /unban, /stats and /broadcast.
//
// A small HTTP status API (gin) exposes health and usage statistics,
// replacing the web endpoint of earlier deployments.
package svg2tgs
