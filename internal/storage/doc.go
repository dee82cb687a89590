package storage

// Package storage provides a minimal persistence layer used by the bot.
//
// It currently supports:
//   - Per-user language preference (ru/en)
//   - Append-only archive of delivered facts (with pruning)
