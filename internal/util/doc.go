// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides shared helpers for the parley client: atomic file
// persistence, width-aware string handling, and numeric formatting.
package util
