// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the value types shared by the feed engine: content items
// as received from the event network, subscription descriptors, per-item load
// state and the immutable snapshots handed to consumers.
package model
