// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app holds the client application state shared by every front end.
//
// A State owns the live conversation, the pending attachments and the UI
// preferences, and connects them to the relay and the session archive.
//
// # Key Types
//
//   - State: the application core
//   - Deps: everything New needs
//   - Relay: the relay operations the state calls (*api.Client)
//   - Prefs: persisted theme and sidebar settings
//
// # Usage
//
//	st, err := app.New(app.Deps{Archive: archive, Prefs: kv, Relay: client})
//	if err != nil {
//	    return err
//	}
//	err = st.Send(ctx, "Hello", func(ev app.Event) { redraw() })
package app
