// Package app is the composition root of the client.
//
// New picks collaborators for the configured mode:
//
//	mock     in-process auth, memory stores seeded from internal/fixtures,
//	         memory blob storage and a placeholder image picker
//	backend  supabase/client against a Supabase-compatible backend, with
//	         internal/store/supabase as the table and storage layer
//
// Flows never talk to each other directly. The session store is the only
// writer of who is signed in; the router, post service and profile editor
// read it.
package app
