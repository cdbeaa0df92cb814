// Package notifypg implements the notify.Storage and notify.TokenStore
// contracts on PostgreSQL via pgx.
//
// The notifications table is owned by this package and created by the
// embedded goose migration. The accounts table (device tokens) belongs to
// the account subsystem; this package only reads it and performs the
// conditional token clears - it never migrates it.
//
//	pool, err := notifypg.Connect(ctx, cfg)
//	if err != nil { ... }
//	if err := notifypg.Migrate(ctx, pool, log); err != nil { ... }
//
//	storage := notifypg.NewStorage(pool)
//	tokens := notifypg.NewTokenStore(pool)
package notifypg
