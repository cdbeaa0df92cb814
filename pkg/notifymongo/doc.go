// Package notifymongo provides the MongoDB-backed notification storage and
// device token store.
//
// It implements the same notify.Storage and notify.TokenStore contracts as
// the PostgreSQL adapter, expressed over a notifications collection and an
// accounts collection. Pending push selection uses an aggregation $lookup
// to join the recipient's device token in a single round trip.
//
// Usage:
//
//	db, err := notifymongo.Connect(ctx, cfg, "app")
//	if err != nil {
//	    return err
//	}
//	storage := notifymongo.NewStorage(db)
//	tokens := notifymongo.NewTokenStore(db)
package notifymongo
