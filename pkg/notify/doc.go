// Package notify converts domain events into durable notification records
// and fans them out across three independent delivery channels: a storage
// backend, a realtime bus for connected sessions, and a mobile push gateway
// for offline devices.
//
// # Failure isolation
//
// Storage is the only channel whose failure reaches the caller: without a
// persisted row nothing can be retried. Realtime and push failures are
// logged and absorbed - a notification is returned to the triggering domain
// action as soon as it is stored, and the Sweeper later re-drives any push
// the coordinator could not complete.
//
// # Architecture
//
//   - Storage: persistence contract (memory fake here; pg/mongo adapters in
//     notifypg and notifymongo)
//   - TokenStore: read + race-safe conditional clear of device credentials
//     owned by the account aggregate
//   - Service: create/fan-out orchestration with detached background
//     dispatch
//   - Sweeper: externally triggered retry pass for previously-unsent pushes
//
// # Basic usage
//
//	tokens := notify.NewMemoryTokenStore()
//	storage := notify.NewMemoryStorage(tokens)
//	gateway := push.New(push.NewHTTPProvider(cfg.Endpoint))
//
//	svc := notify.NewService(storage,
//	    notify.WithBus(realtime.NewMemoryBus(64)),
//	    notify.WithGateway(gateway),
//	    notify.WithTokenStore(tokens),
//	)
//
//	n, err := svc.Create(ctx, notify.CreateParams{
//	    RecipientID: userID,
//	    Title:       "New incident assigned",
//	    Body:        "Cooling failure in rack B4",
//	    Category:    notify.CategoryIncident,
//	    Priority:    notify.PriorityHigh,
//	})
//
// The returned notification is already persisted; realtime and push
// delivery happen in the background. Call svc.Wait during shutdown (or in
// tests) to join on in-flight dispatches.
package notify
