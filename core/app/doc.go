// Package app provides a high-level API for assembling a CQRS application
// from the event store, the command and query buses, the outbox processor
// and event consumers.
//
// # Basic Usage
//
//	a, err := app.Run(app.Config{
//	    Store: es.NewInMemoryStore(log),
//	    Outbox: &app.OutboxConfig{
//	        Store:     outboxStore,
//	        Publisher: publisher,
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	bus.RegisterCommand(a.Commands(), handleCreateOrder)
//	res, err := a.Commands().Execute(ctx, CreateOrder{...})
//
//	// Graceful shutdown
//	a.Shutdown(ctx)
//
// Consumers registered with AddConsumer are started with the app and stopped
// before the outbox processor during shutdown.
package app
