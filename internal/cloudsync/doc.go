// Package cloudsync keeps the local library store and the cloud copy of the
// library in step.
//
// The engine:
//  1. Listens to committed local writes and schedules a debounced push
//  2. Queues item changes durably while the cloud cannot be reached
//  3. Drains the queue when connectivity or authentication returns
//  4. Pulls remote rows and smart-merges them into the local store
//  5. Publishes a Status snapshot to subscribers after every transition
//
// Every sync operation is gated on
//
//	canSync = online && authenticated && !authRequired
//
// When the gate is closed the public sync methods return immediately with a
// nil error and make no remote calls. An *remote.AuthError closes the gate
// (authRequired) until SetAuthenticated(true) is called again.
//
// There is no automatic retry or backoff. A failed cycle records its error in
// the status; the next debounce window, a reconnect or TriggerSync retries.
//
// Usage:
//
//	eng, err := cloudsync.New(st, remote.NewAdapter(backend, nil), cfg)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	eng.SetAuthenticated(true)
//	go eng.WatchConnectivity(ctx, 30*time.Second)
package cloudsync
