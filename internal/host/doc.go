// Package host is the boundary between netbridge worker goroutines and the
// embedding application's single-threaded execution context.
//
// The host implements Invoker. Endpoints and sessions never call it directly;
// they call Bridge.Deliver, which holds one ordering lock around every
// invocation so the host is entered by at most one goroutine at a time:
//
//	bridge := host.NewBridge(host.InvokerFunc(func(target host.Handle, ev host.Event, args ...interface{}) error {
//	    fmt.Println(ev, args)
//	    return nil
//	}))
//	defer bridge.Shutdown()
//
// Events from one worker reach the host in the order the worker produced
// them. Events from different workers interleave, one whole delivery at a
// time.
package host
