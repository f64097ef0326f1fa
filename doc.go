// Package apiclient is the HTTP client the CRM front end uses to talk to its
// REST backend. Each client is bound to one resource module and sends every
// request to {API_BASE_URL}/api{module}{endpoint}.
//
// On top of net/http it adds:
//   - Cookie-carrying requests with JSON defaults and a 15s timeout
//   - Retry of GET requests on 429/502/503/504, at most twice, honoring
//     Retry-After (capped at 15s) or exponential backoff with jitter
//   - A single normalized error type (*Error) for every failure
//   - A session guard that fires the logout handler once per 401 storm and
//     redirects to the offline route once when the backend is unreachable
//   - Optional token-bucket throttling (golang.org/x/time/rate)
//
// Typical wiring at process start:
//
//	env := apiclient.MustLoadEnv()
//	apiclient.RegisterLogoutHandler(func() { session.Clear(); router.Go("/login") })
//	backend, err := apiclient.NewBackend(env.BaseURL, env.Options()...)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	leads := backend.Module("lead")
//	resp, err := leads.Get(ctx, "/all")
package apiclient
