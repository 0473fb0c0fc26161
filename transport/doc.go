// Package transport is the outbound HTTP layer used to talk to model-serving
// backends.
//
// It issues blocking request/response calls and long-lived streaming calls
// (Server-Sent Events and newline-delimited JSON) against arbitrary HTTP(S)
// endpoints, maps every failure onto the *Error taxonomy, traverses HTTP,
// SOCKS4 and SOCKS5 proxies, and tracks transports in a Factory so their
// connection pools can be shut down together.
//
// Two backends implement Transport:
//   - NetHTTPTransport, built on net/http (HTTP/2 when offered)
//   - WireTransport, a pooled HTTP/1.1 client on raw connections
//
// Both are safe for concurrent use and behave the same for every call.
//
// Example usage:
//
//	t := transport.NewNetHTTPTransport(transport.Config{
//	    ReadTimeout: 2 * time.Minute,
//	})
//	defer t.Close()
//
//	req, _ := transport.NewRequest("POST", "https://api.openai.com/v1/chat/completions",
//	    transport.WithHeader("Authorization", "Bearer sk-..."),
//	    transport.WithJSONBody(payload),
//	)
//	s := t.Stream(ctx, req)
//	defer s.Close()
//	for chunk := range s.Chunks() {
//	    fmt.Println(chunk)
//	}
//	if err := s.Err(); err != nil {
//	    if te, ok := transport.AsError(err); ok && te.IsRetryable() {
//	        // back off and try again
//	    }
//	}
package transport
