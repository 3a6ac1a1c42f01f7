// Package hostfunc provides the Go functions sandboxed scripts may call.
//
// Scripts have no implicit access to system resources. Every capability is a
// named [Func] in a [Registry]; an interpreter exposes the registry to the
// script and nothing else.
//
// # Registry
//
//	registry := hostfunc.NewDefaultRegistry(hostfunc.NewKV(hostfunc.DefaultKVConfig()))
//	registry.Register("my_func", func(ctx context.Context, args map[string]any) (any, error) {
//	    return "result", nil
//	})
//
// [NewDefaultRegistry] registers time_now and, given a [KV], kv_get, kv_set,
// kv_delete and kv_keys.
//
// # HTTP
//
// Network access is off unless hosts are allowed:
//
//	h := hostfunc.NewHTTP(hostfunc.HTTPConfig{
//	    AllowedHosts: []string{"api.example.com"},
//	})
//	registry.Register("http_request", h.Request)
//
// A host matches itself and its subdomains. Idempotent methods are retried
// on transient failures; POST and PATCH are sent once.
//
// # Limits
//
// The KV store bounds key size, value size and entry count. HTTP bounds URL
// length, response body size and request time.
package hostfunc
