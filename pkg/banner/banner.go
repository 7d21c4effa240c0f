package banner

import (
	"fmt"
	"time"

	"portico/pkg/config"
)

const banner = `
██████╗  ██████╗ ██████╗ ████████╗██╗ ██████╗ ██████╗
██╔══██╗██╔═══██╗██╔══██╗╚══██╔══╝██║██╔════╝██╔═══██╗
██████╔╝██║   ██║██████╔╝   ██║   ██║██║     ██║   ██║
██╔═══╝ ██║   ██║██╔══██╗   ██║   ██║██║     ██║   ██║
██║     ╚██████╔╝██║  ██║   ██║   ██║╚██████╗╚██████╔╝
╚═╝      ╚═════╝ ╚═╝  ╚═╝   ╚═╝   ╚═╝ ╚═════╝ ╚═════╝
`

func Print(addr, kvPath, sources, version string) {
	// Deprecated: previous signature printed explicit fields. Newer callers
	// pass an effective config so we can display runtime info (engine,
	// config sources) centrally.
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("KV Path:  %s\n", kvPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if sources != "" {
		fmt.Printf("Config sources: %s\n", sources)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /healthz - Liveness probe")
	fmt.Println("ANY  /v1/echo - Echo the canonical request back as JSON")
	fmt.Println("GET/PUT/DELETE /v1/kv/{key} - Durable key-value bindings")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/echo' -d '{\"hello\":\"world\"}'\n", addr)
	fmt.Printf("curl -X PUT 'http://localhost%s/v1/kv/greeting' -d 'hello'\n", addr)
	fmt.Printf("curl 'http://localhost%s/v1/kv/greeting'\n", addr)
}

// PrintWithEff prints the banner using an EffectiveConfigResult which
// provides richer context (config, addr, kv path, source).
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	var addr = eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	var kvPath = eff.KVPath
	if kvPath == "" && eff.Config != nil {
		kvPath = eff.Config.Edge.KVPath
	}
	var src = eff.Source
	if src == "" {
		src = "flags"
	}
	engine := "nethttp"
	if eff.Config != nil {
		engine = eff.Config.Engine()
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("Engine:   %s\n", engine)
	fmt.Printf("KV Path:  %s\n", kvPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config: %s\n", src)

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /healthz - Liveness probe")
	fmt.Println("ANY  /v1/echo - Echo the canonical request back as JSON")
	fmt.Println("GET/PUT/DELETE /v1/kv/{key} - Durable key-value bindings")
	fmt.Println("Ops listener: /metrics, /docs, /openapi.yaml")

	fmt.Println("\n== Examples ===================================================")
	fmt.Println("curl -X POST 'http://<host>:<port>/v1/echo' -d '{\"hello\":\"world\"}'")
	fmt.Println("curl -X PUT 'http://<host>:<port>/v1/kv/greeting' -d 'hello'")

	fmt.Println("\n== Production? =================================================")
	if eff.Config != nil && eff.Config.Adapter.Production {
		fmt.Println("- Production mode: on (error detail hidden)")
	} else {
		fmt.Println("- Production mode: off (error responses carry detail)")
	}
	var timeout time.Duration
	if eff.Config != nil {
		timeout = eff.Config.Adapter.Timeout.Duration()
	}
	switch {
	case timeout > 0:
		fmt.Printf("- Request timeout: %s\n", timeout)
	case timeout < 0:
		fmt.Println("- Request timeout: disabled (kernel calls may run unbounded)")
	default:
		fmt.Println("- Request timeout: default (30s)")
	}
	var bodyCap int64
	if eff.Config != nil {
		bodyCap = eff.Config.Adapter.MaxBodyBytes.Int64()
	}
	switch {
	case bodyCap > 0:
		fmt.Printf("- Body cap: %d bytes\n", bodyCap)
	case bodyCap < 0:
		fmt.Println("- Body cap: disabled (uploads are unbounded)")
	default:
		fmt.Println("- Body cap: default (1MiB)")
	}
	if kvPath != "" {
		fmt.Printf("- KV Path: %s\n", kvPath)
	} else {
		fmt.Println("- KV Path: not set (use --kv or PORTICO_KV_PATH; /v1/kv falls back to memory)")
	}
	if eff.Config != nil && eff.Config.Edge.Cron != "" {
		fmt.Printf("- Scheduled runs: enabled (cron=%s)\n", eff.Config.Edge.Cron)
	} else {
		fmt.Println("- Scheduled runs: disabled")
	}

	fmt.Println("\n== Logs: =================================================")
}
