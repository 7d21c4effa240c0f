// Minimal health kernel served through the net/http engine, for measuring
// adapter overhead against the fasthttp variant.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"portico/pkg/adapter"
	"portico/pkg/adapter/httpserver"
	"portico/pkg/kernel"
	"portico/pkg/logger"
)

func main() {
	addr := flag.String("addr", ":8082", "listen address")
	ver := flag.String("version", "dev", "version string to return")
	flag.Parse()

	logger.Init()

	srv, err := httpserver.New(
		adapter.Config{Handler: healthKernel(*ver)},
		httpserver.WithEngine(httpserver.EngineNetHTTP),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build server: %v\n", err)
		os.Exit(1)
	}
	if err := srv.StartServer(*addr); err != nil {
		fmt.Fprintf(os.Stderr, "start: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("net/http health probe listening on %s\n", srv.Addr())
	if err := <-srv.Err(); err != nil {
		fmt.Printf("server exit: %v\n", err)
		os.Exit(1)
	}
}

// healthKernel answers /health and /healthz; everything else is 404. Kept
// lean so the probe measures engine and dispatch overhead, not app work.
func healthKernel(ver string) kernel.Handler {
	body := []byte(`{"status":"ok","version":"` + ver + `"}`)
	return kernel.HandlerFunc(func(req *kernel.Request, w *kernel.ResponseWriter, _ []byte) error {
		switch req.Path() {
		case "/health", "/healthz":
			w.SetHeader("content-type", "application/json")
			w.WriteHead(http.StatusOK, nil)
			_, _ = w.Write(body)
		default:
			w.WriteHead(http.StatusNotFound, nil)
		}
		return w.End(nil)
	})
}
