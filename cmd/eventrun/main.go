// eventrun feeds one event JSON through the faas adapter against the demo
// kernel and prints the resulting envelope: a development aid for checking
// how the three event shapes translate.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"portico/internal/app"
	"portico/pkg/adapter"
	"portico/pkg/adapter/faas"
	"portico/pkg/logger"
)

func main() {
	var file string
	flag.StringVar(&file, "file", "", "event JSON path (default: stdin)")
	production := flag.Bool("production", false, "hide internal error detail the way a production deployment would")
	flag.Parse()

	if file == "" && flag.NArg() > 0 {
		file = flag.Arg(0)
	}

	logger.Init()

	payload, err := readPayload(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read event: %v\n", err)
		os.Exit(2)
	}

	h := app.NewKernel(app.KernelDeps{Version: "eventrun"})
	ad, err := faas.New(adapter.Config{Handler: h, Production: *production})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build adapter: %v\n", err)
		os.Exit(1)
	}

	out, err := ad.Invoke(context.Background(), payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invoke: %v\n", err)
		os.Exit(1)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, out, "", "  "); err != nil {
		fmt.Println(string(out))
		return
	}
	fmt.Println(pretty.String())
}

func readPayload(file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}
