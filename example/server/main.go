/*
Srv starts a few basic routes, activates the process-wide call
interception and issues a request against each route, dumping the
captured records to stdout.

Usage:

	srv [flags]

The flags are:

	-p [port_number]
	    To select the port number where we want to run the demo routes

	-l [level]
	    To select the logging level

	-v
	    To dump the full in-progress record on capture errors
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luraproject/lura/v2/logging"

	"github.com/callsight/callsight"
	"github.com/callsight/callsight/config"
	"github.com/callsight/callsight/state"
)

func main() {
	port := flag.Int("p", 8080, "Port of the demo routes")
	logLevel := flag.String("l", "DEBUG", "Logging level")
	verbose := flag.Bool("v", false, "Dump the full record on capture errors")
	flag.Parse()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case sig := <-sigs:
			log.Println("Signal intercepted:", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger, _ := logging.NewLogger(*logLevel, os.Stdout, "[CALLSIGHT]")

	bodyLimit := int64(1024)
	cfg := &config.ConfigData{
		ServiceName: "callsight-demo",
		Capture: &config.CaptureOpts{
			BodyLimit:     &bodyLimit,
			VerboseErrors: *verbose,
		},
	}
	shutdownFn, err := callsight.RegisterWithConfig(ctx, logger, cfg)
	if err != nil {
		fmt.Printf("--- failed to register: %s\n", err.Error())
		return
	}
	defer shutdownFn()

	engine := gin.Default()
	engine.GET("/plain", func(c *gin.Context) {
		c.String(http.StatusOK, "plain payload")
	})
	engine.GET("/chunked", func(c *gin.Context) {
		c.Header("Content-Type", "text/plain")
		c.Writer.WriteString("chu")
		c.Writer.Flush()
		c.Writer.WriteString("nked")
	})
	engine.GET("/large", func(c *gin.Context) {
		c.String(http.StatusOK, strings.Repeat("x", 10*1024))
	})
	engine.POST("/echo", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.Data(http.StatusOK, c.ContentType(), body)
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: engine,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Println("server stopped:", err)
		}
	}()
	defer srv.Shutdown(context.Background())

	// every call below goes through the default client, so the
	// process-wide interception tracks all of them
	callsight.Activate()
	defer callsight.Deactivate()

	time.Sleep(200 * time.Millisecond) // let the routes come up

	base := fmt.Sprintf("http://localhost:%d", *port)
	for _, target := range []string{"/plain", "/chunked", "/large"} {
		resp, err := http.Get(base + target)
		if err != nil {
			logger.Error("[demo]", target, err.Error())
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	resp, err := http.Post(base+"/echo", "text/plain", strings.NewReader("echo me back"))
	if err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	// a lookup that cannot succeed, to show the error path
	http.Get("http://this-host-does-not-exist.invalid/")

	for _, rec := range state.GlobalCollector().Snapshot() {
		out, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Printf("--- record #%d ---\n%s\n", rec.Sequence, out)
	}
}
