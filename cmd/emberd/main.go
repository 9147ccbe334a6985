// Command emberd runs a small example server: a couple of HTTP routes
// and a WebSocket echo/broadcast endpoint on a "chat" channel.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/emberhttp/emberd/server"
)

func main() {
	port := flag.Int("port", 8080, "listen port")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	opts := server.NewOptions()
	opts.Port = *port
	opts.Logger = server.NewStdLogger(*debug, false)

	srv, err := server.NewServer(opts)
	if err != nil {
		log.Fatalf("configure server: %v", err)
	}

	srv.Get("/health", func(req *server.Request) error {
		return req.JSON(200, map[string]string{"status": "ok"})
	})

	srv.Get("/echo/:word", func(req *server.Request) error {
		word, _ := req.Param("word")
		return req.Send(200, "text/plain; charset=utf-8", []byte(word))
	})

	srv.WS("/chat", func(ws *server.WSConn, ev server.WSEvent) error {
		switch ev.Type {
		case server.WSEventOpen:
			ws.Join("chat")
		case server.WSEventMessage:
			srv.Publish("chat", 0x1, ev.Message.Payload)
		case server.WSEventClose:
			ws.LeaveAll()
		}
		return nil
	}, 0)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("emberd listening on :%d", *port)
	if err := srv.Serve(ctx); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
