package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/burnroom/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:28881/ws", "WebSocket address")
	room := flag.String("room", "smoke", "room id")
	name := flag.String("name", "tester", "display name")
	pass := flag.String("pass", "", "room password")
	duration := flag.Int("duration", 5, "room lifetime in minutes when the room is created")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	target, err := url.Parse(*addr)
	if err != nil {
		return fmt.Errorf("parse addr: %w", err)
	}
	q := target.Query()
	q.Set("room", *room)
	q.Set("name", *name)
	q.Set("pass", *pass)
	q.Set("duration", strconv.Itoa(*duration))
	target.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, target.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	sent := false
	for {
		var outbound proto.Outbound
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				return fmt.Errorf("closed by server: %d", status)
			}
			return fmt.Errorf("read: %w", err)
		}
		printOutbound(outbound)

		switch outbound.Type {
		case proto.OutboundTypeError:
			return errors.New(outbound.Message)
		case proto.OutboundTypeMembers:
			if sent {
				continue
			}
			if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeChat, Text: *text}); err != nil {
				return fmt.Errorf("send: %w", err)
			}
			sent = true
		case proto.OutboundTypeChat:
			if outbound.Name == *name && outbound.Text == *text {
				fmt.Println("smoke test ok")
				return nil
			}
		}
	}
}

func printOutbound(out proto.Outbound) {
	fmt.Printf("received type=%s", out.Type)
	if out.Text != "" {
		fmt.Printf(" text=%q", out.Text)
	}
	if out.Code != "" {
		fmt.Printf(" code=%s", out.Code)
	}
	if len(out.Members) > 0 {
		fmt.Printf(" members=%d", len(out.Members))
	}
	fmt.Println()
}
