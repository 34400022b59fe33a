package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v3"

	"github.com/kitokato77/cnc4-gs2/broadcast"
)

func main() {
	cmd := &cli.Command{
		Name:  "connect4-client",
		Usage: "play Connect Four against another terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Value:   "http://localhost:5001",
				Usage:   "room server base URL",
				Sources: cli.EnvVars("CONNECT4_SERVER"),
			},
			&cli.StringFlag{
				Name:     "player",
				Usage:    "your player name",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "room",
				Usage: "join this room instead of quick-joining",
			},
		},
		Action: play,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func play(ctx context.Context, cmd *cli.Command) error {
	api := newAPIClient(cmd.String("server"))
	player := cmd.String("player")

	roomID := cmd.String("room")
	if roomID == "" {
		id, err := api.QuickJoin(ctx, player)
		if err != nil {
			return fmt.Errorf("quick join: %w", err)
		}
		roomID = id
	} else if err := api.JoinRoom(ctx, player, roomID); err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	log.Printf("Seated in room %s", roomID)

	feed, err := api.feedURL(player, roomID)
	if err != nil {
		return err
	}
	c, _, err := websocket.DefaultDialer.DialContext(ctx, feed, nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer c.Close()

	if _, err := api.SetReady(ctx, player, roomID); err != nil {
		return fmt.Errorf("set ready: %w", err)
	}

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			var ev broadcast.Event
			if err := c.ReadJSON(&ev); err != nil {
				log.Println("Feed closed:", err)
				return
			}
			show(ev, player)
		}
	}()

	// Write loop
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	log.Println("Type a column number and press Enter to move, q to quit.")
	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return nil
		case text, ok := <-lines:
			if !ok || text == "q" {
				return nil
			}
			col, err := strconv.Atoi(text)
			if err != nil {
				log.Printf("Not a column: %q", text)
				continue
			}
			if _, err := api.MakeMove(ctx, player, roomID, col); err != nil {
				log.Println("Move rejected:", err)
			}
		}
	}
}

func show(ev broadcast.Event, me string) {
	switch ev.Type {
	case broadcast.EventSnapshot, broadcast.EventPlayerJoined, broadcast.EventPlayerReady:
		log.Printf("%s: players %v ready %v", ev.Type, ev.Room.Players, ev.Room.Ready)
	case broadcast.EventMove:
		if ev.Move != nil {
			log.Printf("%s dropped into column %d", ev.Move.Player, ev.Move.Col)
		}
		fmt.Print(render(ev.Room.Board))
		if ev.Room.Winner == nil && len(ev.Room.Players) == 2 && ev.Room.Players[ev.Room.Turn] == me {
			log.Println("Your turn.")
		}
	case broadcast.EventGameOver:
		if *ev.Room.Winner == me {
			log.Println("You won!")
		} else {
			log.Printf("%s won.", *ev.Room.Winner)
		}
	}
}
